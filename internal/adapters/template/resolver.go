// Package template is the single substitution point for {{name}} tokens
// in block parameters. Resolution happens immediately before dispatch,
// never at compile time, because values depend on prior node outputs and
// the current loop-iteration binding.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fluxwire-io/fluxwire/internal/domain"
)

// Identifiers may lead with a digit because node outputs are keyed by
// node id, and graph editors commonly assign numeric ids.
var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_][A-Za-z0-9_.-]*)\s*\}\}`)

// Resolver substitutes template tokens against a variable context. An
// identifier missing from the context is a resolution error; the node
// fails rather than silently keeping the literal token.
type Resolver struct{}

func New() *Resolver {
	return &Resolver{}
}

// Resolve walks every parameter value, substituting tokens inside
// strings and recursing into lists and maps. Non-string scalars pass
// through unchanged.
func (r *Resolver) Resolve(params map[string]domain.Value, vars map[string]domain.Value) (map[string]domain.Value, error) {
	if len(params) == 0 {
		return map[string]domain.Value{}, nil
	}
	resolved := make(map[string]domain.Value, len(params))
	for key, value := range params {
		out, err := r.resolveValue(value, vars)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		resolved[key] = out
	}
	return resolved, nil
}

// ResolveString substitutes tokens in a single string. A value that is
// exactly one token resolves to the variable's typed value, so a list
// variable can feed a loop's array parameter; tokens embedded in a
// larger string are stringified in place.
func (r *Resolver) ResolveString(s string, vars map[string]domain.Value) (domain.Value, error) {
	if name, ok := exactToken(s); ok {
		value, present := Lookup(name, vars)
		if !present {
			return nil, fmt.Errorf("undefined variable %q", name)
		}
		return value, nil
	}

	var missing string
	out := tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		name := tokenPattern.FindStringSubmatch(token)[1]
		value, present := Lookup(name, vars)
		if !present {
			if missing == "" {
				missing = name
			}
			return token
		}
		return domain.Stringify(value)
	})
	if missing != "" {
		return nil, fmt.Errorf("undefined variable %q", missing)
	}
	return out, nil
}

// Lookup resolves an identifier against the context. A literal key
// always wins; otherwise dots descend into map values, so {{scan.rtt}}
// reaches inside the "scan" node's output.
func Lookup(name string, vars map[string]domain.Value) (domain.Value, bool) {
	if value, ok := vars[name]; ok {
		return value, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}

	parts := strings.Split(name, ".")
	current, ok := vars[parts[0]]
	if !ok {
		return nil, false
	}
	for _, part := range parts[1:] {
		m, isMap := current.(map[string]domain.Value)
		if !isMap {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func (r *Resolver) resolveValue(value domain.Value, vars map[string]domain.Value) (domain.Value, error) {
	switch t := value.(type) {
	case string:
		return r.ResolveString(t, vars)
	case []domain.Value:
		out := make([]domain.Value, len(t))
		for i, item := range t {
			resolved, err := r.resolveValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]domain.Value:
		out := make(map[string]domain.Value, len(t))
		for k, item := range t {
			resolved, err := r.resolveValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// exactToken reports whether s consists of exactly one template token,
// returning the identifier when it does.
func exactToken(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	match := tokenPattern.FindStringSubmatch(trimmed)
	if match == nil || match[0] != trimmed {
		return "", false
	}
	return match[1], true
}
