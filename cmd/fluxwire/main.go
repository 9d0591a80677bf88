// Command fluxwire validates and runs workflow definitions from JSON
// files. It carries no real network capabilities; run stubs every
// opaque block type with a handler that echoes its resolved parameters,
// which is enough to smoke-test control flow, templates and branching.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fluxwire-io/fluxwire"
	"github.com/fluxwire-io/fluxwire/internal/xjson"
)

var (
	verbose  bool
	dataDir  string
	inputs   []string
	noEvents bool
)

func main() {
	root := &cobra.Command{
		Use:           "fluxwire",
		Short:         "Workflow graph compiler and execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	validateCmd := &cobra.Command{
		Use:   "validate <workflow.json>",
		Short: "Compile a workflow and report findings",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	runCmd := &cobra.Command{
		Use:   "run <workflow.json>",
		Short: "Execute a workflow and print the final snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runExecute,
	}
	runCmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "runtime input as key=value, value parsed as JSON when possible (repeatable)")
	runCmd.Flags().StringVar(&dataDir, "data", "", "persist workflows and executions to a Badger database at this path")
	runCmd.Flags().BoolVar(&noEvents, "quiet", false, "suppress progress events on stderr")

	root.AddCommand(validateCmd, runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadWorkflow(path string) (*fluxwire.Workflow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	var wf fluxwire.Workflow
	if err := xjson.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	return &wf, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	wf, err := loadWorkflow(args[0])
	if err != nil {
		return err
	}

	rt, err := fluxwire.New(fluxwire.DefaultConfig(), nil, newLogger())
	if err != nil {
		return err
	}
	defer rt.Close()

	result := rt.Compile(wf)
	for _, finding := range result.Errors {
		severity := "warning"
		if finding.Fatal() {
			severity = "error"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s: %s\n", severity, finding.Type, finding.Message)
	}
	if !result.Valid {
		return fmt.Errorf("workflow %s failed validation", wf.ID)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "workflow %s: %d nodes in %d levels\n",
		wf.ID, len(wf.Nodes), result.TotalLevels)
	for i, level := range result.ExecutionOrder {
		fmt.Fprintf(cmd.OutOrStdout(), "  level %d: %s\n", i, strings.Join(level, ", "))
	}
	return nil
}

func runExecute(cmd *cobra.Command, args []string) error {
	wf, err := loadWorkflow(args[0])
	if err != nil {
		return err
	}
	vars, err := parseInputs(inputs)
	if err != nil {
		return err
	}

	logger := newLogger()
	var rt *fluxwire.Runtime
	if dataDir != "" {
		rt, err = fluxwire.NewWithBadger(fluxwire.DefaultConfig(), dataDir, logger)
	} else {
		rt, err = fluxwire.New(fluxwire.DefaultConfig(), nil, logger)
	}
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := stubOpaqueBlocks(rt, wf); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	executionID, err := rt.Execute(ctx, wf, vars)
	if err != nil {
		return err
	}

	if !noEvents {
		events, cancel := rt.Subscribe(executionID)
		defer cancel()
		go func() {
			for ev := range events {
				line, err := xjson.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", ev.EventKind(), line)
			}
		}()
	}

	exec, err := rt.Wait(ctx, executionID)
	if err != nil {
		return err
	}

	out, err := xjson.MarshalIndent(exec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if exec.Status != fluxwire.StatusCompleted {
		return fmt.Errorf("execution %s finished %s", exec.ID, exec.Status)
	}
	return nil
}

// stubOpaqueBlocks registers an echo handler for every non-control block
// type the workflow references, so definitions run standalone without an
// embedding application.
func stubOpaqueBlocks(rt *fluxwire.Runtime, wf *fluxwire.Workflow) error {
	seen := map[string]bool{
		fluxwire.TypeStart:       true,
		fluxwire.TypeEnd:         true,
		fluxwire.TypeDelay:       true,
		fluxwire.TypeCondition:   true,
		fluxwire.TypeLoop:        true,
		fluxwire.TypeVariableSet: true,
	}
	for _, node := range wf.Nodes {
		if node.Type == "" || seen[node.Type] {
			continue
		}
		seen[node.Type] = true
		if err := rt.RegisterHandler(node.Type, fluxwire.HandlerFunc(
			func(_ context.Context, params map[string]fluxwire.Value, _ fluxwire.HandlerContext) (fluxwire.Value, error) {
				return params, nil
			})); err != nil {
			return err
		}
	}
	return nil
}

// parseInputs turns repeated key=value flags into a variable map. The
// value side is parsed as JSON when it parses, raw string otherwise, so
// -i retries=3 yields a number and -i target=10.0.0.1 a string.
func parseInputs(pairs []string) (map[string]fluxwire.Value, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]fluxwire.Value, len(pairs))
	for _, pair := range pairs {
		key, raw, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("bad input %q, want key=value", pair)
		}
		var parsed any
		if err := xjson.Unmarshal([]byte(raw), &parsed); err != nil {
			vars[key] = raw
			continue
		}
		vars[key] = parsed
	}
	return vars, nil
}
