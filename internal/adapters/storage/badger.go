// Package storage persists workflow definitions and execution snapshots.
// The badger store is the durable adapter; Memory backs tests and
// embedded use without a data directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"

	"github.com/fluxwire-io/fluxwire/internal/domain"
)

const (
	workflowPrefix  = "workflow:"
	executionPrefix = "execution:"
	byWorkflowIndex = "execution:by-workflow:"
)

type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// OpenBadger opens (or creates) a badger database at path.
func OpenBadger(path string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}

	return &BadgerStore{
		db:     db,
		logger: logger.With("component", "badger-store"),
	}, nil
}

func (s *BadgerStore) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	if wf == nil || wf.ID == "" {
		return fmt.Errorf("%w: workflow without id", domain.ErrInvalidInput)
	}
	raw, err := json.Marshal(wf)
	if err != nil {
		return domain.NewWorkflowError(wf.ID, "marshal", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(workflowPrefix+wf.ID), raw)
	})
}

func (s *BadgerStore) LoadWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(workflowPrefix + id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: workflow %s", domain.ErrNotFound, id)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &wf)
		})
	})
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *BadgerStore) SaveExecution(ctx context.Context, exec *domain.Execution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("%w: execution without id", domain.ErrInvalidInput)
	}
	raw, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution %s: %w", exec.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(executionPrefix+exec.ID), raw); err != nil {
			return err
		}
		// Secondary index for listing a workflow's executions by prefix scan.
		indexKey := byWorkflowIndex + exec.WorkflowID + ":" + exec.ID
		return txn.Set([]byte(indexKey), []byte(exec.ID))
	})
}

func (s *BadgerStore) LoadExecution(ctx context.Context, id string) (*domain.Execution, error) {
	var exec domain.Execution
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(executionPrefix + id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: execution %s", domain.ErrNotFound, id)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &exec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

func (s *BadgerStore) ListExecutions(ctx context.Context, workflowID string) ([]*domain.Execution, error) {
	var ids []string
	prefix := []byte(byWorkflowIndex + workflowID + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	executions := make([]*domain.Execution, 0, len(ids))
	for _, id := range ids {
		exec, err := s.LoadExecution(ctx, id)
		if err != nil {
			s.logger.Warn("execution indexed but not loadable", "execution_id", id, "error", err)
			continue
		}
		executions = append(executions, exec)
	}
	return executions, nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrClosed
	}
	s.closed = true
	return s.db.Close()
}
