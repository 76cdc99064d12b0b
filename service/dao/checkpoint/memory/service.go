package memory

import (
	"context"
	"sync"

	"github.com/tripcast/tripcast/internal/clock"
	"github.com/tripcast/tripcast/model"
	"github.com/tripcast/tripcast/service/dao/checkpoint"
)

type entry struct {
	record checkpoint.Record
	tables model.Tables
}

// Service implements an in-memory checkpoint store, used for single-run
// pipelines and tests.
type Service struct {
	mu      sync.RWMutex
	entries []entry
}

// Ensure Service implements checkpoint.Store
var _ checkpoint.Store = (*Service)(nil)

// New creates an empty in-memory checkpoint store.
func New() *Service {
	return &Service{}
}

// Save appends or replaces the snapshot for stepName. Replacing a step drops
// any records after it; earlier records are never touched.
func (s *Service) Save(ctx context.Context, stepName string, tables model.Tables) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := len(s.entries)
	for i := range s.entries {
		if s.entries[i].record.Step == stepName {
			s.entries = s.entries[:i]
			seq = i
			break
		}
	}
	s.entries = append(s.entries, entry{
		record: checkpoint.Record{Step: stepName, Seq: seq, Time: clock.Now(), Tables: tables.Names()},
		tables: tables.Clone(),
	})
	return nil
}

// Load returns a deep copy of the snapshot recorded at stepName.
func (s *Service) Load(ctx context.Context, stepName string) (model.Tables, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.entries {
		if s.entries[i].record.Step == stepName {
			return s.entries[i].tables.Clone(), nil
		}
	}
	return nil, &checkpoint.ResumeError{Step: stepName}
}

// LastCheckpoint returns the most recently saved step name.
func (s *Service) LastCheckpoint(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return "", nil
	}
	return s.entries[len(s.entries)-1].record.Step, nil
}

// List returns all records in pipeline order.
func (s *Service) List(ctx context.Context) ([]checkpoint.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]checkpoint.Record, 0, len(s.entries))
	for i := range s.entries {
		records = append(records, s.entries[i].record)
	}
	return records, nil
}
