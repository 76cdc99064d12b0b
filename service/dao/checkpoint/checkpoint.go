// Package checkpoint defines the durable store of per-step table snapshots.
// Checkpoints are totally ordered by pipeline position; loading a step
// restores the tables exactly as they were immediately after that step
// completed.
package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tripcast/tripcast/model"
	"github.com/tripcast/tripcast/model/step"
)

// Last is the resume sentinel resolving to the most recent checkpoint.
// Internal records (solver state and the like) carry the no-checkpoint name
// prefix and are never resume points.
const Last = "_last_"

// Record describes one saved checkpoint in pipeline order.
type Record struct {
	Step   string    `json:"step"`
	Seq    int       `json:"seq"`
	Time   time.Time `json:"time"`
	Tables []string  `json:"tables"`
}

// Store is an append-only record of "tables as of step N". Saving a step
// never rewrites earlier steps; re-saving the same step replaces only that
// step's record and drops any later ones (retry-from-same-step).
type Store interface {
	// Save persists the snapshot set under stepName.
	Save(ctx context.Context, stepName string, tables model.Tables) error

	// Load restores the snapshot recorded at stepName.
	Load(ctx context.Context, stepName string) (model.Tables, error)

	// LastCheckpoint returns the most recent recorded step name, or ""
	// when nothing has been checkpointed.
	LastCheckpoint(ctx context.Context) (string, error)

	// List returns all records in pipeline order.
	List(ctx context.Context) ([]Record, error)
}

// ResumeError reports a resume point that was never checkpointed. It is
// fatal and surfaced to the operator before any step executes.
type ResumeError struct {
	Step string
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("resume point %q not found in checkpoint store", e.Step)
}

// Resolve maps a requested resume point to a stored step name, expanding the
// Last sentinel and validating existence.
func Resolve(ctx context.Context, store Store, resumeAfter string) (string, error) {
	if resumeAfter == Last {
		records, err := store.List(ctx)
		if err != nil {
			return "", err
		}
		for i := len(records) - 1; i >= 0; i-- {
			if strings.HasPrefix(records[i].Step, step.NoCheckpointPrefix) {
				continue
			}
			return records[i].Step, nil
		}
		return "", &ResumeError{Step: resumeAfter}
	}
	records, err := store.List(ctx)
	if err != nil {
		return "", err
	}
	for _, record := range records {
		if record.Step == resumeAfter {
			return resumeAfter, nil
		}
	}
	return "", &ResumeError{Step: resumeAfter}
}
