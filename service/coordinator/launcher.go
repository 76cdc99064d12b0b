package coordinator

import (
	"context"

	"github.com/tripcast/tripcast/model"
	"github.com/tripcast/tripcast/model/step"
	"github.com/tripcast/tripcast/runtime/memmon"
)

// Task is one partitioned execution request handed to a worker.
type Task struct {
	Step      *step.Bound
	Partition *Partition

	// Shared carries read-only broadcast tables, e.g. the current shadow
	// price vector. Workers receive copies, never the coordinator's own.
	Shared model.Tables
}

// Result is a worker's report back to the coordinator.
type Result struct {
	// Tables holds the worker's mutated and derived partition tables.
	Tables model.Tables

	// PeakUsed is the worker's observed peak memory in bytes. The
	// coordinator sums these to approximate fleet-wide usage.
	PeakUsed int64
}

// Launcher executes one task in a worker. Implementations decide the
// isolation level: in-process goroutines or OS subprocesses.
type Launcher interface {
	Launch(ctx context.Context, workerID string, task *Task) (*Result, error)
}

// LocalLauncher runs each worker as a goroutine over deep-copied tables.
// Isolation is enforced at the API level: a worker only ever touches its own
// copies and communicates through the returned Result.
type LocalLauncher struct{}

// Launch runs the step function against a private copy of the partition.
func (LocalLauncher) Launch(ctx context.Context, workerID string, task *Task) (*Result, error) {
	inputs := make(model.Tables, len(task.Shared)+2)
	for name, table := range task.Shared {
		inputs[name] = table.Clone()
	}
	inputs[model.TableHouseholds] = task.Partition.Population.Households.Clone()
	inputs[model.TablePersons] = task.Partition.Population.Persons.Clone()

	monitor := memmon.New(0)
	monitor.Mark("worker " + workerID)
	outputs, err := task.Step.Func(ctx, inputs)
	if err != nil {
		return nil, err
	}
	record := monitor.Mark("worker " + workerID)
	return &Result{Tables: outputs, PeakUsed: record.Used}, nil
}
