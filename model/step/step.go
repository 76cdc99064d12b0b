package step

import (
	"context"
	"fmt"
	"strings"

	"github.com/tripcast/tripcast/model"
)

// NoCheckpointPrefix marks steps that execute but are never checkpointed.
const NoCheckpointPrefix = "_"

// Func runs one model step against a row subset and returns the mutated or
// derived tables. The engine treats it as opaque: numeric semantics belong to
// the model, not the orchestration core.
type Func func(ctx context.Context, tables model.Tables) (model.Tables, error)

// Descriptor describes a named model step's execution capabilities. It is
// immutable once the pipeline starts.
type Descriptor struct {
	// Name is unique within the pipeline.
	Name string

	// Chunkable steps accept row subsets bounded by the memory budget.
	Chunkable bool

	// Partitionable steps can run across household partitions in parallel
	// workers.
	Partitionable bool

	// ShadowPurpose names the shadow-pricing purpose this step feeds
	// (e.g. "school", "workplace"); empty for ordinary steps.
	ShadowPurpose string
}

// Checkpointed reports whether the step's results are written to the
// checkpoint store after it completes.
func (d Descriptor) Checkpointed() bool {
	return !strings.HasPrefix(d.Name, NoCheckpointPrefix)
}

// Bound is a descriptor resolved against the registry, pinned to its
// position in the ordered step list.
type Bound struct {
	Descriptor
	Func     Func
	Position int
}

// Registry maps step names to their descriptor and implementation. Names are
// resolved to bound steps once at pipeline construction, not per call.
type Registry struct {
	steps map[string]*entry
}

type entry struct {
	descriptor Descriptor
	fn         Func
}

// NewRegistry returns an empty step registry.
func NewRegistry() *Registry {
	return &Registry{steps: map[string]*entry{}}
}

// Register adds a step to the registry. Registering a duplicate name or a
// nil implementation is an error.
func (r *Registry) Register(descriptor Descriptor, fn Func) error {
	if descriptor.Name == "" {
		return fmt.Errorf("step name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("step %s has no implementation", descriptor.Name)
	}
	if _, ok := r.steps[descriptor.Name]; ok {
		return fmt.Errorf("step %s already registered", descriptor.Name)
	}
	r.steps[descriptor.Name] = &entry{descriptor: descriptor, fn: fn}
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	e, ok := r.steps[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.descriptor, true
}

// Resolve binds an ordered list of step names. Unknown names fail the whole
// resolution so misconfiguration surfaces before the first step runs.
func (r *Registry) Resolve(names []string) ([]*Bound, error) {
	bound := make([]*Bound, 0, len(names))
	seen := map[string]bool{}
	for i, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("step %s listed twice", name)
		}
		seen[name] = true
		e, ok := r.steps[name]
		if !ok {
			return nil, fmt.Errorf("unknown step %s", name)
		}
		bound = append(bound, &Bound{Descriptor: e.descriptor, Func: e.fn, Position: i})
	}
	return bound, nil
}
