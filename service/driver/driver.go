package driver

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tripcast/tripcast/model"
	"github.com/tripcast/tripcast/model/step"
	"github.com/tripcast/tripcast/progress"
	"github.com/tripcast/tripcast/runtime/chunk"
	"github.com/tripcast/tripcast/runtime/memmon"
	"github.com/tripcast/tripcast/runtime/shadow"
	"github.com/tripcast/tripcast/service/coordinator"
	"github.com/tripcast/tripcast/service/dao/checkpoint"
	"github.com/tripcast/tripcast/tracing"
)

// Config represents driver configuration.
type Config struct {
	// ResumeAfter names the checkpointed step to resume after; empty runs
	// from the first step. The checkpoint.Last sentinel resumes after the
	// most recent checkpoint.
	ResumeAfter string `json:"resumeAfter" yaml:"resumeAfter"`

	// ChunkBudget is the per-call memory budget in bytes for chunkable
	// steps; zero disables chunking.
	ChunkBudget int64 `json:"chunkSize" yaml:"chunkSize"`

	// Shadow tunes the shadow-pricing convergence loops.
	Shadow shadow.Config `json:"shadowPricing" yaml:"shadowPricing"`
}

// Service is the top-level pipeline sequencer.
type Service struct {
	config      Config
	registry    *step.Registry
	store       checkpoint.Store
	coordinator *coordinator.Service
	cache       *chunk.Cache
	monitor     *memmon.Monitor
}

// Option configures the driver service.
type Option func(*Service)

// WithConfig sets the driver configuration.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithRegistry sets the step registry.
func WithRegistry(registry *step.Registry) Option {
	return func(s *Service) {
		s.registry = registry
	}
}

// WithCheckpointStore sets the checkpoint store implementation.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithCoordinator sets the process coordinator.
func WithCoordinator(service *coordinator.Service) Option {
	return func(s *Service) {
		s.coordinator = service
	}
}

// WithChunkCache sets the run-scoped chunk estimate cache.
func WithChunkCache(cache *chunk.Cache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithMonitor sets the memory monitor.
func WithMonitor(monitor *memmon.Monitor) Option {
	return func(s *Service) {
		s.monitor = monitor
	}
}

// New creates a pipeline driver.
func New(options ...Option) (*Service, error) {
	s := &Service{}
	for _, option := range options {
		option(s)
	}
	if s.registry == nil {
		return nil, fmt.Errorf("step registry is required")
	}
	if s.store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if s.coordinator == nil {
		var err error
		if s.coordinator, err = coordinator.New(); err != nil {
			return nil, err
		}
	}
	if s.cache == nil {
		s.cache = chunk.NewCache(chunk.DefaultConfig())
	}
	if s.monitor == nil {
		s.monitor = memmon.New(0)
	}
	return s, nil
}

// Run executes the ordered step list over the initial tables, resuming from
// the configured checkpoint when set, and returns the final tables.
func (s *Service) Run(ctx context.Context, stepNames []string, tables model.Tables) (result model.Tables, err error) {
	started := time.Now()
	ctx, span := tracing.StartSpan(ctx, "pipeline.run", "INTERNAL")
	defer tracing.EndSpan(span, err)

	steps, err := s.registry.Resolve(stepNames)
	if err != nil {
		return nil, err
	}
	// Estimates from a previous run never leak into this one.
	s.cache.Reset()
	progress.UpdateCtx(ctx, progress.Delta{Total: len(steps)})

	startAt := 0
	if s.config.ResumeAfter != "" {
		resumed, tablesAt, resumeErr := s.resume(ctx, steps)
		if resumeErr != nil {
			return nil, resumeErr
		}
		startAt = resumed
		tables = tablesAt
		progress.UpdateCtx(ctx, progress.Delta{Skipped: startAt})
	}

	for _, bound := range steps[startAt:] {
		if err = s.runStep(ctx, bound, tables); err != nil {
			progress.UpdateCtx(ctx, progress.Delta{Failed: 1})
			return nil, err
		}
		if bound.Checkpointed() {
			if err = s.store.Save(ctx, bound.Name, tables); err != nil {
				return nil, fmt.Errorf("failed to checkpoint step %s: %w", bound.Name, err)
			}
		}
		progress.UpdateCtx(ctx, progress.Delta{Completed: 1})
	}
	log.Printf("driver: time to execute everything: %s", time.Since(started))
	return tables, nil
}

// resume validates the configured resume point and loads its snapshot.
// Returns the index of the first step to execute.
func (s *Service) resume(ctx context.Context, steps []*step.Bound) (int, model.Tables, error) {
	resolved, err := checkpoint.Resolve(ctx, s.store, s.config.ResumeAfter)
	if err != nil {
		return 0, nil, err
	}
	for i, bound := range steps {
		if bound.Name == resolved {
			tables, err := s.store.Load(ctx, resolved)
			if err != nil {
				return 0, nil, err
			}
			log.Printf("driver: resuming after step %s, skipping %d steps", resolved, i+1)
			return i + 1, tables, nil
		}
	}
	return 0, nil, fmt.Errorf("resume point %q is checkpointed but not in the step list", resolved)
}

// runStep dispatches one step to the coordinator, the chunked path or a
// direct call, and folds its output tables into the pipeline state. Step
// errors are deliberately not recovered here: numeric bugs must surface.
func (s *Service) runStep(ctx context.Context, bound *step.Bound, tables model.Tables) (err error) {
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("step.run %s", bound.Name), "INTERNAL")
	defer tracing.EndSpan(span, err)
	span.WithAttributes(map[string]string{"step.name": bound.Name})

	s.monitor.SetLabel(bound.Name)
	s.monitor.Mark("step " + bound.Name)
	progress.SetActiveStepCtx(ctx, bound.Name)

	var outputs model.Tables
	switch {
	case bound.ShadowPurpose != "":
		outputs, err = s.runShadowStep(ctx, bound, tables)
	case bound.Partitionable && s.coordinator.Workers() > 1:
		outputs, err = s.runPartitionedStep(ctx, bound, tables)
	case bound.Chunkable && s.config.ChunkBudget > 0:
		outputs, err = s.runChunkedStep(ctx, bound, tables)
	default:
		outputs, err = bound.Func(ctx, tables)
	}
	if err != nil {
		return err
	}
	for name, table := range outputs {
		tables[name] = table
	}
	return nil
}

func (s *Service) runPartitionedStep(ctx context.Context, bound *step.Bound, tables model.Tables) (model.Tables, error) {
	pop, shared, err := splitPopulation(tables)
	if err != nil {
		return nil, fmt.Errorf("step %s cannot be partitioned: %w", bound.Name, err)
	}
	return s.coordinator.RunPartitionedStep(ctx, bound, pop, shared)
}

// runShadowStep drives one purpose's convergence loop through the
// coordinator, restoring persisted prices when a previous run crashed
// mid-convergence.
func (s *Service) runShadowStep(ctx context.Context, bound *step.Bound, tables model.Tables) (model.Tables, error) {
	pop, shared, err := splitPopulation(tables)
	if err != nil {
		return nil, fmt.Errorf("step %s cannot be partitioned: %w", bound.Name, err)
	}
	solver, err := shadow.NewSolver(bound.ShadowPurpose, s.config.Shadow, shadow.WithStore(s.store))
	if err != nil {
		return nil, err
	}
	if err := solver.Restore(ctx); err != nil {
		return nil, err
	}
	if solver.State() == shadow.StateUninitialized {
		targets, err := shadow.TargetsFrom(tables, bound.ShadowPurpose)
		if err != nil {
			return nil, err
		}
		if err := solver.Init(targets); err != nil {
			return nil, err
		}
	}
	merged, _, err := s.coordinator.RunShadowLoop(ctx, bound, pop, shared, solver)
	if err != nil {
		return nil, err
	}
	merged[shadow.PricesTableName(bound.ShadowPurpose)] = solver.PricesTable()
	return merged, nil
}

// runChunkedStep executes the step over memory-bounded household slices,
// refining the chunker's estimate from observed usage after every chunk.
func (s *Service) runChunkedStep(ctx context.Context, bound *step.Bound, tables model.Tables) (model.Tables, error) {
	pop, shared, err := splitPopulation(tables)
	if err != nil {
		// No population to slice; fall back to a single direct call.
		return bound.Func(ctx, tables)
	}
	rowCount := pop.Households.NumRows()
	plan := s.cache.Plan(bound.Name, model.TableHouseholds, rowCount, s.config.ChunkBudget)
	hhIDs := pop.Persons.Column(model.ColHouseholdID)

	merged := model.Tables{}
	for {
		r, ok := plan.Next()
		if !ok {
			break
		}
		households := pop.Households.Slice(r.Lo, r.Hi)
		keep := make(map[int64]bool, r.Size())
		for _, id := range households.IDs {
			keep[id] = true
		}
		personKeep := make(map[int64]bool)
		for i, id := range pop.Persons.IDs {
			if keep[int64(hhIDs[i])] {
				personKeep[id] = true
			}
		}
		inputs := make(model.Tables, len(shared)+2)
		for name, table := range shared {
			inputs[name] = table
		}
		inputs[model.TableHouseholds] = households
		inputs[model.TablePersons] = pop.Persons.SelectIDs(personKeep)

		before, _ := s.monitor.Sample()
		outputs, err := bound.Func(ctx, inputs)
		if err != nil {
			return nil, err
		}
		after := s.monitor.Mark("chunk " + bound.Name)
		if delta := after.Used - before; delta > 0 {
			s.cache.Observe(bound.Name, model.TableHouseholds, r.Size(), delta)
		}

		for name, table := range outputs {
			if shared[name] == table {
				// Unchanged shared input echoed back; not chunk output.
				continue
			}
			if name == model.TableHouseholds || name == model.TablePersons || merged[name] != nil {
				if existing, ok := merged[name]; ok {
					if err := existing.Append(table); err != nil {
						return nil, fmt.Errorf("failed to merge chunk output for step %s: %w", bound.Name, err)
					}
					continue
				}
			}
			merged[name] = table.Clone()
		}
	}
	return merged, nil
}

// splitPopulation separates the population pair from the remaining shared
// tables.
func splitPopulation(tables model.Tables) (*model.Population, model.Tables, error) {
	pop, err := model.PopulationFrom(tables)
	if err != nil {
		return nil, nil, err
	}
	shared := model.Tables{}
	for name, table := range tables {
		if name == model.TableHouseholds || name == model.TablePersons {
			continue
		}
		shared[name] = table
	}
	return pop, shared, nil
}
