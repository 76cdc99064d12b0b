package coordinator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/tripcast/tripcast/internal/idgen"
	"github.com/tripcast/tripcast/model"
	"github.com/tripcast/tripcast/model/step"
	"github.com/tripcast/tripcast/runtime/shadow"
	"github.com/tripcast/tripcast/tracing"
)

// Config represents coordinator configuration.
type Config struct {
	// WorkerCount is the number of partitions and workers per step.
	WorkerCount int `json:"workers" yaml:"workers"`

	// Stagger delays each worker's start by its index times this interval
	// to smooth the launch memory spike.
	Stagger time.Duration `json:"stagger" yaml:"stagger"`

	// WorkerTimeout bounds one worker's execution; a worker running past
	// it is treated the same as a non-zero exit. Zero disables the bound.
	WorkerTimeout time.Duration `json:"workerTimeout" yaml:"workerTimeout"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{WorkerCount: 1}
}

// Service coordinates partitioned step execution.
type Service struct {
	config   Config
	launcher Launcher
}

// Option configures the coordinator service.
type Option func(*Service)

// WithConfig sets the coordinator configuration.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithLauncher sets the worker launcher implementation.
func WithLauncher(launcher Launcher) Option {
	return func(s *Service) {
		s.launcher = launcher
	}
}

// New creates a coordinator service.
func New(options ...Option) (*Service, error) {
	s := &Service{config: DefaultConfig()}
	for _, option := range options {
		option(s)
	}
	if s.config.WorkerCount < 1 {
		return nil, fmt.Errorf("coordinator requires at least one worker, got %d", s.config.WorkerCount)
	}
	if s.launcher == nil {
		s.launcher = LocalLauncher{}
	}
	return s, nil
}

// Workers returns the configured worker count.
func (s *Service) Workers() int { return s.config.WorkerCount }

// report is the message a worker goroutine sends back at the barrier.
type report struct {
	index    int
	workerID string
	result   *Result
	err      error
}

// RunPartitionedStep partitions the population, runs the step across all
// workers and merges their output back into population order.
func (s *Service) RunPartitionedStep(ctx context.Context, bound *step.Bound, pop *model.Population, shared model.Tables) (tables model.Tables, err error) {
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("coordinator.step %s", bound.Name), "INTERNAL")
	defer tracing.EndSpan(span, err)
	span.WithAttributes(map[string]string{"step.name": bound.Name, "workers": fmt.Sprintf("%d", s.config.WorkerCount)})

	partitions := PartitionPopulation(pop, s.config.WorkerCount)
	results, err := s.runBarrier(ctx, bound, partitions, shared)
	if err != nil {
		return nil, err
	}
	return s.merge(bound, pop, results, shared)
}

// RunShadowLoop drives the shadow-pricing convergence loop for a choice
// step: every iteration all workers run the step with the current price
// vector, the coordinator aggregates modeled zone totals centrally, updates
// prices and releases the workers for the next pass. The solver must be
// initialized before entry.
func (s *Service) RunShadowLoop(ctx context.Context, bound *step.Bound, pop *model.Population, shared model.Tables, solver *shadow.Solver) (model.Tables, shadow.State, error) {
	if bound.ShadowPurpose == "" {
		return nil, "", fmt.Errorf("step %s does not feed shadow pricing", bound.Name)
	}
	if solver.State() != shadow.StateIterating {
		return nil, solver.State(), fmt.Errorf("shadow price solver is %s, expected %s", solver.State(), shadow.StateIterating)
	}

	partitions := PartitionPopulation(pop, s.config.WorkerCount)
	var merged model.Tables
	for solver.State() == shadow.StateIterating {
		broadcast := make(model.Tables, len(shared)+1)
		for name, table := range shared {
			broadcast[name] = table
		}
		broadcast[shadow.PricesTableName(bound.ShadowPurpose)] = solver.PricesTable()

		results, err := s.runBarrier(ctx, bound, partitions, broadcast)
		if err != nil {
			return nil, solver.State(), err
		}
		merged, err = s.merge(bound, pop, results, broadcast)
		if err != nil {
			return nil, solver.State(), err
		}
		totals, err := zoneTotals(merged, bound.ShadowPurpose)
		if err != nil {
			return nil, solver.State(), err
		}
		if _, err := solver.Iterate(ctx, totals); err != nil {
			return nil, solver.State(), err
		}
	}
	return merged, solver.State(), nil
}

// runBarrier launches one worker per partition and blocks until every worker
// has reported. Any failure fails the whole step: surviving partitions'
// results are discarded.
func (s *Service) runBarrier(ctx context.Context, bound *step.Bound, partitions []*Partition, shared model.Tables) ([]*Result, error) {
	reports := make(chan report, len(partitions))
	for _, partition := range partitions {
		go s.runWorker(ctx, bound, partition, shared, reports)
	}

	results := make([]*Result, len(partitions))
	var failures []WorkerFailure
	var fleetPeak int64
	for range partitions {
		r := <-reports
		if r.err != nil {
			failures = append(failures, WorkerFailure{WorkerID: r.workerID, Index: r.index, Step: bound.Name, Err: r.err})
			continue
		}
		results[r.index] = r.result
		fleetPeak += r.result.PeakUsed
	}
	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })
		return nil, &SubprocessFailure{Step: bound.Name, Failures: failures}
	}
	log.Printf("coordinator: step %s fleet peak %d bytes across %d workers", bound.Name, fleetPeak, len(partitions))
	return results, nil
}

func (s *Service) runWorker(ctx context.Context, bound *step.Bound, partition *Partition, shared model.Tables, reports chan<- report) {
	workerID := idgen.New()
	if delay := time.Duration(partition.Index) * s.config.Stagger; delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			reports <- report{index: partition.Index, workerID: workerID, err: ctx.Err()}
			return
		}
	}

	workerCtx := ctx
	if s.config.WorkerTimeout > 0 {
		var cancel context.CancelFunc
		workerCtx, cancel = context.WithTimeout(ctx, s.config.WorkerTimeout)
		defer cancel()
	}

	// The launch runs detached so a step that never checks its context still
	// hits the barrier as a timeout failure instead of blocking it. The
	// overrunning goroutine is abandoned; its results are void either way.
	outcome := make(chan report, 1)
	go func() {
		result, err := s.launcher.Launch(workerCtx, workerID, &Task{Step: bound, Partition: partition, Shared: shared})
		if err != nil {
			outcome <- report{index: partition.Index, workerID: workerID, err: err}
			return
		}
		outcome <- report{index: partition.Index, workerID: workerID, result: result}
	}()
	select {
	case r := <-outcome:
		reports <- r
	case <-workerCtx.Done():
		reports <- report{index: partition.Index, workerID: workerID, err: workerCtx.Err()}
	}
}

// merge concatenates per-partition output in partition order, sums the
// shadow totals table when present, and restores the original population
// order for the household and person tables. Broadcast tables are read-only
// for workers; their copies are never merged back.
func (s *Service) merge(bound *step.Bound, pop *model.Population, results []*Result, shared model.Tables) (model.Tables, error) {
	merged := model.Tables{}
	totalsName := ""
	if bound.ShadowPurpose != "" {
		totalsName = shadow.TotalsTableName(bound.ShadowPurpose)
	}
	for _, result := range results {
		for name, table := range result.Tables {
			if name == totalsName {
				continue
			}
			if _, isBroadcast := shared[name]; isBroadcast {
				continue
			}
			existing, ok := merged[name]
			if !ok {
				merged[name] = table.Clone()
				continue
			}
			if err := existing.Append(table); err != nil {
				return nil, fmt.Errorf("failed to merge partition output for step %s: %w", bound.Name, err)
			}
		}
	}
	if totalsName != "" {
		totals := sumTotals(results, totalsName)
		if totals != nil {
			merged[totalsName] = totals
		}
	}

	// Partition output order matches partition order, but the invariant is
	// keyed by identifiers, not worker completion: enforce it.
	if households, ok := merged[model.TableHouseholds]; ok {
		if err := households.Reorder(pop.Households.IDs); err != nil {
			return nil, fmt.Errorf("step %s household output does not cover the population: %w", bound.Name, err)
		}
	}
	if persons, ok := merged[model.TablePersons]; ok {
		if err := persons.Reorder(pop.Persons.IDs); err != nil {
			return nil, fmt.Errorf("step %s person output does not cover the population: %w", bound.Name, err)
		}
	}
	return merged, nil
}

// sumTotals adds up per-partition zone totals into a single table.
func sumTotals(results []*Result, name string) *model.Table {
	sums := map[int64]float64{}
	for _, result := range results {
		table, ok := result.Tables[name]
		if !ok {
			continue
		}
		col := table.Column(shadow.ColTotal)
		for i, id := range table.IDs {
			sums[id] += col[i]
		}
	}
	if len(sums) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(sums))
	for id := range sums {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	table := model.NewTable(name, ids)
	values := make([]float64, len(ids))
	for i, id := range ids {
		values[i] = sums[id]
	}
	_ = table.SetColumn(shadow.ColTotal, values)
	return table
}

// zoneTotals extracts the aggregated totals map the solver consumes.
func zoneTotals(merged model.Tables, purpose string) (map[int64]float64, error) {
	table, ok := merged[shadow.TotalsTableName(purpose)]
	if !ok {
		return nil, fmt.Errorf("shadow step produced no %s table", shadow.TotalsTableName(purpose))
	}
	col := table.Column(shadow.ColTotal)
	if col == nil {
		return nil, fmt.Errorf("table %s has no %s column", table.Name, shadow.ColTotal)
	}
	totals := make(map[int64]float64, table.NumRows())
	for i, id := range table.IDs {
		totals[id] = col[i]
	}
	return totals, nil
}
