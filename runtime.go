package tripcast

import (
	"context"
	"log"

	"github.com/tripcast/tripcast/internal/idgen"
	"github.com/tripcast/tripcast/model"
	"github.com/tripcast/tripcast/progress"
	"github.com/tripcast/tripcast/runtime/memmon"
	"github.com/tripcast/tripcast/service/driver"
	"github.com/tripcast/tripcast/tracing"
)

// Runtime executes pipelines against the service's configured dependencies.
type Runtime struct {
	config  *Config
	driver  *driver.Service
	monitor *memmon.Monitor
}

// Run executes the ordered step list over the initial tables and returns the
// final tables. It applies the configured household subsample, runs the
// memory monitor for the duration of the pipeline and tracks step progress
// in the returned context's tracker.
func (r *Runtime) Run(ctx context.Context, stepNames []string, tables model.Tables) (result model.Tables, err error) {
	runID := idgen.New()
	ctx, tracker := progress.WithNewTracker(ctx, runID, nil)
	ctx, span := tracing.StartSpan(ctx, "runtime.run", "INTERNAL")
	defer tracing.EndSpan(span, err)
	span.WithAttributes(map[string]string{"run.id": runID})

	r.monitor.Start(ctx)
	defer r.monitor.Stop()

	if r.config.HouseholdsSampleSize > 0 {
		if tables, err = r.samplePopulation(tables); err != nil {
			return nil, err
		}
	}

	result, err = r.driver.Run(ctx, stepNames, tables)
	if err != nil {
		return nil, err
	}
	snapshot := tracker.Snapshot()
	log.Printf("runtime: run %s completed %d steps, skipped %d", runID, snapshot.CompletedSteps, snapshot.SkippedSteps)
	return result, nil
}

// samplePopulation replaces the population pair with a deterministic whole-
// household subsample, leaving all other tables untouched.
func (r *Runtime) samplePopulation(tables model.Tables) (model.Tables, error) {
	pop, err := model.PopulationFrom(tables)
	if err != nil {
		return nil, err
	}
	sampled := pop.SampleHouseholds(r.config.HouseholdsSampleSize, r.config.SampleSeed)
	out := make(model.Tables, len(tables))
	for name, table := range tables {
		out[name] = table
	}
	out[model.TableHouseholds] = sampled.Households
	out[model.TablePersons] = sampled.Persons
	log.Printf("runtime: sampled %d of %d households", sampled.Households.NumRows(), pop.Households.NumRows())
	return out, nil
}
