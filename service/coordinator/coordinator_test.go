package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripcast/tripcast/model"
	"github.com/tripcast/tripcast/model/step"
	"github.com/tripcast/tripcast/runtime/shadow"
)

// doubleIncome is a trivially verifiable partitionable step.
func doubleIncome(ctx context.Context, tables model.Tables) (model.Tables, error) {
	households := tables[model.TableHouseholds]
	income := households.Column("income")
	doubled := make([]float64, len(income))
	for i, v := range income {
		doubled[i] = v * 2
	}
	if err := households.SetColumn("income", doubled); err != nil {
		return nil, err
	}
	return tables, nil
}

func incomePopulation(n int) *model.Population {
	counts := make([]int, n)
	for i := range counts {
		counts[i] = 1 + i%3
	}
	pop := makePopulation(counts)
	income := make([]float64, n)
	for i := range income {
		income[i] = float64(i + 1)
	}
	_ = pop.Households.SetColumn("income", income)
	return pop
}

func TestRunPartitionedStepMergesInPopulationOrder(t *testing.T) {
	service, err := New(WithConfig(Config{WorkerCount: 4}))
	require.NoError(t, err)

	pop := incomePopulation(40)
	bound := &step.Bound{
		Descriptor: step.Descriptor{Name: "double_income", Partitionable: true},
		Func:       doubleIncome,
	}

	merged, err := service.RunPartitionedStep(context.Background(), bound, pop, nil)
	require.NoError(t, err)

	households := merged[model.TableHouseholds]
	assert.Equal(t, pop.Households.IDs, households.IDs)
	income := households.Column("income")
	for i := range income {
		assert.Equal(t, float64(2*(i+1)), income[i])
	}
	persons := merged[model.TablePersons]
	assert.Equal(t, pop.Persons.IDs, persons.IDs)
}

func TestWorkerCannotMutateParentTables(t *testing.T) {
	service, err := New(WithConfig(Config{WorkerCount: 2}))
	require.NoError(t, err)

	pop := incomePopulation(10)
	before := pop.Households.Clone()
	bound := &step.Bound{
		Descriptor: step.Descriptor{Name: "double_income", Partitionable: true},
		Func:       doubleIncome,
	}

	_, err = service.RunPartitionedStep(context.Background(), bound, pop, nil)
	require.NoError(t, err)
	assert.True(t, before.Equal(pop.Households))
}

func TestSubprocessFailureNamesFailedWorker(t *testing.T) {
	service, err := New(WithConfig(Config{WorkerCount: 4}))
	require.NoError(t, err)

	pop := incomePopulation(40)
	partitions := PartitionPopulation(pop, 4)
	// Fail exactly the partition holding household 1, i.e. worker 0.
	failingHH := partitions[0].Population.Households.IDs[0]

	bound := &step.Bound{
		Descriptor: step.Descriptor{Name: "mode_choice", Partitionable: true},
		Func: func(ctx context.Context, tables model.Tables) (model.Tables, error) {
			for _, id := range tables[model.TableHouseholds].IDs {
				if id == failingHH {
					return nil, fmt.Errorf("exit status 1")
				}
			}
			return tables, nil
		},
	}

	_, err = service.RunPartitionedStep(context.Background(), bound, pop, nil)
	var failure *SubprocessFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "mode_choice", failure.Step)
	require.Len(t, failure.Failures, 1)
	assert.Equal(t, 0, failure.Failures[0].Index)
	assert.NotEmpty(t, failure.Failures[0].WorkerID)
	assert.Contains(t, err.Error(), "mode_choice")
}

func TestWorkerTimeoutIsFailure(t *testing.T) {
	service, err := New(WithConfig(Config{WorkerCount: 2, WorkerTimeout: 20 * time.Millisecond}))
	require.NoError(t, err)

	pop := incomePopulation(8)
	bound := &step.Bound{
		Descriptor: step.Descriptor{Name: "hang", Partitionable: true},
		Func: func(ctx context.Context, tables model.Tables) (model.Tables, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return tables, nil
			}
		},
	}

	_, err = service.RunPartitionedStep(context.Background(), bound, pop, nil)
	var failure *SubprocessFailure
	require.ErrorAs(t, err, &failure)
	assert.Len(t, failure.Failures, 2)
	assert.True(t, errors.Is(failure.Failures[0].Err, context.DeadlineExceeded))
}

func TestWorkerTimeoutFailsNonCooperativeStep(t *testing.T) {
	service, err := New(WithConfig(Config{WorkerCount: 2, WorkerTimeout: 25 * time.Millisecond}))
	require.NoError(t, err)

	pop := incomePopulation(8)
	bound := &step.Bound{
		Descriptor: step.Descriptor{Name: "hang", Partitionable: true},
		Func: func(ctx context.Context, tables model.Tables) (model.Tables, error) {
			// Never looks at ctx.
			time.Sleep(300 * time.Millisecond)
			return tables, nil
		},
	}

	began := time.Now()
	_, err = service.RunPartitionedStep(context.Background(), bound, pop, nil)
	var failure *SubprocessFailure
	require.ErrorAs(t, err, &failure)
	assert.Len(t, failure.Failures, 2)
	assert.True(t, errors.Is(failure.Failures[0].Err, context.DeadlineExceeded))
	// The barrier does not wait out the stuck workers.
	assert.Less(t, time.Since(began), 250*time.Millisecond)
}

func TestStaggerDelaysLaterWorkers(t *testing.T) {
	stagger := 30 * time.Millisecond
	service, err := New(WithConfig(Config{WorkerCount: 3, Stagger: stagger}))
	require.NoError(t, err)

	starts := make(chan time.Time, 3)
	pop := incomePopulation(30)
	bound := &step.Bound{
		Descriptor: step.Descriptor{Name: "record_start", Partitionable: true},
		Func: func(ctx context.Context, tables model.Tables) (model.Tables, error) {
			starts <- time.Now()
			return tables, nil
		},
	}

	began := time.Now()
	_, err = service.RunPartitionedStep(context.Background(), bound, pop, nil)
	require.NoError(t, err)
	close(starts)

	var latest time.Time
	for start := range starts {
		if start.After(latest) {
			latest = start
		}
	}
	// Worker 2 starts no earlier than 2*stagger after launch.
	assert.GreaterOrEqual(t, latest.Sub(began), 2*stagger)
}

// choiceStep simulates a location choice that responds to shadow prices:
// each person picks zone 1 or 2, with higher prices shifting choices away.
func choiceStep(purpose string) step.Func {
	return func(ctx context.Context, tables model.Tables) (model.Tables, error) {
		prices := tables[shadow.PricesTableName(purpose)]
		priceOf := map[int64]float64{}
		col := prices.Column("price")
		for i, id := range prices.IDs {
			priceOf[id] = col[i]
		}
		persons := tables[model.TablePersons]
		totals := map[int64]float64{1: 0, 2: 0}
		for range persons.IDs {
			// Neutral prices send everyone to zone 1.
			if priceOf[1] >= priceOf[2] {
				totals[1]++
			} else {
				totals[2]++
			}
		}
		out := model.NewTable(shadow.TotalsTableName(purpose), []int64{1, 2})
		_ = out.SetColumn(shadow.ColTotal, []float64{totals[1], totals[2]})
		tables[shadow.TotalsTableName(purpose)] = out
		return tables, nil
	}
}

func TestRunShadowLoopIteratesToTerminalState(t *testing.T) {
	service, err := New(WithConfig(Config{WorkerCount: 3}))
	require.NoError(t, err)

	pop := incomePopulation(30)
	personCount := float64(pop.Persons.NumRows())

	bound := &step.Bound{
		Descriptor: step.Descriptor{Name: "school_location", Partitionable: true, ShadowPurpose: "school"},
		Func:       choiceStep("school"),
	}

	t.Run("matched targets converge in one iteration", func(t *testing.T) {
		solver, err := shadow.NewSolver("school", shadow.DefaultConfig())
		require.NoError(t, err)
		require.NoError(t, solver.Init(map[int64]float64{1: personCount, 2: 0}))

		merged, state, err := service.RunShadowLoop(context.Background(), bound, pop, nil, solver)
		require.NoError(t, err)
		assert.Equal(t, shadow.StateConverged, state)
		assert.Equal(t, 1, solver.Iteration())

		totals := merged[shadow.TotalsTableName("school")]
		assert.Equal(t, personCount, totals.Column(shadow.ColTotal)[0])
	})

	t.Run("unreachable targets stop at max iterations", func(t *testing.T) {
		config := shadow.DefaultConfig()
		config.MaxIterations = 3
		config.Method = "daysim"
		solver, err := shadow.NewSolver("school", config)
		require.NoError(t, err)
		// Everyone always picks one zone; an even split is unreachable.
		require.NoError(t, solver.Init(map[int64]float64{1: personCount / 2, 2: personCount / 2}))

		_, state, err := service.RunShadowLoop(context.Background(), bound, pop, nil, solver)
		require.NoError(t, err)
		assert.Equal(t, shadow.StateMaxIterations, state)
		assert.Equal(t, 3, solver.Iteration())
	})
}
