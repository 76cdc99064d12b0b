package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tripcast/tripcast/model"
	"github.com/tripcast/tripcast/service/dao/checkpoint"
)

func snapshot(value float64) model.Tables {
	households := model.NewTable(model.TableHouseholds, []int64{1, 2, 3})
	_ = households.SetColumn("income", []float64{value, value + 1, value + 2})
	return model.Tables{model.TableHouseholds: households}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New()

	saved := snapshot(100)
	assert.NoError(t, store.Save(ctx, "initialize", saved))

	// Mutating the caller's tables after save must not leak into the store.
	saved[model.TableHouseholds].Columns["income"][0] = -1

	loaded, err := store.Load(ctx, "initialize")
	assert.NoError(t, err)
	assert.Equal(t, []float64{100, 101, 102}, loaded[model.TableHouseholds].Column("income"))
}

func TestResaveTruncatesLaterSteps(t *testing.T) {
	ctx := context.Background()
	store := New()

	assert.NoError(t, store.Save(ctx, "initialize", snapshot(1)))
	assert.NoError(t, store.Save(ctx, "school_location", snapshot(2)))
	assert.NoError(t, store.Save(ctx, "mode_choice", snapshot(3)))

	// Retry school_location: mode_choice's record is superseded, the
	// earlier step stays.
	assert.NoError(t, store.Save(ctx, "school_location", snapshot(4)))

	records, err := store.List(ctx)
	assert.NoError(t, err)
	steps := make([]string, 0, len(records))
	for _, record := range records {
		steps = append(steps, record.Step)
	}
	assert.Equal(t, []string{"initialize", "school_location"}, steps)
	assert.Equal(t, []int{0, 1}, []int{records[0].Seq, records[1].Seq})

	last, err := store.LastCheckpoint(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "school_location", last)

	loaded, err := store.Load(ctx, "school_location")
	assert.NoError(t, err)
	assert.Equal(t, float64(4), loaded[model.TableHouseholds].Column("income")[0])
}

func TestLoadUnknownStep(t *testing.T) {
	store := New()
	_, err := store.Load(context.Background(), "never_ran")
	var resumeErr *checkpoint.ResumeError
	assert.ErrorAs(t, err, &resumeErr)
	assert.Equal(t, "never_ran", resumeErr.Step)
}

func TestResolveLastSentinel(t *testing.T) {
	ctx := context.Background()
	store := New()

	_, err := checkpoint.Resolve(ctx, store, checkpoint.Last)
	var resumeErr *checkpoint.ResumeError
	assert.ErrorAs(t, err, &resumeErr)

	assert.NoError(t, store.Save(ctx, "initialize", snapshot(1)))
	assert.NoError(t, store.Save(ctx, "scheduling", snapshot(2)))

	step, err := checkpoint.Resolve(ctx, store, checkpoint.Last)
	assert.NoError(t, err)
	assert.Equal(t, "scheduling", step)

	step, err = checkpoint.Resolve(ctx, store, "initialize")
	assert.NoError(t, err)
	assert.Equal(t, "initialize", step)

	_, err = checkpoint.Resolve(ctx, store, "mode_choice")
	assert.ErrorAs(t, err, &resumeErr)
}
