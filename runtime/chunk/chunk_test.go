package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestPlanCoversAllRows(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rowCount := rapid.IntRange(0, 100000).Draw(t, "rowCount")
		budget := rapid.Int64Range(0, 1<<30).Draw(t, "budget")

		cache := NewCache(DefaultConfig())
		plan := cache.Plan("workplace_location", "persons", rowCount, budget)

		covered := 0
		prevHi := 0
		for {
			r, ok := plan.Next()
			if !ok {
				break
			}
			if r.Size() < 1 {
				t.Fatalf("empty range %+v", r)
			}
			if r.Lo != prevHi {
				t.Fatalf("gap or overlap: range starts at %d, previous ended at %d", r.Lo, prevHi)
			}
			prevHi = r.Hi
			covered += r.Size()
		}
		if covered != rowCount {
			t.Fatalf("covered %d of %d rows", covered, rowCount)
		}
	})
}

func TestPlanZeroBudgetSingleRange(t *testing.T) {
	cache := NewCache(DefaultConfig())
	plan := cache.Plan("school_location", "persons", 5000, 0)

	r, ok := plan.Next()
	assert.True(t, ok)
	assert.Equal(t, Range{Lo: 0, Hi: 5000}, r)

	_, ok = plan.Next()
	assert.False(t, ok)
}

func TestPlanRestart(t *testing.T) {
	cache := NewCache(DefaultConfig())
	plan := cache.Plan("mode_choice", "trips", 100, 16*1024*10)

	first, ok := plan.Next()
	assert.True(t, ok)
	for {
		if _, ok := plan.Next(); !ok {
			break
		}
	}
	plan.Restart()
	again, ok := plan.Next()
	assert.True(t, ok)
	assert.Equal(t, first, again)
}

func TestObserveRefinesEstimate(t *testing.T) {
	testCases := []struct {
		name        string
		rows        int
		peakBytes   int64
		expectAbove float64
		expectBelow float64
	}{
		{
			name:        "heavier than default raises estimate",
			rows:        100,
			peakBytes:   100 * 64 * 1024,
			expectAbove: DefaultConfig().DefaultBytesPerRow,
			expectBelow: 64 * 1024,
		},
		{
			name:        "lighter than default lowers estimate",
			rows:        100,
			peakBytes:   100 * 1024,
			expectAbove: 1024,
			expectBelow: DefaultConfig().DefaultBytesPerRow,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cache := NewCache(DefaultConfig())
			// Seed with the default, then fold in one observation.
			cache.Observe("step", "table", 1, int64(DefaultConfig().DefaultBytesPerRow))
			cache.Observe("step", "table", tc.rows, tc.peakBytes)

			got := cache.BytesPerRow("step", "table")
			assert.Greater(t, got, tc.expectAbove)
			assert.Less(t, got, tc.expectBelow)
		})
	}
}

func TestObserveFloorBoundsEstimate(t *testing.T) {
	cache := NewCache(DefaultConfig())
	// A suspiciously cheap chunk must not drag the estimate under the floor.
	for i := 0; i < 10; i++ {
		cache.Observe("step", "table", 1000000, 1)
	}
	assert.GreaterOrEqual(t, cache.BytesPerRow("step", "table"), DefaultConfig().FloorBytesPerRow)
}

func TestPlanSingleRowFloor(t *testing.T) {
	cache := NewCache(DefaultConfig())
	// Budget smaller than the cost of one row: size-1 chunks, never zero.
	plan := cache.Plan("step", "table", 3, 1)

	var sizes []int
	for {
		r, ok := plan.Next()
		if !ok {
			break
		}
		sizes = append(sizes, r.Size())
	}
	assert.Equal(t, []int{1, 1, 1}, sizes)
	assert.Equal(t, 1, cache.FloorHits())
}

func TestCacheReset(t *testing.T) {
	cache := NewCache(DefaultConfig())
	cache.Observe("step", "table", 10, 10*1024*1024)
	cache.Plan("step", "table", 1, 1)
	assert.NotZero(t, cache.FloorHits())

	cache.Reset()
	assert.Equal(t, DefaultConfig().DefaultBytesPerRow, cache.BytesPerRow("step", "table"))
	assert.Zero(t, cache.FloorHits())
}
