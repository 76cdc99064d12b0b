package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTableSetColumn(t *testing.T) {
	table := NewTable("households", []int64{1, 2, 3})
	assert.NoError(t, table.SetColumn("income", []float64{10, 20, 30}))
	assert.Error(t, table.SetColumn("income", []float64{10, 20}), "length mismatch")
	assert.Nil(t, table.Column("missing"))
}

func TestTableSlice(t *testing.T) {
	table := NewTable("households", []int64{1, 2, 3, 4})
	require.NoError(t, table.SetColumn("income", []float64{10, 20, 30, 40}))

	slice := table.Slice(1, 3)
	assert.Equal(t, []int64{2, 3}, slice.IDs)
	assert.Equal(t, []float64{20, 30}, slice.Column("income"))

	// A slice is a deep copy.
	slice.Column("income")[0] = 99
	assert.Equal(t, float64(20), table.Column("income")[1])

	// Out-of-range bounds clamp.
	assert.Equal(t, 4, table.Slice(-1, 10).NumRows())
	assert.Equal(t, 0, table.Slice(3, 1).NumRows())
}

func TestTableSelectIDs(t *testing.T) {
	table := NewTable("persons", []int64{5, 6, 7, 8})
	require.NoError(t, table.SetColumn("age", []float64{30, 40, 50, 60}))

	selected := table.SelectIDs(map[int64]bool{8: true, 5: true})
	assert.Equal(t, []int64{5, 8}, selected.IDs, "original order preserved")
	assert.Equal(t, []float64{30, 60}, selected.Column("age"))
}

func TestTableAppend(t *testing.T) {
	var testCases = []struct {
		description string
		other       *Table
		expectError bool
		expectIDs   []int64
	}{
		{
			description: "matching columns concatenate",
			other: func() *Table {
				other := NewTable("households", []int64{3, 4})
				_ = other.SetColumn("income", []float64{30, 40})
				return other
			}(),
			expectIDs: []int64{1, 2, 3, 4},
		},
		{
			description: "empty table is a no-op",
			other:       NewTable("households", nil),
			expectIDs:   []int64{1, 2},
		},
		{
			description: "nil table is a no-op",
			expectIDs:   []int64{1, 2},
		},
		{
			description: "column set mismatch fails",
			other:       NewTable("households", []int64{3}),
			expectError: true,
		},
	}

	for _, testCase := range testCases {
		table := NewTable("households", []int64{1, 2})
		require.NoError(t, table.SetColumn("income", []float64{10, 20}))
		err := table.Append(testCase.other)
		if testCase.expectError {
			assert.Error(t, err, testCase.description)
			continue
		}
		require.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.expectIDs, table.IDs, testCase.description)
	}
}

func TestTableReorder(t *testing.T) {
	table := NewTable("households", []int64{3, 1, 2})
	require.NoError(t, table.SetColumn("income", []float64{30, 10, 20}))

	require.NoError(t, table.Reorder([]int64{1, 2, 3}))
	assert.Equal(t, []int64{1, 2, 3}, table.IDs)
	assert.Equal(t, []float64{10, 20, 30}, table.Column("income"))

	assert.Error(t, table.Reorder([]int64{1, 2}), "length mismatch")
	assert.Error(t, table.Reorder([]int64{1, 2, 9}), "unknown id")
}

func TestTableCloneIsIndependent(t *testing.T) {
	table := NewTable("households", []int64{1, 2})
	require.NoError(t, table.SetColumn("income", []float64{10, 20}))

	clone := table.Clone()
	require.True(t, table.Equal(clone))
	clone.Column("income")[0] = 99
	assert.False(t, table.Equal(clone))
	assert.Equal(t, float64(10), table.Column("income")[0])
}

func TestSliceAppendRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 50).Draw(t, "rows")
		ids := make([]int64, n)
		values := make([]float64, n)
		for i := range ids {
			ids[i] = int64(i + 1)
			values[i] = float64(rapid.IntRange(-100, 100).Draw(t, "value"))
		}
		table := NewTable("households", ids)
		require.NoError(t, table.SetColumn("income", values))

		cut := rapid.IntRange(0, n).Draw(t, "cut")
		head := table.Slice(0, cut)
		require.NoError(t, head.Append(table.Slice(cut, n)))
		assert.True(t, table.Equal(head))
	})
}
