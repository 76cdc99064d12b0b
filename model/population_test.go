package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPopulationTables(t *testing.T) Tables {
	t.Helper()
	households := NewTable(TableHouseholds, []int64{1, 2, 3})
	persons := NewTable(TablePersons, []int64{10, 11, 12, 13})
	require.NoError(t, persons.SetColumn(ColHouseholdID, []float64{1, 1, 2, 3}))
	return Tables{TableHouseholds: households, TablePersons: persons}
}

func TestPopulationFrom(t *testing.T) {
	tables := buildPopulationTables(t)
	pop, err := PopulationFrom(tables)
	require.NoError(t, err)
	assert.Equal(t, 3, pop.Households.NumRows())
	assert.Equal(t, 4, pop.Persons.NumRows())
}

func TestPopulationFromErrors(t *testing.T) {
	_, err := PopulationFrom(Tables{})
	assert.Error(t, err, "missing households")

	tables := buildPopulationTables(t)
	delete(tables, TablePersons)
	_, err = PopulationFrom(tables)
	assert.Error(t, err, "missing persons")

	tables = buildPopulationTables(t)
	require.NoError(t, tables[TablePersons].SetColumn(ColHouseholdID, []float64{1, 1, 2, 9}))
	_, err = PopulationFrom(tables)
	assert.Error(t, err, "orphan person")
}

func TestRowWeights(t *testing.T) {
	pop, err := PopulationFrom(buildPopulationTables(t))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 2}, pop.RowWeights())
	assert.Equal(t, map[int64]int{1: 2, 2: 1, 3: 1}, pop.PersonCounts())
}

func TestSampleHouseholds(t *testing.T) {
	pop, err := PopulationFrom(buildPopulationTables(t))
	require.NoError(t, err)

	sampled := pop.SampleHouseholds(2, 7)
	assert.Equal(t, 2, sampled.Households.NumRows())
	require.NoError(t, sampled.Validate())

	// Same seed, same sample.
	again := pop.SampleHouseholds(2, 7)
	assert.True(t, sampled.Households.Equal(again.Households))
	assert.True(t, sampled.Persons.Equal(again.Persons))

	// Order within the sample follows the original table order.
	for i := 1; i < len(sampled.Households.IDs); i++ {
		assert.Less(t, sampled.Households.IDs[i-1], sampled.Households.IDs[i])
	}
}

func TestSampleHouseholdsPassthrough(t *testing.T) {
	pop, err := PopulationFrom(buildPopulationTables(t))
	require.NoError(t, err)
	assert.Same(t, pop, pop.SampleHouseholds(0, 7))
	assert.Same(t, pop, pop.SampleHouseholds(3, 7))
	assert.Same(t, pop, pop.SampleHouseholds(10, 7))
}
