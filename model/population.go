package model

import (
	"fmt"
	"math/rand"
)

// Well-known table and column names the engine relies on. Everything else in
// a snapshot set is opaque to the orchestration core.
const (
	TableHouseholds = "households"
	TablePersons    = "persons"
	ColHouseholdID  = "household_id"
)

// Population couples the household and person tables. Every person belongs
// to exactly one household; partitioning never separates a household from
// its persons.
type Population struct {
	Households *Table
	Persons    *Table
}

// PopulationFrom extracts the population pair from a snapshot set and
// verifies the household/person linkage.
func PopulationFrom(tables Tables) (*Population, error) {
	households, ok := tables[TableHouseholds]
	if !ok {
		return nil, fmt.Errorf("snapshot has no %s table", TableHouseholds)
	}
	persons, ok := tables[TablePersons]
	if !ok {
		return nil, fmt.Errorf("snapshot has no %s table", TablePersons)
	}
	pop := &Population{Households: households, Persons: persons}
	if err := pop.Validate(); err != nil {
		return nil, err
	}
	return pop, nil
}

// Validate checks that every person references an existing household.
func (p *Population) Validate() error {
	hhIDs := p.Persons.Column(ColHouseholdID)
	if hhIDs == nil {
		return fmt.Errorf("%s table has no %s column", TablePersons, ColHouseholdID)
	}
	known := make(map[int64]bool, p.Households.NumRows())
	for _, id := range p.Households.IDs {
		known[id] = true
	}
	for i, raw := range hhIDs {
		if !known[int64(raw)] {
			return fmt.Errorf("person %d references unknown household %d", p.Persons.IDs[i], int64(raw))
		}
	}
	return nil
}

// PersonCounts returns the number of persons per household identifier.
func (p *Population) PersonCounts() map[int64]int {
	counts := make(map[int64]int, p.Households.NumRows())
	for _, raw := range p.Persons.Column(ColHouseholdID) {
		counts[int64(raw)]++
	}
	return counts
}

// RowWeights returns, per household in table order, the number of population
// rows the household contributes (the household row plus its persons). The
// partitioner balances on these weights rather than on household counts.
func (p *Population) RowWeights() []int {
	counts := p.PersonCounts()
	weights := make([]int, p.Households.NumRows())
	for i, id := range p.Households.IDs {
		weights[i] = 1 + counts[id]
	}
	return weights
}

// SampleHouseholds returns a deterministic subsample of n whole households
// (with their persons), preserving the original row order. n <= 0 or
// n >= the household count returns the population unchanged. The fixed seed
// keeps resumed runs identical to uninterrupted ones.
func (p *Population) SampleHouseholds(n int, seed int64) *Population {
	total := p.Households.NumRows()
	if n <= 0 || n >= total {
		return p
	}
	rng := rand.New(rand.NewSource(seed))
	picked := rng.Perm(total)[:n]
	keep := make(map[int64]bool, n)
	for _, i := range picked {
		keep[p.Households.IDs[i]] = true
	}
	households := p.Households.SelectIDs(keep)
	personKeep := make(map[int64]bool, p.Persons.NumRows())
	hhIDs := p.Persons.Column(ColHouseholdID)
	for i, id := range p.Persons.IDs {
		if keep[int64(hhIDs[i])] {
			personKeep[id] = true
		}
	}
	return &Population{Households: households, Persons: p.Persons.SelectIDs(personKeep)}
}

// Tables returns the population pair as a snapshot set (shared, not copied).
func (p *Population) Tables() Tables {
	return Tables{TableHouseholds: p.Households, TablePersons: p.Persons}
}
