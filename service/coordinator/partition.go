package coordinator

import (
	"github.com/tripcast/tripcast/model"
)

// Partition is one worker's contiguous share of the population. Households
// are never split: a household's persons always travel with it.
type Partition struct {
	Index      int
	Population *model.Population
	RowCount   int
}

// PartitionPopulation splits the population into workerCount order-preserving
// groups balanced on row count (households plus persons), not household
// count. Partitions may be empty when there are fewer households than
// workers.
func PartitionPopulation(pop *model.Population, workerCount int) []*Partition {
	if workerCount < 1 {
		workerCount = 1
	}
	weights := pop.RowWeights()
	total := 0
	for _, w := range weights {
		total += w
	}

	assignment := make([]int, len(weights))
	current := 0
	acc := 0
	remainingRows := float64(total)
	remainingParts := workerCount
	target := remainingRows / float64(remainingParts)
	for i, w := range weights {
		// Close the current partition when adding this household would
		// overshoot its fair share more than leaving it out would
		// undershoot.
		if current < workerCount-1 && acc > 0 && float64(acc)+float64(w)/2 > target {
			remainingRows -= float64(acc)
			remainingParts--
			current++
			acc = 0
			target = remainingRows / float64(remainingParts)
		}
		assignment[i] = current
		acc += w
	}

	hhIDs := pop.Persons.Column(model.ColHouseholdID)
	partitions := make([]*Partition, workerCount)
	for p := 0; p < workerCount; p++ {
		keep := map[int64]bool{}
		rows := 0
		for i, a := range assignment {
			if a == p {
				keep[pop.Households.IDs[i]] = true
				rows += weights[i]
			}
		}
		personKeep := make(map[int64]bool)
		for i, id := range pop.Persons.IDs {
			if keep[int64(hhIDs[i])] {
				personKeep[id] = true
			}
		}
		partitions[p] = &Partition{
			Index: p,
			Population: &model.Population{
				Households: pop.Households.SelectIDs(keep),
				Persons:    pop.Persons.SelectIDs(personKeep),
			},
			RowCount: rows,
		}
	}
	return partitions
}
