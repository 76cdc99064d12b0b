package chunk

import (
	"log"
	"sync"
)

// Config governs how row-cost estimates are seeded and refined.
type Config struct {
	// DefaultBytesPerRow seeds the estimate for a (step, table) pair with no
	// prior observation. Deliberately conservative: the first chunk of a new
	// step should undershoot the budget, not blow through it.
	DefaultBytesPerRow float64 `json:"defaultBytesPerRow" yaml:"defaultBytesPerRow"`

	// FloorBytesPerRow bounds the estimate from below so one lucky small
	// chunk cannot drive later chunks into runaway underestimation.
	FloorBytesPerRow float64 `json:"floorBytesPerRow" yaml:"floorBytesPerRow"`

	// ObservationWeight is the exponential weight given to the latest
	// observed peak, in (0, 1]. Biased toward the latest observation.
	ObservationWeight float64 `json:"observationWeight" yaml:"observationWeight"`
}

// DefaultConfig returns the estimate tuning used when the caller supplies
// nothing.
func DefaultConfig() Config {
	return Config{
		DefaultBytesPerRow: 16 * 1024,
		FloorBytesPerRow:   256,
		ObservationWeight:  0.7,
	}
}

// Range is a half-open row-index interval [Lo, Hi).
type Range struct {
	Lo int
	Hi int
}

// Size returns the number of rows covered by the range.
func (r Range) Size() int { return r.Hi - r.Lo }

type key struct {
	step  string
	table string
}

type estimate struct {
	bytesPerRow  float64
	observations int
}

// Cache holds per-(step, table) row-cost estimates for the duration of one
// pipeline run. It is an explicit object rather than a process-wide
// singleton; the driver resets it at pipeline start.
type Cache struct {
	config    Config
	mu        sync.Mutex
	estimates map[key]*estimate
	floorHits int
}

// NewCache creates a run-scoped estimate cache.
func NewCache(config Config) *Cache {
	if config.DefaultBytesPerRow <= 0 {
		config.DefaultBytesPerRow = DefaultConfig().DefaultBytesPerRow
	}
	if config.FloorBytesPerRow <= 0 {
		config.FloorBytesPerRow = DefaultConfig().FloorBytesPerRow
	}
	if config.ObservationWeight <= 0 || config.ObservationWeight > 1 {
		config.ObservationWeight = DefaultConfig().ObservationWeight
	}
	return &Cache{config: config, estimates: map[key]*estimate{}}
}

// Reset discards all estimates, returning the cache to its pipeline-start
// state.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.estimates = map[key]*estimate{}
	c.floorHits = 0
}

// BytesPerRow returns the current estimate for a (step, table) pair, seeding
// the default when no observation exists yet.
func (c *Cache) BytesPerRow(step, table string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.estimates[key{step, table}]; ok {
		return e.bytesPerRow
	}
	return c.config.DefaultBytesPerRow
}

// Observe folds the observed peak for one executed chunk into the estimate
// using an exponentially-weighted update bounded below by the floor.
func (c *Cache) Observe(step, table string, rows int, peakBytes int64) {
	if rows <= 0 || peakBytes <= 0 {
		return
	}
	observed := float64(peakBytes) / float64(rows)
	if observed < c.config.FloorBytesPerRow {
		observed = c.config.FloorBytesPerRow
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{step, table}
	e, ok := c.estimates[k]
	if !ok {
		c.estimates[k] = &estimate{bytesPerRow: observed, observations: 1}
		return
	}
	w := c.config.ObservationWeight
	e.bytesPerRow = w*observed + (1-w)*e.bytesPerRow
	if e.bytesPerRow < c.config.FloorBytesPerRow {
		e.bytesPerRow = c.config.FloorBytesPerRow
	}
	e.observations++
}

// FloorHits returns how many plans degenerated to the size-1 floor. Non-zero
// means the run was slow, not wrong.
func (c *Cache) FloorHits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.floorHits
}

// Plan lazily yields contiguous row ranges covering [0, rowCount) exactly
// once. A zero or negative budget disables chunking: the plan emits a single
// range covering the whole table.
func (c *Cache) Plan(step, table string, rowCount int, bytesBudget int64) *Plan {
	if rowCount < 0 {
		rowCount = 0
	}
	if bytesBudget <= 0 {
		return &Plan{rowCount: rowCount, rowsPerChunk: rowCount}
	}
	perRow := c.BytesPerRow(step, table)
	rowsPerChunk := int(float64(bytesBudget) / perRow)
	if rowsPerChunk < 1 {
		// A single row already exceeds the budget; emit size-1 chunks
		// rather than failing.
		rowsPerChunk = 1
		c.mu.Lock()
		c.floorHits++
		c.mu.Unlock()
		log.Printf("chunk: step %s table %s: estimated row cost %.0f bytes exceeds budget %d, degrading to single-row chunks", step, table, perRow, bytesBudget)
	}
	return &Plan{rowCount: rowCount, rowsPerChunk: rowsPerChunk}
}

// Plan is a restartable iterator over the chunk ranges of one table.
type Plan struct {
	rowCount     int
	rowsPerChunk int
	next         int
}

// Next returns the next range, or ok=false once the table is covered.
func (p *Plan) Next() (Range, bool) {
	if p.next >= p.rowCount {
		return Range{}, false
	}
	lo := p.next
	hi := lo + p.rowsPerChunk
	if p.rowsPerChunk <= 0 || hi > p.rowCount {
		hi = p.rowCount
	}
	p.next = hi
	return Range{Lo: lo, Hi: hi}, true
}

// Restart rewinds the plan to the first range.
func (p *Plan) Restart() { p.next = 0 }

// RowsPerChunk returns the planned chunk size; rowCount when chunking is
// disabled.
func (p *Plan) RowsPerChunk() int { return p.rowsPerChunk }
