package shadow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/tripcast/tripcast/model"
	"github.com/tripcast/tripcast/model/step"
	"github.com/tripcast/tripcast/service/dao/checkpoint"
)

// State is the solver's lifecycle state.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateIterating     State = "ITERATING"
	StateConverged     State = "CONVERGED"
	StateMaxIterations State = "MAX_ITERATIONS_REACHED"
)

// Terminal reports whether the convergence loop has stopped.
func (s State) Terminal() bool {
	return s == StateConverged || s == StateMaxIterations
}

// Config tunes one purpose's convergence loop.
type Config struct {
	// Method names the registered price update policy.
	Method string `json:"method" yaml:"method"`

	// MaxIterations bounds the loop; reaching it is a warning, not an error.
	MaxIterations int `json:"maxIterations" yaml:"maxIterations"`

	// RelTolerance is the per-zone absolute relative error below which a
	// zone counts as converged.
	RelTolerance float64 `json:"relTolerance" yaml:"relTolerance"`

	// DampingFactor scales each price correction.
	DampingFactor float64 `json:"dampingFactor" yaml:"dampingFactor"`
}

// DefaultConfig returns the conventional convergence settings.
func DefaultConfig() Config {
	return Config{
		Method:        "ctramp",
		MaxIterations: 10,
		RelTolerance:  0.05,
		DampingFactor: 1.0,
	}
}

// Zone carries one zone's target, last modeled total and current price.
type Zone struct {
	ID      int64
	Target  float64
	Modeled float64
	Price   float64
}

// PricesTableName returns the snapshot table name carrying one purpose's
// price vector (e.g. shadow_prices_school).
func PricesTableName(purpose string) string { return "shadow_prices_" + purpose }

// TotalsTableName returns the table name a choice step uses to report its
// partition's modeled zone totals.
func TotalsTableName(purpose string) string { return "zone_totals_" + purpose }

// TargetsTableName returns the table name carrying one purpose's target
// zone totals, supplied by the model inputs.
func TargetsTableName(purpose string) string { return "zone_targets_" + purpose }

// TargetsFrom extracts the target totals map from a snapshot set.
func TargetsFrom(tables model.Tables, purpose string) (map[int64]float64, error) {
	table, ok := tables[TargetsTableName(purpose)]
	if !ok {
		return nil, fmt.Errorf("no %s table for shadow pricing", TargetsTableName(purpose))
	}
	col := table.Column(colTarget)
	if col == nil {
		return nil, fmt.Errorf("table %s has no %s column", table.Name, colTarget)
	}
	targets := make(map[int64]float64, table.NumRows())
	for i, id := range table.IDs {
		targets[id] = col[i]
	}
	return targets, nil
}

// ColTotal is the column a choice step writes its modeled zone totals into.
const ColTotal = "total"

const (
	colTarget      = "target"
	colModeled     = "modeled"
	colPrice       = "price"
	colMaxRelError = "max_rel_error"
)

// recordName is the checkpoint record the solver persists under. The
// no-checkpoint prefix keeps it out of resume-point resolution: only real
// pipeline steps are resume points.
func recordName(purpose string) string {
	return step.NoCheckpointPrefix + PricesTableName(purpose)
}

func errorsTableName(purpose string) string {
	return "shadow_errors_" + purpose
}

// Solver drives the fixed-point loop for one purpose (school or workplace
// location). The process coordinator owns the solver; workers only ever see
// the broadcast price vector.
type Solver struct {
	purpose   string
	config    Config
	method    Method
	store     checkpoint.Store
	state     State
	iteration int
	zones     []*Zone
	history   []float64
}

// Option configures a Solver.
type Option func(*Solver)

// WithStore writes prices through the checkpoint store after every
// iteration so a crash mid-convergence resumes from the last completed one.
func WithStore(store checkpoint.Store) Option {
	return func(s *Solver) {
		s.store = store
	}
}

// NewSolver creates a solver for one purpose. The configured method must be
// registered.
func NewSolver(purpose string, config Config, options ...Option) (*Solver, error) {
	if purpose == "" {
		return nil, fmt.Errorf("shadow price purpose cannot be empty")
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultConfig().MaxIterations
	}
	if config.RelTolerance <= 0 {
		config.RelTolerance = DefaultConfig().RelTolerance
	}
	if config.DampingFactor <= 0 {
		config.DampingFactor = DefaultConfig().DampingFactor
	}
	if config.Method == "" {
		config.Method = DefaultConfig().Method
	}
	method, err := MethodByName(config.Method)
	if err != nil {
		return nil, err
	}
	solver := &Solver{purpose: purpose, config: config, method: method, state: StateUninitialized}
	for _, option := range options {
		option(solver)
	}
	return solver, nil
}

// Init seeds zone targets with neutral prices and moves the solver to
// ITERATING. Calling Init on an initialized solver is an error.
func (s *Solver) Init(targets map[int64]float64) error {
	if s.state != StateUninitialized {
		return fmt.Errorf("shadow price solver for %s already initialized", s.purpose)
	}
	ids := make([]int64, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	s.zones = make([]*Zone, 0, len(ids))
	for _, id := range ids {
		s.zones = append(s.zones, &Zone{ID: id, Target: targets[id]})
	}
	s.state = StateIterating
	return nil
}

// State returns the current lifecycle state.
func (s *Solver) State() State { return s.state }

// Iteration returns the number of completed iterations.
func (s *Solver) Iteration() int { return s.iteration }

// History returns the max absolute relative error recorded per iteration.
func (s *Solver) History() []float64 { return append([]float64(nil), s.history...) }

// Prices returns the current price vector keyed by zone.
func (s *Solver) Prices() map[int64]float64 {
	prices := make(map[int64]float64, len(s.zones))
	for _, zone := range s.zones {
		prices[zone.ID] = zone.Price
	}
	return prices
}

// PricesTable renders the solver state as a snapshot table, the shape
// broadcast to workers and persisted between iterations.
func (s *Solver) PricesTable() *model.Table {
	ids := make([]int64, len(s.zones))
	targets := make([]float64, len(s.zones))
	modeled := make([]float64, len(s.zones))
	prices := make([]float64, len(s.zones))
	for i, zone := range s.zones {
		ids[i] = zone.ID
		targets[i] = zone.Target
		modeled[i] = zone.Modeled
		prices[i] = zone.Price
	}
	table := model.NewTable(PricesTableName(s.purpose), ids)
	_ = table.SetColumn(colTarget, targets)
	_ = table.SetColumn(colModeled, modeled)
	_ = table.SetColumn(colPrice, prices)
	return table
}

// Iterate folds the aggregated modeled totals of one choice-step pass into
// the solver: it records errors, declares convergence when every zone's
// absolute relative error is under tolerance, otherwise updates prices, and
// persists the result. Returns the state after the iteration.
func (s *Solver) Iterate(ctx context.Context, modeled map[int64]float64) (State, error) {
	if s.state != StateIterating {
		return s.state, fmt.Errorf("shadow price solver for %s is %s, not iterating", s.purpose, s.state)
	}
	maxErr := 0.0
	for _, zone := range s.zones {
		zone.Modeled = modeled[zone.ID]
		if relErr := math.Abs(s.relativeError(zone)); relErr > maxErr {
			maxErr = relErr
		}
	}
	s.iteration++
	s.history = append(s.history, maxErr)

	switch {
	case maxErr <= s.config.RelTolerance:
		s.state = StateConverged
		log.Printf("shadow: %s converged after %d iterations (max rel error %.4f)", s.purpose, s.iteration, maxErr)
	case s.iteration >= s.config.MaxIterations:
		// Not fatal: the pipeline proceeds with the prices the final pass
		// actually used. A further update would never be simulated.
		s.state = StateMaxIterations
		log.Printf("shadow: %s did not converge within %d iterations (max rel error %.4f), proceeding with best-effort prices", s.purpose, s.config.MaxIterations, maxErr)
	default:
		for _, zone := range s.zones {
			zone.Price = s.method.Update(zone.Price, zone.Target, zone.Modeled, s.config.DampingFactor)
		}
	}

	if err := s.persist(ctx); err != nil {
		return s.state, err
	}
	return s.state, nil
}

func (s *Solver) relativeError(zone *Zone) float64 {
	if zone.Target == 0 {
		if zone.Modeled == 0 {
			return 0
		}
		return zone.Modeled
	}
	return (zone.Modeled - zone.Target) / zone.Target
}

// errorsTable renders the per-iteration max-error history as a table, one
// row per completed iteration.
func (s *Solver) errorsTable() *model.Table {
	ids := make([]int64, len(s.history))
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	table := model.NewTable(errorsTableName(s.purpose), ids)
	_ = table.SetColumn(colMaxRelError, append([]float64(nil), s.history...))
	return table
}

func (s *Solver) persist(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	tables := model.Tables{
		PricesTableName(s.purpose): s.PricesTable(),
		errorsTableName(s.purpose): s.errorsTable(),
	}
	if err := s.store.Save(ctx, recordName(s.purpose), tables); err != nil {
		return fmt.Errorf("failed to persist shadow prices for %s: %w", s.purpose, err)
	}
	return nil
}

// Restore rebuilds solver state from the last persisted iteration, so a
// crashed convergence loop resumes with its prices, error history and
// iteration count rather than restarting. Restoring with no persisted state
// leaves the solver uninitialized.
func (s *Solver) Restore(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("shadow price solver for %s has no store to restore from", s.purpose)
	}
	tables, err := s.store.Load(ctx, recordName(s.purpose))
	if err != nil {
		var resumeErr *checkpoint.ResumeError
		if errors.As(err, &resumeErr) {
			return nil
		}
		return err
	}
	table := tables[PricesTableName(s.purpose)]
	targets := table.Column(colTarget)
	modeled := table.Column(colModeled)
	prices := table.Column(colPrice)
	s.zones = make([]*Zone, table.NumRows())
	for i, id := range table.IDs {
		s.zones[i] = &Zone{ID: id, Target: targets[i], Modeled: modeled[i], Price: prices[i]}
	}
	s.history = nil
	if recorded := tables[errorsTableName(s.purpose)]; recorded != nil {
		s.history = append([]float64(nil), recorded.Column(colMaxRelError)...)
	}
	// One history row per completed iteration; the counter follows.
	s.iteration = len(s.history)
	s.state = StateIterating
	return nil
}
