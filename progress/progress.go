package progress

import (
	"context"
	"sync"
	"time"
)

// Delta represents an incremental counter change emitted by the driver. The
// fields are signed and can be either positive or negative.
type Delta struct {
	Total     int
	Completed int
	Skipped   int
	Failed    int
}

// Progress keeps aggregated step counters for one pipeline run. It is safe
// for concurrent use.
type Progress struct {
	// Identification, filled when the run starts.
	RunID     string
	StartedAt time.Time

	// Counters, modified via Update().
	TotalSteps     int
	CompletedSteps int
	SkippedSteps   int
	FailedSteps    int

	// ActiveStep is the label of the step currently executing.
	ActiveStep string

	sync.Mutex
	onChange func(Progress)
}

// Update applies the supplied delta. If an onChange callback is registered
// it is invoked with a copy of the updated tracker outside the critical
// section so slow consumers never block the pipeline.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}
	p.Lock()
	p.TotalSteps += d.Total
	p.CompletedSteps += d.Completed
	p.SkippedSteps += d.Skipped
	p.FailedSteps += d.Failed
	snapshot := *p
	cb := p.onChange
	p.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// SetActiveStep records the label of the currently executing step.
func (p *Progress) SetActiveStep(name string) {
	if p == nil {
		return
	}
	p.Lock()
	p.ActiveStep = name
	snapshot := *p
	cb := p.onChange
	p.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy suitable for read-only inspection.
func (p *Progress) Snapshot() Progress {
	if p == nil {
		return Progress{}
	}
	p.Lock()
	defer p.Unlock()
	return *p
}

type trackerKeyT struct{}

var trackerKey trackerKeyT

// WithNewTracker creates a tracker for runID, embeds it in a derived context
// and returns both. onChange may be nil.
func WithNewTracker(ctx context.Context, runID string, onChange func(Progress)) (context.Context, *Progress) {
	if ctx == nil {
		ctx = context.Background()
	}
	tracker := &Progress{RunID: runID, StartedAt: time.Now(), onChange: onChange}
	return context.WithValue(ctx, trackerKey, tracker), tracker
}

// FromContext extracts the tracker from ctx; ok is false when the context
// carries none.
func FromContext(ctx context.Context) (*Progress, bool) {
	if ctx == nil {
		return nil, false
	}
	tracker, ok := ctx.Value(trackerKey).(*Progress)
	return tracker, ok
}

// UpdateCtx looks up the tracker in ctx (if any) and applies the delta.
func UpdateCtx(ctx context.Context, d Delta) {
	if tracker, ok := FromContext(ctx); ok {
		tracker.Update(d)
	}
}

// SetActiveStepCtx looks up the tracker in ctx (if any) and records the
// active step label.
func SetActiveStepCtx(ctx context.Context, name string) {
	if tracker, ok := FromContext(ctx); ok {
		tracker.SetActiveStep(name)
	}
}
