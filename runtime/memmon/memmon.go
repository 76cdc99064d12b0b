package memmon

import (
	"context"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tripcast/tripcast/internal/clock"
)

// Record is one appended high-water-mark observation. Records are never
// mutated after append.
type Record struct {
	Time  time.Time `json:"time"`
	Label string    `json:"label"`
	Used  int64     `json:"used"`
	RSS   int64     `json:"rss"`
}

// SampleFunc reports (used, resident) bytes for the current process.
type SampleFunc func() (used, rss int64)

// Monitor samples memory on a fixed tick and records labelled marks. The
// zero tick disables the background sampler; Mark and Sample remain usable
// synchronously.
type Monitor struct {
	tick    time.Duration
	sample  SampleFunc
	mu      sync.Mutex
	label   string
	records []Record
	peak    int64
	cancel  context.CancelFunc
	done    chan struct{}
	warned  bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSampleFunc overrides the platform sampler, mainly for tests.
func WithSampleFunc(fn SampleFunc) Option {
	return func(m *Monitor) {
		m.sample = fn
	}
}

// New creates a monitor sampling every tick. tick <= 0 disables the
// background sampler.
func New(tick time.Duration, options ...Option) *Monitor {
	m := &Monitor{tick: tick, sample: processSample}
	for _, option := range options {
		option(m)
	}
	return m
}

// Start launches the background sampler. A no-op when the tick is disabled.
func (m *Monitor) Start(ctx context.Context) {
	if m.tick <= 0 {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.observe("")
			}
		}
	}()
}

// Stop halts the background sampler and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}

// SetLabel tags subsequent timer samples with the active step label.
func (m *Monitor) SetLabel(label string) {
	m.mu.Lock()
	m.label = label
	m.mu.Unlock()
}

// Sample returns the current (used, resident) bytes without recording.
func (m *Monitor) Sample() (used, rss int64) {
	return m.safeSample()
}

// Mark appends a record for the current sample tagged with label.
func (m *Monitor) Mark(label string) Record {
	return m.observe(label)
}

// Peak returns the maximum used bytes observed since the monitor started.
func (m *Monitor) Peak() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// PeakSince returns the maximum used bytes recorded since the last record
// whose label matches prefix. Zero when no such record exists.
func (m *Monitor) PeakSince(labelPrefix string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := -1
	for i := len(m.records) - 1; i >= 0; i-- {
		if strings.HasPrefix(m.records[i].Label, labelPrefix) {
			start = i
			break
		}
	}
	if start < 0 {
		return 0
	}
	var peak int64
	for _, r := range m.records[start:] {
		if r.Used > peak {
			peak = r.Used
		}
	}
	return peak
}

// Records returns a copy of the append-only high-water-mark log.
func (m *Monitor) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

func (m *Monitor) observe(label string) Record {
	used, rss := m.safeSample()
	m.mu.Lock()
	if label == "" {
		label = m.label
	}
	record := Record{Time: clock.Now(), Label: label, Used: used, RSS: rss}
	m.records = append(m.records, record)
	isPeak := used > m.peak
	if isPeak {
		m.peak = used
	}
	m.mu.Unlock()
	if isPeak {
		log.Printf("memmon: high water mark used %d rss %d (%s)", used, rss, label)
	}
	return record
}

// safeSample shields the pipeline from sampler failures: any panic or error
// degrades to zero readings, logged once.
func (m *Monitor) safeSample() (used, rss int64) {
	defer func() {
		if r := recover(); r != nil {
			used, rss = 0, 0
			m.warnOnce()
		}
	}()
	return m.sample()
}

func (m *Monitor) warnOnce() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.warned {
		m.warned = true
		log.Printf("memmon: memory sampling unavailable, reporting zero")
	}
}

// processSample reads Go heap in-use bytes and, on Linux, the resident set
// from /proc/self/statm. RSS is zero where procfs is unavailable.
func processSample() (used, rss int64) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	used = int64(stats.HeapInuse + stats.StackInuse)
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return used, 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return used, 0
	}
	pages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return used, 0
	}
	return used, pages * int64(os.Getpagesize())
}
