package tripcast

import (
	"context"
	"fmt"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/tripcast/tripcast/runtime/chunk"
	"github.com/tripcast/tripcast/runtime/shadow"
)

// Config is a serialisable representation of the engine configuration. It
// can be populated from JSON or YAML; the zero value is useful, all nested
// fields inherit their package defaults.
type Config struct {
	// ChunkSize is the per-call memory budget in bytes for chunkable
	// steps; 0 disables chunking.
	ChunkSize int64 `json:"chunkSize" yaml:"chunkSize"`

	// NumProcesses is the partitioned-step worker count; 0 or 1 selects
	// single-process mode.
	NumProcesses int `json:"numProcesses" yaml:"numProcesses"`

	// Stagger delays each worker's start by its index times this many
	// seconds to smooth the launch memory spike.
	Stagger int `json:"stagger" yaml:"stagger"`

	// MemTick is the memory monitor sampling interval in seconds; 0
	// disables timer sampling.
	MemTick int `json:"memTick" yaml:"memTick"`

	// WorkerTimeout bounds one worker's execution in seconds; a worker
	// running past it is treated as failed. 0 disables the bound.
	WorkerTimeout int `json:"workerTimeout" yaml:"workerTimeout"`

	// HouseholdsSampleSize limits the run to a deterministic subsample of
	// whole households; 0 runs the full population.
	HouseholdsSampleSize int `json:"householdsSampleSize" yaml:"householdsSampleSize"`

	// SampleSeed fixes the household subsample so resumed runs see the
	// same population as the runs they resume.
	SampleSeed int64 `json:"sampleSeed" yaml:"sampleSeed"`

	// ResumeAfter names the checkpointed step to resume after; the
	// "_last_" sentinel resumes after the most recent checkpoint.
	ResumeAfter string `json:"resumeAfter" yaml:"resumeAfter"`

	// CheckpointURL roots the filesystem checkpoint store; empty keeps
	// checkpoints in memory for the duration of the run.
	CheckpointURL string `json:"checkpointURL" yaml:"checkpointURL"`

	// Chunking tunes the chunker's row-cost estimates.
	Chunking chunk.Config `json:"chunking" yaml:"chunking"`

	// ShadowPricing tunes the shadow price convergence loops.
	ShadowPricing shadow.Config `json:"shadowPricing" yaml:"shadowPricing"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	return &Config{
		NumProcesses:  1,
		Chunking:      chunk.DefaultConfig(),
		ShadowPricing: shadow.DefaultConfig(),
	}
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunkSize cannot be negative")
	}
	if c.NumProcesses < 0 {
		return fmt.Errorf("numProcesses cannot be negative")
	}
	if c.Stagger < 0 {
		return fmt.Errorf("stagger cannot be negative")
	}
	if c.MemTick < 0 {
		return fmt.Errorf("memTick cannot be negative")
	}
	if c.HouseholdsSampleSize < 0 {
		return fmt.Errorf("householdsSampleSize cannot be negative")
	}
	return nil
}

// LoadConfig reads a YAML configuration from URL (any scheme the storage
// layer supports) on top of the defaults.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	data, err := afs.New().DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", URL, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", URL, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
