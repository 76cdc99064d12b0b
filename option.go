package tripcast

import (
	"github.com/tripcast/tripcast/runtime/chunk"
	"github.com/tripcast/tripcast/runtime/memmon"
	"github.com/tripcast/tripcast/service/coordinator"
	"github.com/tripcast/tripcast/service/dao/checkpoint"
)

// Option configures the engine service.
type Option func(s *Service)

// WithConfig sets the engine configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithCheckpointStore overrides the checkpoint store chosen by the
// configuration.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithLauncher sets the worker launcher, e.g. a subprocess launcher for
// OS-level worker isolation.
func WithLauncher(launcher coordinator.Launcher) Option {
	return func(s *Service) {
		s.launcher = launcher
	}
}

// WithMonitor sets the memory monitor.
func WithMonitor(monitor *memmon.Monitor) Option {
	return func(s *Service) {
		s.monitor = monitor
	}
}

// WithChunkCache sets the run-scoped chunk estimate cache.
func WithChunkCache(cache *chunk.Cache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}
