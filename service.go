package tripcast

import (
	"time"

	"github.com/tripcast/tripcast/model/step"
	"github.com/tripcast/tripcast/runtime/chunk"
	"github.com/tripcast/tripcast/runtime/memmon"
	"github.com/tripcast/tripcast/service/coordinator"
	"github.com/tripcast/tripcast/service/dao/checkpoint"
	checkpointfs "github.com/tripcast/tripcast/service/dao/checkpoint/fs"
	checkpointmem "github.com/tripcast/tripcast/service/dao/checkpoint/memory"
	"github.com/tripcast/tripcast/service/driver"
)

// Service is the engine façade: it owns the step registry, the checkpoint
// store, the memory monitor and the process coordinator, and hands out a
// Runtime to execute pipelines with.
type Service struct {
	config   *Config
	runtime  *Runtime
	registry *step.Registry
	store    checkpoint.Store
	monitor  *memmon.Monitor
	cache    *chunk.Cache
	launcher coordinator.Launcher
}

// New creates an engine service. Construction fails on invalid configuration
// or when the filesystem checkpoint store cannot be opened.
func New(options ...Option) (*Service, error) {
	s := &Service{runtime: &Runtime{}, registry: step.NewRegistry()}
	for _, option := range options {
		option(s)
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) init() error {
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	if s.store == nil {
		if s.config.CheckpointURL != "" {
			store, err := checkpointfs.New(s.config.CheckpointURL)
			if err != nil {
				return err
			}
			s.store = store
		} else {
			s.store = checkpointmem.New()
		}
	}
	if s.monitor == nil {
		s.monitor = memmon.New(time.Duration(s.config.MemTick) * time.Second)
	}
	if s.cache == nil {
		s.cache = chunk.NewCache(s.config.Chunking)
	}

	workers := s.config.NumProcesses
	if workers < 1 {
		workers = 1
	}
	coordinatorOptions := []coordinator.Option{
		coordinator.WithConfig(coordinator.Config{
			WorkerCount:   workers,
			Stagger:       time.Duration(s.config.Stagger) * time.Second,
			WorkerTimeout: time.Duration(s.config.WorkerTimeout) * time.Second,
		}),
	}
	if s.launcher != nil {
		coordinatorOptions = append(coordinatorOptions, coordinator.WithLauncher(s.launcher))
	}
	coordinatorService, err := coordinator.New(coordinatorOptions...)
	if err != nil {
		return err
	}

	driverService, err := driver.New(
		driver.WithConfig(driver.Config{
			ResumeAfter: s.config.ResumeAfter,
			ChunkBudget: s.config.ChunkSize,
			Shadow:      s.config.ShadowPricing,
		}),
		driver.WithRegistry(s.registry),
		driver.WithCheckpointStore(s.store),
		driver.WithCoordinator(coordinatorService),
		driver.WithChunkCache(s.cache),
		driver.WithMonitor(s.monitor),
	)
	if err != nil {
		return err
	}

	s.runtime.config = s.config
	s.runtime.driver = driverService
	s.runtime.monitor = s.monitor
	return nil
}

// RegisterStep adds a model step implementation to the engine's registry.
func (s *Service) RegisterStep(descriptor step.Descriptor, fn step.Func) error {
	return s.registry.Register(descriptor, fn)
}

// Registry exposes the step registry, e.g. for a worker process that needs
// to resolve handed-over step names.
func (s *Service) Registry() *step.Registry {
	return s.registry
}

// CheckpointStore exposes the configured checkpoint store.
func (s *Service) CheckpointStore() checkpoint.Store {
	return s.store
}

// Runtime returns the pipeline runtime.
func (s *Service) Runtime() *Runtime {
	if s.runtime.driver == nil {
		panic("tripcast service not initialised")
	}
	return s.runtime
}
