// Package tripcast provides the execution orchestration core of a household
// travel-demand simulator: it partitions a regional population across a
// bounded set of workers, bounds per-step memory through adaptive chunking,
// coordinates shadow-pricing convergence across partitions, and checkpoints
// every completed step so multi-hour pipelines recover from partial failure.
//
// The individual choice models are external collaborators: they register as
// opaque step functions and the engine stays agnostic to their numeric
// logic. End-users interact with the engine via the Service façade exposed
// by the root package:
//
//	srv, _ := tripcast.New(tripcast.WithConfig(cfg))
//	_ = srv.RegisterStep(step.Descriptor{Name: "school_location", Partitionable: true, ShadowPurpose: "school"}, schoolLocation)
//	rt := srv.Runtime()
//	tables, err := rt.Run(ctx, []string{"initialize", "school_location"}, inputs)
//
// For more details see the individual sub-packages.
package tripcast
