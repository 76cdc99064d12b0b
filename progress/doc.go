// Package progress keeps aggregated step counters for a single pipeline run.
// The tracker instance lives in the run context; the driver and coordinator
// update counters through the Delta helper without requiring a global
// registry, and operators consume snapshots through an optional callback.
package progress
