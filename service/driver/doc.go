// Package driver sequences the ordered step list: it consults the checkpoint
// store to skip, resume or execute each step, dispatches partitionable steps
// to the process coordinator, bounds single-process steps through the
// chunker, and persists a checkpoint after every completed step. A fatal
// step error halts the pipeline; the last successful checkpoint remains the
// resume point for the next run.
package driver
