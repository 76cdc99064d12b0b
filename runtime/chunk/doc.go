// Package chunk bounds per-call memory growth by splitting a table into
// contiguous row ranges sized from observed peak memory. Estimates live in a
// run-scoped cache keyed by (step, table) and are refined after every chunk
// from the memory monitor's observations.
package chunk
