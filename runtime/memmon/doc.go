// Package memmon samples process memory on a timer and keeps an append-only
// log of high-water marks tagged with the active step label. Sampling never
// blocks step execution; on platforms where resident-set inspection is
// unavailable it degrades to zero rather than failing the pipeline.
package memmon
