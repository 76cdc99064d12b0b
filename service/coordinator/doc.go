// Package coordinator partitions the household population across a bounded
// set of workers, launches them with staggered start times, enforces barrier
// semantics for shadow-pricing iterations and merges per-partition output
// back into population order. Workers never share mutable state with the
// coordinator: partitions go out as copies, results come back as messages.
package coordinator
