// Package model defines the data types shared across the pipeline engine:
// attribute tables, named snapshot sets and the household population. The
// engine never interprets attribute values; model steps own the numeric
// semantics while the engine slices, partitions, snapshots and re-assembles
// rows.
package model
