// Package tracing wraps OpenTelemetry so the rest of the code base can emit
// run, step and worker spans through a couple of helper functions without
// depending on the upstream API directly. Applications that do not need
// tracing simply never call Init and all spans become no-ops.
package tracing
