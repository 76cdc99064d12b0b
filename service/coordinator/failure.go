package coordinator

import (
	"fmt"
	"strings"
)

// WorkerFailure identifies one failed or timed-out worker.
type WorkerFailure struct {
	WorkerID string
	Index    int
	Step     string
	Err      error
}

func (f WorkerFailure) String() string {
	return fmt.Sprintf("worker %d (%s) failed in step %s: %v", f.Index, f.WorkerID, f.Step, f.Err)
}

// SubprocessFailure is the fatal pipeline error raised when one or more
// workers fail during a partitioned step. Results from the surviving
// partitions are discarded; the whole step must be rerun from the checkpoint
// preceding it.
type SubprocessFailure struct {
	Step     string
	Failures []WorkerFailure
}

func (e *SubprocessFailure) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("partitioned step %s failed: %s", e.Step, strings.Join(parts, "; "))
}
