package scan

import (
	"context"
	"sync"
)

// Phase identifies a point in the scan pipeline that reports progress.
type Phase int

const (
	// PhaseStarted is reported once the job is running.
	PhaseStarted Phase = iota
	// PhaseAggregated is reported once sources have returned.
	PhaseAggregated
	// PhaseLeads is reported after each candidate is handled.
	PhaseLeads
	// PhaseDone is reported with the terminal completed status.
	PhaseDone
)

const (
	progressStarted    = 10
	progressAggregated = 40
	progressLeadsSpan  = 40
	progressNoLeads    = 90
	progressDone       = 100
)

// Progress maps a pipeline position to a percentage. Within PhaseLeads the
// value climbs linearly from 40 to 80; with no candidates it is 90.
func Progress(phase Phase, processed, total int) int {
	switch phase {
	case PhaseStarted:
		return progressStarted
	case PhaseAggregated:
		return progressAggregated
	case PhaseLeads:
		if total <= 0 {
			return progressNoLeads
		}
		processed = min(max(processed, 0), total)
		return progressAggregated + progressLeadsSpan*processed/total
	default:
		return progressDone
	}
}

// progressTracker writes a job's progress only when it moves forward.
type progressTracker struct {
	mu    sync.Mutex
	last  int
	write func(ctx context.Context, progress int) error
}

func newProgressTracker(start int, write func(ctx context.Context, progress int) error) *progressTracker {
	return &progressTracker{last: start, write: write}
}

// advance persists p if it exceeds the last written value. The stored value
// is only raised after a successful write.
func (t *progressTracker) advance(ctx context.Context, p int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p <= t.last {
		return nil
	}
	if err := t.write(ctx, p); err != nil {
		return err
	}
	t.last = p
	return nil
}

// current returns the last value written.
func (t *progressTracker) current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
