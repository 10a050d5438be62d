package supervisor

import (
	"sync"
	"time"
)

// RestartPolicy decides whether a terminated worker is replaced, and after
// how long
type RestartPolicy interface {
	ShouldRestart(event ExitEvent) (restart bool, delay time.Duration)
}

// AlwaysRestart replaces every worker immediately, whatever the exit status,
// with no backoff and no limit. A worker that crashes on startup therefore
// restarts in a tight loop; operators should watch the restart count.
type AlwaysRestart struct{}

func (AlwaysRestart) ShouldRestart(ExitEvent) (bool, time.Duration) {
	return true, 0
}

// MaxRestarts replaces workers immediately until a slot has been restarted
// Max times within Window, after which that slot is left empty
type MaxRestarts struct {
	Max    int
	Window time.Duration

	mu      sync.Mutex
	history map[int][]time.Time
	now     func() time.Time
}

// NewMaxRestarts creates a MaxRestarts policy
func NewMaxRestarts(limit int, window time.Duration) *MaxRestarts {
	return &MaxRestarts{
		Max:     limit,
		Window:  window,
		history: make(map[int][]time.Time),
		now:     time.Now,
	}
}

func (p *MaxRestarts) ShouldRestart(event ExitEvent) (bool, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	cutoff := now.Add(-p.Window)

	var recent []time.Time
	for _, t := range p.history[event.Handle.Slot] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= p.Max {
		p.history[event.Handle.Slot] = recent
		return false, 0
	}

	p.history[event.Handle.Slot] = append(recent, now)
	return true, 0
}
