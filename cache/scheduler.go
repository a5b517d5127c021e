package cache

import (
	"sync"

	"github.com/miragestream/core/policy"
)

// Presenter is the drawable surface the scheduler renders into. Ready
// reports whether a drawable and decode pipeline currently exist;
// Render is only ever called while Ready() held true.
type Presenter interface {
	Ready() bool
	Render(Entry) error
}

// Logger is the minimal structured-logging surface the scheduler needs.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}

// Scheduler drives presentation from an external tick source (spec
// §4.7: "a tick stream whose period matches the display refresh or an
// explicit target FPS"). It is not itself a ticker; the caller invokes
// Tick once per vsync or timer fire.
type Scheduler struct {
	cache     *Cache
	streamID  uint32
	presenter Presenter
	log       Logger

	mu          sync.Mutex
	targetFPS   int
	forceRedraw bool
	retryCount  int
}

// NewScheduler constructs a Scheduler for one stream's presentation.
func NewScheduler(c *Cache, streamID uint32, presenter Presenter, targetFPS int, log Logger) *Scheduler {
	if log == nil {
		log = nopLogger{}
	}
	return &Scheduler{
		cache:     c,
		streamID:  streamID,
		presenter: presenter,
		log:       log,
		targetFPS: targetFPS,
	}
}

// SetTargetFPS changes the target rate; takes effect on the next tick
// (spec §4.7 "Changes take effect on the next tick").
func (s *Scheduler) SetTargetFPS(fps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targetFPS = fps
}

// TargetFPS reports the currently configured target rate.
func (s *Scheduler) TargetFPS() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetFPS
}

// RequestRedraw forces the next tick to re-render the current latest
// frame even if it was already presented (spec §4.7 "unless the
// scheduler is explicitly asked to redraw").
func (s *Scheduler) RequestRedraw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceRedraw = true
}

// Tick runs one scheduling step.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	forceRedraw := s.forceRedraw
	s.mu.Unlock()

	if !s.presenter.Ready() {
		// No drawable surface yet; the caller's own tick source re-invokes
		// Tick at policy.PresentRetryInterval cadence while this holds.
		s.mu.Lock()
		s.retryCount++
		s.mu.Unlock()
		return
	}

	latest, ok := s.cache.PeekLatest(s.streamID)
	if !ok {
		return
	}

	lastSeq, hasPresented := s.cache.LastPresented(s.streamID)
	if !forceRedraw && hasPresented && latest.Sequence <= lastSeq {
		return // newest-wins: nothing newer than what's already on screen
	}

	if err := s.presenter.Render(latest); err != nil {
		s.log.Warnf("present scheduler: render sequence %d: %v", latest.Sequence, err)
		return
	}
	s.cache.MarkPresented(s.streamID, latest.Sequence)

	s.mu.Lock()
	s.forceRedraw = false
	s.mu.Unlock()
}

// RetryCount reports how many ticks found no drawable surface, reset
// only by process restart — useful for telemetry assertions in tests.
func (s *Scheduler) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

// ResolveTargetFPS picks a target from {60, 120} (spec §4.7) given the
// client screen's max refresh rate, an optional explicit override, and
// a "ProMotion" (high-refresh) preference.
func ResolveTargetFPS(screenMaxFPS int, override *int, proMotion bool) int {
	if override != nil {
		for _, choice := range policy.TargetFPSChoices {
			if *override == choice {
				return choice
			}
		}
	}
	if proMotion && screenMaxFPS >= 120 {
		return 120
	}
	return 60
}
