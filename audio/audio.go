// Package audio implements the host-side audio pipeline (spec §4.9):
// one audio source bound per client, with fallback to the next eligible
// stream when the active source stops, and a reference-counted
// mute-while-streaming hook. It follows the same lock-protected,
// callback-driven shape as controlchan.StreamLifecycle, generalized
// from a single state machine to a source-selection policy over a
// candidate list.
package audio

import "sync"

// Format identifies the negotiated audio encoding for a pipeline.
// audioStreamStarted is re-sent only when one of these fields changes
// (spec §4.9).
type Format struct {
	Codec        string
	SampleRate   int
	ChannelCount int
}

// Logger is the minimal structured-logging surface this package needs.
type Logger interface {
	Debugf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}

// Pipeline tracks one client's active audio source and its fallback
// candidates.
type Pipeline struct {
	mu            sync.Mutex
	candidates    []uint32
	active        uint32
	hasActive     bool
	lastFormat    Format
	hasLastFormat bool

	onStarted func(streamID uint32, format Format)
	onStopped func()
	log       Logger
}

// New returns a Pipeline with the given ordered fallback candidates
// (most-preferred first).
func New(candidates []uint32, onStarted func(uint32, Format), onStopped func(), log Logger) *Pipeline {
	if log == nil {
		log = nopLogger{}
	}
	cp := make([]uint32, len(candidates))
	copy(cp, candidates)
	return &Pipeline{
		candidates: cp,
		onStarted:  onStarted,
		onStopped:  onStopped,
		log:        log,
	}
}

// Activate binds streamID as the active audio source. onStarted fires
// only if the source changed or the format changed, never on a
// no-op repeat of the same source/format.
func (p *Pipeline) Activate(streamID uint32, format Format) {
	p.mu.Lock()
	alreadyActive := p.hasActive && p.active == streamID
	formatChanged := !p.hasLastFormat || p.lastFormat != format
	p.active = streamID
	p.hasActive = true
	p.lastFormat = format
	p.hasLastFormat = true
	if !p.contains(streamID) {
		p.candidates = append([]uint32{streamID}, p.candidates...)
	}
	p.mu.Unlock()

	if !alreadyActive || formatChanged {
		p.log.Debugf("audio: activating source %d (format changed=%v)", streamID, formatChanged)
		if p.onStarted != nil {
			p.onStarted(streamID, format)
		}
	}
}

func (p *Pipeline) contains(streamID uint32) bool {
	for _, c := range p.candidates {
		if c == streamID {
			return true
		}
	}
	return false
}

// SourceStopped reports that streamID (an audio source) is no longer
// available. If it was the active source, the pipeline falls back to
// the next eligible candidate for which formatFor reports a format, or
// stops entirely and fires onStopped if none remain (spec §4.9).
func (p *Pipeline) SourceStopped(streamID uint32, formatFor func(streamID uint32) (Format, bool)) {
	p.mu.Lock()
	p.removeCandidateLocked(streamID)
	if !p.hasActive || p.active != streamID {
		p.mu.Unlock()
		return
	}
	candidates := make([]uint32, len(p.candidates))
	copy(candidates, p.candidates)
	p.mu.Unlock()

	for _, c := range candidates {
		if format, ok := formatFor(c); ok {
			p.Activate(c, format)
			return
		}
	}

	p.mu.Lock()
	p.hasActive = false
	p.hasLastFormat = false
	p.mu.Unlock()

	p.log.Debugf("audio: no eligible fallback source, stopping")
	if p.onStopped != nil {
		p.onStopped()
	}
}

func (p *Pipeline) removeCandidateLocked(streamID uint32) {
	for i, c := range p.candidates {
		if c == streamID {
			p.candidates = append(p.candidates[:i], p.candidates[i+1:]...)
			return
		}
	}
}

// ActiveStreamID reports the currently active source, if any.
func (p *Pipeline) ActiveStreamID() (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active, p.hasActive
}
