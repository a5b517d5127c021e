package audio

import "sync"

// MuteController drives an optional host-side "mute local audio while
// streaming" hook from a reference count of active pipelines (spec
// §4.9: "muted iff muteLocalAudioWhileStreaming ∧ any audio pipeline
// active").
type MuteController struct {
	mu                 sync.Mutex
	muteWhileStreaming bool
	activeCount        int
	lastApplied        bool
	setMuted           func(bool)
}

// NewMuteController returns a controller that calls setMuted whenever
// the derived mute state changes.
func NewMuteController(muteWhileStreaming bool, setMuted func(bool)) *MuteController {
	return &MuteController{muteWhileStreaming: muteWhileStreaming, setMuted: setMuted}
}

// SetMuteWhileStreaming updates the preference and reapplies the
// derived mute state immediately.
func (m *MuteController) SetMuteWhileStreaming(v bool) {
	m.mu.Lock()
	m.muteWhileStreaming = v
	m.mu.Unlock()
	m.apply()
}

// PipelineStarted increments the active-pipeline count.
func (m *MuteController) PipelineStarted() {
	m.mu.Lock()
	m.activeCount++
	m.mu.Unlock()
	m.apply()
}

// PipelineStopped decrements the active-pipeline count, floored at 0.
func (m *MuteController) PipelineStopped() {
	m.mu.Lock()
	if m.activeCount > 0 {
		m.activeCount--
	}
	m.mu.Unlock()
	m.apply()
}

// Muted reports the currently derived mute state.
func (m *MuteController) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muteWhileStreaming && m.activeCount > 0
}

func (m *MuteController) apply() {
	m.mu.Lock()
	muted := m.muteWhileStreaming && m.activeCount > 0
	changed := muted != m.lastApplied
	m.lastApplied = muted
	m.mu.Unlock()

	if changed && m.setMuted != nil {
		m.setMuted(muted)
	}
}
