// Package adaptive implements the client-side adaptive quality loop
// (spec §4.10): collapse/pressure-driven fallback and gradual recovery
// toward a baseline bitrate and pixel format. It generalizes the
// teacher's simpler "halve bitrate on packet loss" heuristic in
// moonlight-common-go/video.Stream into the spec's two-dimension
// (bitrate, pixel format) ladder with independent collapse/pressure
// triggers and a cooldown-gated one-notch-at-a-time restore.
package adaptive

import (
	"sync"
	"time"

	"github.com/miragestream/core/policy"
)

// Mode selects how aggressively the loop reacts (spec §4.10).
type Mode int

const (
	ModeDisabled Mode = iota
	ModeAutomatic
	ModeCustomTemporary
)

// Settings is the pair of dimensions the loop steps (spec §4.10:
// bitrate and pixel format; color space is preserved across format
// steps).
type Settings struct {
	BitrateBps int64
	Format     policy.PixelFormat
	ColorSpace string
}

// Logger is the minimal structured-logging surface this package needs.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}

// Loop tracks one stream's adaptive fallback/recovery state.
type Loop struct {
	mu sync.Mutex

	mode     Mode
	baseline Settings
	current  Settings

	collapseEvents       []time.Time
	lastCollapseStepTime time.Time

	pressureConsecutive  int
	lastPressureStepTime time.Time

	stableSince time.Time

	onCommit func(Settings)
	log      Logger
}

// New constructs a Loop starting at baseline with the given mode.
func New(mode Mode, baseline Settings, onCommit func(Settings), log Logger) *Loop {
	if log == nil {
		log = nopLogger{}
	}
	return &Loop{
		mode:     mode,
		baseline: baseline,
		current:  baseline,
		onCommit: onCommit,
		log:      log,
	}
}

// SetMode changes the active mode.
func (l *Loop) SetMode(m Mode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = m
}

// Mode reports the active mode.
func (l *Loop) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// Current reports the currently committed settings.
func (l *Loop) Current() Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// ReportCollapse records an explicit collapse event (decoder failure or
// observed severe loss) and steps down once the threshold is reached
// within the collapse window and cooldown has elapsed (spec §4.10
// "Collapse detection"). Only meaningful in CustomTemporary mode.
func (l *Loop) ReportCollapse(now time.Time) {
	l.mu.Lock()
	if l.mode != ModeCustomTemporary {
		l.mu.Unlock()
		return
	}

	l.collapseEvents = append(l.collapseEvents, now)
	cutoff := now.Add(-policy.CollapseWindow)
	kept := l.collapseEvents[:0]
	for _, t := range l.collapseEvents {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.collapseEvents = kept

	if len(l.collapseEvents) < policy.CollapseThreshold {
		l.mu.Unlock()
		return
	}
	if now.Sub(l.lastCollapseStepTime) < policy.CollapseCooldown {
		l.mu.Unlock()
		return
	}
	l.lastCollapseStepTime = now
	l.collapseEvents = nil
	settings, changed := l.stepDownLocked()
	l.mu.Unlock()

	if changed {
		l.log.Warnf("adaptive: collapse threshold reached, stepping down")
		l.commit(settings)
	}
}

// ReportEncodedFPS feeds one host-reported encoded-FPS sample for
// pressure detection (spec §4.10 "Pressure detection"). transportBound
// or decodeBound, if true, suppress the pressure trigger since the
// shortfall isn't encoder-side.
func (l *Loop) ReportEncodedFPS(now time.Time, encodedFPS, targetFPS float64, transportBound, decodeBound bool) {
	l.mu.Lock()
	if l.mode == ModeDisabled {
		l.mu.Unlock()
		return
	}
	if transportBound || decodeBound {
		l.pressureConsecutive = 0
		l.mu.Unlock()
		return
	}

	if encodedFPS < targetFPS*policy.PressureUnderTargetRatio {
		l.pressureConsecutive++
	} else {
		l.pressureConsecutive = 0
	}

	if l.pressureConsecutive < policy.PressureTriggerCount {
		l.mu.Unlock()
		return
	}
	if now.Sub(l.lastPressureStepTime) < policy.PressureTriggerCooldown {
		l.mu.Unlock()
		return
	}
	l.lastPressureStepTime = now
	l.pressureConsecutive = 0
	settings, changed := l.stepDownLocked()
	l.mu.Unlock()

	if changed {
		l.log.Warnf("adaptive: sustained encoder pressure, stepping down")
		l.commit(settings)
	}
}

// ReportEffectiveFPS feeds one effective (delivered) FPS sample used to
// drive recovery (spec §4.10 "Recovery"). A sample arriving within
// policy.CollapseCooldown of the last collapse-triggered step is
// ignored, matching "ignoring the interval just after a collapse".
func (l *Loop) ReportEffectiveFPS(now time.Time, effectiveFPS, targetFPS float64) {
	l.mu.Lock()
	if l.mode != ModeCustomTemporary {
		l.mu.Unlock()
		return
	}
	if now.Sub(l.lastCollapseStepTime) < policy.CollapseCooldown {
		l.mu.Unlock()
		return
	}
	if l.current == l.baseline {
		l.mu.Unlock()
		return
	}

	if effectiveFPS < targetFPS*policy.RestoreEffectiveFPSRatio {
		l.stableSince = time.Time{}
		l.mu.Unlock()
		return
	}

	if l.stableSince.IsZero() {
		l.stableSince = now
		l.mu.Unlock()
		return
	}
	if now.Sub(l.stableSince) < policy.RestoreWindow {
		l.mu.Unlock()
		return
	}
	l.stableSince = now
	settings, changed := l.stepUpLocked()
	l.mu.Unlock()

	if changed {
		l.log.Debugf("adaptive: stable window elapsed, restoring one notch")
		l.commit(settings)
	}
}

func (l *Loop) commit(s Settings) {
	if l.onCommit != nil {
		l.onCommit(s)
	}
}

// stepDownLocked steps exactly one dimension down: in CustomTemporary
// mode it prefers a format step, falling back to bitrate; in Automatic
// mode it only ever steps bitrate (spec: "Automatic mode ... only steps
// bitrate down on explicit trigger until floor is reached").
func (l *Loop) stepDownLocked() (Settings, bool) {
	if l.mode == ModeCustomTemporary {
		if next, ok := l.current.Format.Next(); ok {
			l.current.Format = next
			return l.current, true
		}
	}
	newBitrate := int64(float64(l.current.BitrateBps) * policy.AdaptiveFallbackBitrateStep)
	if newBitrate < policy.AdaptiveFallbackBitrateFloor {
		newBitrate = policy.AdaptiveFallbackBitrateFloor
	}
	if newBitrate == l.current.BitrateBps {
		return l.current, false
	}
	l.current.BitrateBps = newBitrate
	return l.current, true
}

// stepUpLocked restores exactly one dimension toward baseline,
// preferring format first to mirror the fallback order (spec: "Only one
// dimension recovers per step").
func (l *Loop) stepUpLocked() (Settings, bool) {
	if l.current.Format != l.baseline.Format {
		if prev, ok := l.current.Format.Previous(l.baseline.Format); ok {
			l.current.Format = prev
			return l.current, true
		}
	}
	if l.current.BitrateBps < l.baseline.BitrateBps {
		newBitrate := int64(float64(l.current.BitrateBps) * policy.AdaptiveRestoreBitrateStep)
		if newBitrate > l.baseline.BitrateBps {
			newBitrate = l.baseline.BitrateBps
		}
		if newBitrate == l.current.BitrateBps {
			return l.current, false
		}
		l.current.BitrateBps = newBitrate
		return l.current, true
	}
	return l.current, false
}
