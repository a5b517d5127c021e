// Package pacing implements the packet sender's egress token bucket
// (spec §4.3 "Pacer"). It is built on golang.org/x/time/rate — grounded
// via LanternOps-breeze/go.mod, which already pulls golang.org/x/time
// for its own rate-limited agent telemetry — rather than a hand-rolled
// bucket, since rate.Limiter's Reserve/Delay API already gives exactly
// the "sleep for the deficit" behavior spec §4.3 calls for.
package pacing

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/miragestream/core/policy"
)

// Pacer shapes egress to a target bitrate with a clamped burst size.
// Rate zero disables pacing entirely (spec: "Setting bitrate to 0
// disables pacing").
type Pacer struct {
	limiter *rate.Limiter
	enabled bool
	maxPayload int
}

// New returns a Pacer for bitrateBps (bits/sec) and the configured
// maxPayload (bytes per full packet, used to size the burst clamp).
func New(bitrateBps int64, maxPayload int) *Pacer {
	if bitrateBps <= 0 {
		return &Pacer{enabled: false, maxPayload: maxPayload}
	}
	bytesPerSec := float64(bitrateBps) / 8
	burst := clampBurst(bytesPerSec, maxPayload)
	return &Pacer{
		limiter:    rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		enabled:    true,
		maxPayload: maxPayload,
	}
}

func clampBurst(bytesPerSec float64, maxPayload int) int {
	nominal := int(bytesPerSec * policy.BurstSeconds.Seconds())
	min := policy.MinBurstPackets * maxPayload
	max := policy.MaxBurstPackets * maxPayload
	if nominal < min {
		return min
	}
	if nominal > max {
		return max
	}
	return nominal
}

// SetBitrate reconfigures the limiter's rate and burst in place; zero
// disables pacing.
func (p *Pacer) SetBitrate(bitrateBps int64) {
	if bitrateBps <= 0 {
		p.enabled = false
		return
	}
	bytesPerSec := float64(bitrateBps) / 8
	burst := clampBurst(bytesPerSec, p.maxPayload)
	if p.limiter == nil {
		p.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	} else {
		p.limiter.SetLimit(rate.Limit(bytesPerSec))
		p.limiter.SetBurst(burst)
	}
	p.enabled = true
}

// Enabled reports whether pacing is currently active.
func (p *Pacer) Enabled() bool { return p.enabled }

// Wait blocks for exactly the deficit time needed before nBytes may be
// sent, honoring ctx cancellation (spec §5 "every wait ... checks a
// cancellation token and returns promptly"). A no-op when pacing is
// disabled.
func (p *Pacer) Wait(ctx context.Context, nBytes int) error {
	if !p.enabled || p.limiter == nil {
		return nil
	}
	r := p.limiter.ReserveN(time.Now(), nBytes)
	var delay time.Duration
	if !r.OK() {
		// nBytes exceeds burst capacity outright; cancel the
		// reservation and fall back to waiting one full burst-worth.
		r.Cancel()
		delay = time.Duration(float64(p.limiter.Burst()) / float64(p.limiter.Limit()) * float64(time.Second))
	} else {
		delay = r.Delay()
	}
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
