package pacing

import (
	"context"
	"testing"
	"time"
)

func TestPacerDisabledAtZeroBitrate(t *testing.T) {
	p := New(0, 1200)
	if p.Enabled() {
		t.Fatalf("pacer with zero bitrate should be disabled")
	}
	if err := p.Wait(context.Background(), 100_000); err != nil {
		t.Fatalf("disabled pacer should never block: %v", err)
	}
}

func TestPacerSustainsApproximateRate(t *testing.T) {
	const bitrate = 8_000_000 // 1 MB/s
	p := New(bitrate, 1200)

	ctx := context.Background()
	start := time.Now()
	sent := 0
	for time.Since(start) < 300*time.Millisecond {
		if err := p.Wait(ctx, 1200); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		sent += 1200
	}
	elapsed := time.Since(start).Seconds()
	gotRate := float64(sent) / elapsed
	wantRate := bitrate / 8.0
	ratio := gotRate / wantRate
	if ratio < 0.7 || ratio > 1.3 {
		t.Fatalf("throughput %.0f B/s too far from target %.0f B/s (ratio %.2f)", gotRate, wantRate, ratio)
	}
}

func TestPacerBurstClamp(t *testing.T) {
	// At a very low bitrate, burst must still be >= minBurstPackets*maxPayload.
	p := New(1000, 1200) // 125 B/s nominal
	if !p.enabled {
		t.Fatalf("expected pacer enabled")
	}
	if p.limiter.Burst() < 8*1200 {
		t.Fatalf("burst %d below min clamp", p.limiter.Burst())
	}

	// At a very high bitrate, burst must be clamped to maxBurstPackets*maxPayload.
	p2 := New(10_000_000_000, 1200)
	if p2.limiter.Burst() > 64*1200 {
		t.Fatalf("burst %d above max clamp", p2.limiter.Burst())
	}
}

func TestPacerWaitRespectsCancellation(t *testing.T) {
	p := New(800, 1200) // very slow: 100 B/s
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// Drain the burst first so the next reservation actually needs to wait.
	_ = p.Wait(context.Background(), p.limiter.Burst())

	err := p.Wait(ctx, 1200)
	if err == nil {
		t.Fatalf("expected context deadline error")
	}
}
