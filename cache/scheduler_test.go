package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/miragestream/core/wire"
)

type fakePresenter struct {
	ready    bool
	rendered []Entry
	failNext bool
}

func (p *fakePresenter) Ready() bool { return p.ready }

func (p *fakePresenter) Render(e Entry) error {
	if p.failNext {
		p.failNext = false
		return errors.New("render failed")
	}
	p.rendered = append(p.rendered, e)
	return nil
}

func TestSchedulerRendersNewestOnReadyTick(t *testing.T) {
	c := New()
	p := &fakePresenter{ready: true}
	s := NewScheduler(c, 1, p, 60, nil)

	c.Enqueue(1, wire.ContentRect{}, []byte("frame1"), time.Now())
	s.Tick()

	if len(p.rendered) != 1 || string(p.rendered[0].Pixels) != "frame1" {
		t.Fatalf("expected frame1 rendered, got %+v", p.rendered)
	}
}

func TestSchedulerSkipsRenderWithoutDrawable(t *testing.T) {
	c := New()
	p := &fakePresenter{ready: false}
	s := NewScheduler(c, 1, p, 60, nil)

	c.Enqueue(1, wire.ContentRect{}, []byte("frame1"), time.Now())
	s.Tick()

	if len(p.rendered) != 0 {
		t.Fatalf("expected no render while not ready, got %+v", p.rendered)
	}
	if s.RetryCount() != 1 {
		t.Fatalf("expected retry counted, got %d", s.RetryCount())
	}
}

func TestSchedulerNewestWinsAcrossTicks(t *testing.T) {
	c := New()
	p := &fakePresenter{ready: true}
	s := NewScheduler(c, 1, p, 60, nil)

	c.Enqueue(1, wire.ContentRect{}, []byte("a"), time.Now())
	c.Enqueue(1, wire.ContentRect{}, []byte("b"), time.Now())
	s.Tick()

	if len(p.rendered) != 1 || string(p.rendered[0].Pixels) != "b" {
		t.Fatalf("expected only newest frame rendered, got %+v", p.rendered)
	}
}

func TestSchedulerNeverPresentsSameFrameTwiceWithoutRedraw(t *testing.T) {
	c := New()
	p := &fakePresenter{ready: true}
	s := NewScheduler(c, 1, p, 60, nil)

	c.Enqueue(1, wire.ContentRect{}, []byte("a"), time.Now())
	s.Tick()
	s.Tick() // nothing newer since last tick

	if len(p.rendered) != 1 {
		t.Fatalf("expected exactly one render, got %d", len(p.rendered))
	}
}

func TestSchedulerRequestRedrawForcesRerender(t *testing.T) {
	c := New()
	p := &fakePresenter{ready: true}
	s := NewScheduler(c, 1, p, 60, nil)

	c.Enqueue(1, wire.ContentRect{}, []byte("a"), time.Now())
	s.Tick()
	s.RequestRedraw()
	s.Tick()

	if len(p.rendered) != 2 {
		t.Fatalf("expected redraw to re-render, got %d renders", len(p.rendered))
	}
}

func TestResolveTargetFPS(t *testing.T) {
	sixty := 60
	oneTwenty := 120
	cases := []struct {
		name        string
		screenMax   int
		override    *int
		proMotion   bool
		want        int
	}{
		{"explicit override honored", 60, &oneTwenty, false, 120},
		{"invalid override ignored, falls through", 144, intPtr(90), true, 120},
		{"promotion with high refresh screen", 120, nil, true, 120},
		{"no promotion defaults to 60", 120, nil, false, 60},
		{"promotion but low refresh screen", 60, nil, true, 60},
		{"explicit 60 honored even with promotion", 120, &sixty, true, 60},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveTargetFPS(tc.screenMax, tc.override, tc.proMotion)
			if got != tc.want {
				t.Fatalf("ResolveTargetFPS(%d, %v, %v) = %d, want %d", tc.screenMax, tc.override, tc.proMotion, got, tc.want)
			}
		})
	}
}

func intPtr(v int) *int { return &v }
