package prefs

import (
	"path/filepath"
	"testing"
	"time"
)

func TestBenchmarkStoreLoadMissingFileIsNotError(t *testing.T) {
	s := NewBenchmarkStore(filepath.Join(t.TempDir(), "bench.json"))
	_, ok, err := s.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for a missing file")
	}
}

func TestBenchmarkStoreSaveThenLoadRoundTrips(t *testing.T) {
	s := NewBenchmarkStore(filepath.Join(t.TempDir(), "bench.json"))
	encodeMs := 4.2
	rec := BenchmarkRecord{
		Version:      1,
		Width:        1920,
		Height:       1080,
		FrameRate:    120,
		HostEncodeMs: &encodeMs,
		MeasuredAt:   time.Now().UTC().Truncate(time.Second),
	}
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load()
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.Width != rec.Width || got.Height != rec.Height || got.FrameRate != rec.FrameRate {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.HostEncodeMs == nil || *got.HostEncodeMs != encodeMs {
		t.Fatalf("hostEncodeMs not preserved: %+v", got.HostEncodeMs)
	}
	if got.ClientDecodeMs != nil {
		t.Fatalf("expected clientDecodeMs to remain nil, got %v", *got.ClientDecodeMs)
	}
}

func TestBenchmarkStoreSaveOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.json")
	s := NewBenchmarkStore(path)

	if err := s.Save(BenchmarkRecord{Width: 1280, Height: 720}); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := s.Save(BenchmarkRecord{Width: 1920, Height: 1080}); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, ok, err := s.Load()
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.Width != 1920 || got.Height != 1080 {
		t.Fatalf("expected second save to win, got %+v", got)
	}
}
