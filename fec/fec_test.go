package fec

import (
	"bytes"
	"testing"
)

func TestEncodeReconstructSingleMissing(t *testing.T) {
	data := [][]byte{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
		{13, 14, 15, 16},
	}
	parity := make([]byte, 4)
	if err := Encode(data, parity); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	present := []bool{true, true, false, true}
	got, err := Reconstruct(data, present, parity, 2)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !bytes.Equal(got, data[2]) {
		t.Fatalf("reconstructed %v, want %v", got, data[2])
	}
}

func TestReconstructRejectsTwoMissing(t *testing.T) {
	data := [][]byte{{1}, nil, nil, {4}}
	present := []bool{true, false, false, true}
	if _, err := Reconstruct(data, present, []byte{0}, 1); err != ErrNotEnoughToRepair {
		t.Fatalf("got %v, want ErrNotEnoughToRepair", err)
	}
}

func TestParityFragmentCount(t *testing.T) {
	b, err := New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cases := map[int]int{0: 0, 1: 1, 8: 1, 9: 2, 16: 2, 17: 3}
	for dataCount, want := range cases {
		if got := b.ParityFragmentCount(dataCount); got != want {
			t.Fatalf("ParityFragmentCount(%d) = %d, want %d", dataCount, got, want)
		}
	}
}

func TestEncodeRejectsShardSizeMismatch(t *testing.T) {
	data := [][]byte{{1, 2}, {1}}
	if err := Encode(data, make([]byte, 2)); err != ErrShardSizeMismatch {
		t.Fatalf("got %v, want ErrShardSizeMismatch", err)
	}
}
