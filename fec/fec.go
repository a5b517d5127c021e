// Package fec implements the single-parity XOR forward-error-correction
// scheme spec §9 pins down ("single-parity XOR per block ... tolerates
// one missing data fragment per block"). It keeps the codec-object shape
// (New/Encode/Reconstruct, grouped by block) from the teacher's
// moonlight-common-go/fec, which wraps a full Reed-Solomon codec; that
// generality isn't needed here since the wire format only ever carries
// one parity fragment per FEC block (spec §4.3 step 4), so the matrix
// machinery was dropped rather than adapted — see DESIGN.md.
package fec

import "errors"

var (
	ErrBlockSizeTooSmall = errors.New("fec: block size must be >= 2")
	ErrShardSizeMismatch = errors.New("fec: shard size mismatch")
	ErrNotEnoughToRepair = errors.New("fec: more than one data shard missing in block")
)

// Block is one FEC unit: a run of up to blockSize data fragments and
// exactly one parity fragment, the unit spec §4.3/§4.5 operate on.
type Block struct {
	blockSize int
}

// New returns a Block codec for the given block size (spec "fecBlockSize").
func New(blockSize int) (*Block, error) {
	if blockSize < 2 {
		return nil, ErrBlockSizeTooSmall
	}
	return &Block{blockSize: blockSize}, nil
}

// BlockSize returns the configured block size.
func (b *Block) BlockSize() int { return b.blockSize }

// ParityFragmentCount returns ceil(dataFragmentCount / blockSize), the
// parity-fragment count formula from spec §4.3 step 2.
func (b *Block) ParityFragmentCount(dataFragmentCount int) int {
	if dataFragmentCount <= 0 {
		return 0
	}
	return (dataFragmentCount + b.blockSize - 1) / b.blockSize
}

// Encode XORs the byte at each offset across every data shard in a block
// to produce that block's parity shard (spec §4.3 step 4). All data
// shards and the parity output must share one byte length; shorter
// shards (the last one in a ragged final fragment) must be pre-padded by
// the caller to the block's max fragment length.
func Encode(dataShards [][]byte, parityOut []byte) error {
	if len(dataShards) == 0 {
		return ErrNotEnoughToRepair
	}
	n := len(dataShards[0])
	if len(parityOut) != n {
		return ErrShardSizeMismatch
	}
	for i := range parityOut {
		parityOut[i] = 0
	}
	for _, shard := range dataShards {
		if len(shard) != n {
			return ErrShardSizeMismatch
		}
		for i, v := range shard {
			parityOut[i] ^= v
		}
	}
	return nil
}

// Reconstruct recovers the single missing data shard in a block by
// XORing the present data shards with the parity shard (spec §4.5 step
// 4: "reconstruct the missing data fragment via XOR of the remaining
// data fragments and parity fragment"). present[i] tells which of
// dataShards is actually populated; at most one may be false. Every
// present shard must be as long as parity (the missing one may be nil);
// the recovered shard is returned as a newly allocated slice.
func Reconstruct(dataShards [][]byte, present []bool, parity []byte, missingIndex int) ([]byte, error) {
	missing := -1
	count := 0
	for i, ok := range present {
		if !ok {
			missing = i
			count++
		}
	}
	if count > 1 {
		return nil, ErrNotEnoughToRepair
	}
	if count == 0 {
		return nil, nil // nothing to do
	}
	if missing != missingIndex {
		return nil, ErrNotEnoughToRepair
	}

	n := len(parity)
	out := make([]byte, n)
	copy(out, parity)
	for i, shard := range dataShards {
		if !present[i] {
			continue
		}
		if len(shard) != n {
			return nil, ErrShardSizeMismatch
		}
		for j, v := range shard {
			out[j] ^= v
		}
	}
	return out, nil
}
