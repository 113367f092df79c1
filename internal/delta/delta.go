// Package delta computes and applies sparse byte-level diffs between two
// equal-length snapshot buffers.
//
// Changed positions are bucketed into chunks of ChunkSize bytes so each
// position is addressed by a chunk index and a one-byte offset within the
// chunk. Only positions whose value changed are recorded.
package delta

import (
	"errors"
	"fmt"
	"sort"
)

// ChunkSize is the number of buffer positions covered by one chunk.
// Offsets within a chunk are 0..ChunkSize-1 and fit in a single byte.
const ChunkSize = 255

var (
	// ErrLengthMismatch is returned by Diff when old and new differ in length.
	ErrLengthMismatch = errors.New("delta: buffers differ in length")

	// ErrHashMismatch is returned by Apply when the baseline does not match
	// the buffer the delta was computed against.
	ErrHashMismatch = errors.New("delta: baseline hash mismatch")

	// ErrDeltaConsumed is returned when Apply is called on a delta that has
	// already been applied.
	ErrDeltaConsumed = errors.New("delta: already applied")

	// ErrOutOfRange is returned by Apply when an entry addresses a position
	// past the end of the baseline.
	ErrOutOfRange = errors.New("delta: entry out of range")
)

// Entry is a single changed position inside a chunk.
type Entry struct {
	Offset uint8
	Value  byte
}

// Delta is the difference between an old and a new buffer of identical length.
type Delta struct {
	// OldHash is the first and last byte of the old buffer. It is a cheap
	// staleness check, not a cryptographic guarantee.
	OldHash [2]byte

	// Chunks maps chunk index (position / ChunkSize) to the entries changed
	// in that chunk, in ascending offset order.
	Chunks map[uint32][]Entry

	applied bool
}

// HashMismatchError reports a baseline that diverged from the sender's.
type HashMismatchError struct {
	Want [2]byte
	Got  [2]byte
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("delta: baseline hash mismatch: want %02x%02x, got %02x%02x",
		e.Want[0], e.Want[1], e.Got[0], e.Got[1])
}

// Unwrap lets errors.Is match ErrHashMismatch.
func (e *HashMismatchError) Unwrap() error {
	return ErrHashMismatch
}

// New returns an empty delta for a baseline with the given hash.
func New(oldHash [2]byte) *Delta {
	return &Delta{
		OldHash: oldHash,
		Chunks:  make(map[uint32][]Entry),
	}
}

// Hash returns the 2-byte fingerprint of buf: its first and last byte, or
// zeros for an empty buffer.
func Hash(buf []byte) [2]byte {
	if len(buf) == 0 {
		return [2]byte{}
	}
	return [2]byte{buf[0], buf[len(buf)-1]}
}

// Diff walks old and next position by position and records every position
// whose value changed. Both buffers must have the same length.
func Diff(old, next []byte) (*Delta, error) {
	if len(old) != len(next) {
		return nil, fmt.Errorf("%w: old=%d new=%d", ErrLengthMismatch, len(old), len(next))
	}

	d := New(Hash(old))
	for i := range old {
		if old[i] == next[i] {
			continue
		}
		chunk := uint32(i / ChunkSize)
		d.Chunks[chunk] = append(d.Chunks[chunk], Entry{
			Offset: uint8(i % ChunkSize),
			Value:  next[i],
		})
	}

	return d, nil
}

// Apply patches a copy of old and returns it. old is never mutated.
//
// The delta is single-use: after a successful Apply every further call
// returns ErrDeltaConsumed. A hash mismatch does not consume the delta.
func (d *Delta) Apply(old []byte) ([]byte, error) {
	if d.applied {
		return nil, ErrDeltaConsumed
	}

	if got := Hash(old); got != d.OldHash {
		return nil, &HashMismatchError{Want: d.OldHash, Got: got}
	}

	out := make([]byte, len(old))
	copy(out, old)

	for _, chunk := range d.ChunkIndexes() {
		base := int64(chunk) * ChunkSize
		for _, e := range d.Chunks[chunk] {
			pos := base + int64(e.Offset)
			if pos >= int64(len(out)) {
				return nil, fmt.Errorf("%w: position %d, buffer length %d", ErrOutOfRange, pos, len(out))
			}
			out[pos] = e.Value
		}
	}

	d.applied = true
	return out, nil
}

// Applied reports whether the delta has been consumed.
func (d *Delta) Applied() bool {
	return d.applied
}

// ChunkIndexes returns the chunk keys in ascending order.
func (d *Delta) ChunkIndexes() []uint32 {
	keys := make([]uint32, 0, len(d.Chunks))
	for k := range d.Chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Changes returns the number of changed positions recorded across all chunks.
func (d *Delta) Changes() int {
	n := 0
	for _, entries := range d.Chunks {
		n += len(entries)
	}
	return n
}
