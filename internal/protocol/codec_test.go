package protocol

import (
	"encoding/base64"
	"math/rand"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statecast-project/statecast/internal/delta"
)

func mustDiff(t *testing.T, old, next []byte) *delta.Delta {
	t.Helper()
	d, err := delta.Diff(old, next)
	require.NoError(t, err)
	return d
}

func TestEncodeText_Golden(t *testing.T) {
	g := goldie.New(t)

	tests := []struct {
		name string
		msg  Message
	}{
		{"bios", Bios{Image: []byte{0xde, 0xad, 0xbe, 0xef}}},
		{"rom", Rom{Image: []byte{}}},
		{"play", Play{Event: []byte{7, 8, 9}}},
		{"snapshot", Snapshot{State: []byte{0, 1, 2, 3, 4, 5}}},
		{"delta_snapshot", DeltaSnapshot{Delta: mustDiff(t, []byte{0, 1, 2, 3, 4, 5}, []byte{0, 1, 9, 3, 4, 9})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Assert(t, tt.name, []byte(EncodeText(tt.msg)))
		})
	}
}

func TestRoundTrip_AllVariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	payload := func(n int) []byte {
		b := make([]byte, n)
		rng.Read(b)
		return b
	}

	for _, size := range []int{0, 1, 254, 255, 256, 4096} {
		old := payload(size)
		next := payload(size)

		msgs := []Message{
			Bios{Image: payload(size)},
			Rom{Image: payload(size)},
			Play{Event: payload(size)},
			Snapshot{State: payload(size)},
			DeltaSnapshot{Delta: mustDiff(t, old, next)},
		}

		for _, m := range msgs {
			got, err := DecodeText(EncodeText(m))
			require.NoError(t, err, "kind=%s size=%d", m.Kind(), size)
			assert.Equal(t, m, got, "kind=%s size=%d", m.Kind(), size)
			assert.Equal(t, m.Kind(), got.Kind())
		}
	}
}

func TestRoundTrip_DecodedDeltaApplies(t *testing.T) {
	old := []byte{0, 1, 2, 3, 4, 5}
	next := []byte{0, 1, 9, 3, 4, 9}

	msg, err := DecodeText(EncodeText(DeltaSnapshot{Delta: mustDiff(t, old, next)}))
	require.NoError(t, err)

	ds, ok := msg.(DeltaSnapshot)
	require.True(t, ok, "decoded %T, want DeltaSnapshot", msg)

	got, err := ds.Delta.Apply(old)
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestDecodeText_InvalidBase64(t *testing.T) {
	_, err := DecodeText("not base64!!")
	require.Error(t, err)
	assert.True(t, IsEncodingError(err, ErrKindBase64))

	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.NotEmpty(t, encErr.Stack)
}

func TestEncodeText_NoLineWrapping(t *testing.T) {
	text := EncodeText(Snapshot{State: make([]byte, 4096)})
	assert.NotContains(t, text, "\n")
	assert.NotContains(t, text, "\r")
}

func TestDecodeBinary_Malformed(t *testing.T) {
	enc := func(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", []byte{}, ErrTruncated},
		{"header only version", []byte{WireVersion}, ErrTruncated},
		{"legacy version", []byte{WireVersionLegacy, TagPlay, 0, 0, 0, 0}, ErrUnsupportedVersion},
		{"unknown tag", []byte{WireVersion, 0x05, 0, 0, 0, 0}, ErrUnknownTag},
		{"truncated length", []byte{WireVersion, TagRom, 3, 0}, ErrTruncated},
		{"truncated blob", []byte{WireVersion, TagRom, 3, 0, 0, 0, 1, 2}, ErrTruncated},
		{"trailing data", []byte{WireVersion, TagPlay, 1, 0, 0, 0, 7, 8}, ErrTrailingData},
		{"oversized blob", []byte{WireVersion, TagSnapshot, 0xff, 0xff, 0xff, 0xff}, ErrPayloadTooLarge},
		{"delta truncated hash", []byte{WireVersion, TagDeltaSnapshot, 1}, ErrTruncated},
		{
			"delta offset out of chunk",
			[]byte{WireVersion, TagDeltaSnapshot, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 1, 0, 255, 1},
			ErrMalformedDelta,
		},
		{
			"delta chunks out of order",
			[]byte{WireVersion, TagDeltaSnapshot, 0, 0, 2, 0, 0, 0,
				1, 0, 0, 0, 1, 0, 0, 1,
				0, 0, 0, 0, 1, 0, 0, 1},
			ErrMalformedDelta,
		},
		{
			"delta too many entries",
			[]byte{WireVersion, TagDeltaSnapshot, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 1},
			ErrMalformedDelta,
		},
		{
			"delta chunk count exceeds data",
			[]byte{WireVersion, TagDeltaSnapshot, 0, 0, 0xff, 0xff, 0, 0},
			ErrTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBinary(tt.data)
			require.Error(t, err)
			assert.True(t, IsEncodingError(err, ErrKindBinary), "got %v", err)
			assert.ErrorIs(t, err, tt.want)

			_, err = DecodeText(enc(tt.data))
			assert.True(t, IsEncodingError(err, ErrKindBinary))
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "bios", KindBios.String())
	assert.Equal(t, "delta_snapshot", KindDeltaSnapshot.String())
	assert.Equal(t, "unknown", Kind(9).String())
	assert.Len(t, Kinds(), 5)
}

func TestMessage_Size(t *testing.T) {
	d := mustDiff(t, []byte{1, 2, 3}, []byte{4, 2, 6})
	assert.Equal(t, 4, DeltaSnapshot{Delta: d}.Size())
	assert.Equal(t, 3, Play{Event: []byte{1, 2, 3}}.Size())
	assert.Equal(t, 0, DeltaSnapshot{}.Size())
}

func TestPacketBuilder_String(t *testing.T) {
	b := NewPacketBuilder().WriteUint8(1).WriteUint16(0x0302).WriteUint32(0x07060504)
	assert.Equal(t, 7, b.Len())
	assert.Equal(t, "PacketBuilder[7 bytes]: 01020304050607", b.String())

	b.Reset()
	assert.Equal(t, 0, b.Len())
}
