// Package protocol implements the Statecast wire format: the five-variant
// Message type, its binary layout and the base64 text encoding carried in
// WebSocket text frames. All multi-byte integers are little-endian.
package protocol

// WireVersion is the first byte of every encoded message.
//
// Version 1 was the legacy flat absolute-index delta layout and is not
// accepted. Version 2 carries chunked deltas.
const (
	WireVersionLegacy byte = 0x01
	WireVersion       byte = 0x02
)

// Message tags, one per Message variant.
const (
	TagBios          byte = 0x00 // Full firmware image
	TagRom           byte = 0x01 // Full cartridge image
	TagPlay          byte = 0x02 // Opaque playback/control event
	TagDeltaSnapshot byte = 0x03 // Sparse patch against the last snapshot
	TagSnapshot      byte = 0x04 // Full snapshot buffer
)

// MaxPayloadSize bounds any single length-prefixed field.
const MaxPayloadSize = 64 << 20

// MaxChunkEntries is the most entries a delta chunk can hold: one per offset.
const MaxChunkEntries = 255

// HeaderSize is the size of the version and tag bytes.
const HeaderSize = 2

// Kind identifies a Message variant.
type Kind byte

const (
	KindBios          = Kind(TagBios)
	KindRom           = Kind(TagRom)
	KindPlay          = Kind(TagPlay)
	KindDeltaSnapshot = Kind(TagDeltaSnapshot)
	KindSnapshot      = Kind(TagSnapshot)
)

var kindStrings = map[Kind]string{
	KindBios:          "bios",
	KindRom:           "rom",
	KindPlay:          "play",
	KindDeltaSnapshot: "delta_snapshot",
	KindSnapshot:      "snapshot",
}

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return "unknown"
}

// Kinds returns every valid kind in tag order.
func Kinds() []Kind {
	return []Kind{KindBios, KindRom, KindPlay, KindDeltaSnapshot, KindSnapshot}
}
