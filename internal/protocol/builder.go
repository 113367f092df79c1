package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/statecast-project/statecast/internal/delta"
)

// PacketBuilder constructs the binary form of a message.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteUint8 writes a single byte.
func (b *PacketBuilder) WriteUint8(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteBlob writes a length-prefixed byte slice.
// Format: [length:4][bytes...]
func (b *PacketBuilder) WriteBlob(data []byte) *PacketBuilder {
	b.WriteUint32(uint32(len(data)))
	b.buf.Write(data)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// WriteDelta writes a chunked delta body.
// Format: [old_hash:2][chunk_count:4] then per chunk, in ascending index
// order: [chunk_index:4][entry_count:2][offset:1 value:1]...
func (b *PacketBuilder) WriteDelta(d *delta.Delta) *PacketBuilder {
	if d == nil {
		d = delta.New([2]byte{})
	}

	b.WriteBytes(d.OldHash[:])
	b.WriteUint32(uint32(len(d.Chunks)))
	for _, idx := range d.ChunkIndexes() {
		entries := d.Chunks[idx]
		b.WriteUint32(idx)
		b.WriteUint16(uint16(len(entries)))
		for _, e := range entries {
			b.buf.WriteByte(e.Offset)
			b.buf.WriteByte(e.Value)
		}
	}
	return b
}

// Build returns the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// ---- Message constructors ----

// BuildMessage writes the header and body of m.
// Format: [version:1][tag:1][body]
func BuildMessage(m Message) []byte {
	b := NewPacketBuilder()
	b.WriteUint8(WireVersion)

	switch msg := m.(type) {
	case Bios:
		b.WriteUint8(TagBios).WriteBlob(msg.Image)
	case Rom:
		b.WriteUint8(TagRom).WriteBlob(msg.Image)
	case Play:
		b.WriteUint8(TagPlay).WriteBlob(msg.Event)
	case DeltaSnapshot:
		b.WriteUint8(TagDeltaSnapshot).WriteDelta(msg.Delta)
	case Snapshot:
		b.WriteUint8(TagSnapshot).WriteBlob(msg.State)
	default:
		panic(fmt.Sprintf("protocol: unhandled message type %T", m))
	}

	return b.Build()
}
