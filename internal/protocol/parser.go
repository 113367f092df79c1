package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/statecast-project/statecast/internal/delta"
)

// PacketReader reads little-endian fields from an encoded message.
type PacketReader struct {
	r *bytes.Reader
}

// NewPacketReader wraps data for sequential reads.
func NewPacketReader(data []byte) *PacketReader {
	return &PacketReader{r: bytes.NewReader(data)}
}

// ReadUint8 reads a single byte.
func (p *PacketReader) ReadUint8() (byte, error) {
	v, err := p.r.ReadByte()
	if err != nil {
		return 0, ErrTruncated
	}
	return v, nil
}

// ReadUint16 reads a little-endian uint16.
func (p *PacketReader) ReadUint16() (uint16, error) {
	var tmp [2]byte
	if _, err := io.ReadFull(p.r, tmp[:]); err != nil {
		return 0, ErrTruncated
	}
	return binary.LittleEndian.Uint16(tmp[:]), nil
}

// ReadUint32 reads a little-endian uint32.
func (p *PacketReader) ReadUint32() (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(p.r, tmp[:]); err != nil {
		return 0, ErrTruncated
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

// ReadBlob reads a length-prefixed byte slice written by WriteBlob.
func (p *PacketReader) ReadBlob() ([]byte, error) {
	length, err := p.ReadUint32()
	if err != nil {
		return nil, err
	}
	if length > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, length, MaxPayloadSize)
	}
	if int64(length) > int64(p.r.Len()) {
		return nil, fmt.Errorf("%w: blob of %d bytes, %d remaining", ErrTruncated, length, p.r.Len())
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(p.r, data); err != nil {
		return nil, ErrTruncated
	}
	return data, nil
}

// ReadDelta reads a chunked delta body written by WriteDelta.
func (p *PacketReader) ReadDelta() (*delta.Delta, error) {
	var hash [2]byte
	if _, err := io.ReadFull(p.r, hash[:]); err != nil {
		return nil, ErrTruncated
	}

	chunkCount, err := p.ReadUint32()
	if err != nil {
		return nil, err
	}
	// Every chunk needs at least its 6-byte header.
	if int64(chunkCount)*6 > int64(p.r.Len()) {
		return nil, fmt.Errorf("%w: %d chunks declared, %d bytes remaining", ErrTruncated, chunkCount, p.r.Len())
	}

	d := delta.New(hash)
	var prev int64 = -1
	for i := uint32(0); i < chunkCount; i++ {
		idx, err := p.ReadUint32()
		if err != nil {
			return nil, err
		}
		if int64(idx) <= prev {
			return nil, fmt.Errorf("%w: chunk %d out of order", ErrMalformedDelta, idx)
		}
		prev = int64(idx)

		count, err := p.ReadUint16()
		if err != nil {
			return nil, err
		}
		if count > MaxChunkEntries {
			return nil, fmt.Errorf("%w: chunk %d has %d entries", ErrMalformedDelta, idx, count)
		}

		entries := make([]delta.Entry, 0, count)
		for j := uint16(0); j < count; j++ {
			offset, err := p.ReadUint8()
			if err != nil {
				return nil, err
			}
			if offset >= delta.ChunkSize {
				return nil, fmt.Errorf("%w: offset %d in chunk %d", ErrMalformedDelta, offset, idx)
			}
			value, err := p.ReadUint8()
			if err != nil {
				return nil, err
			}
			entries = append(entries, delta.Entry{Offset: offset, Value: value})
		}
		d.Chunks[idx] = entries
	}

	return d, nil
}

// Remaining returns the number of unread bytes.
func (p *PacketReader) Remaining() int {
	return p.r.Len()
}

// ParseMessage decodes a binary message produced by BuildMessage.
// Errors are plain layout errors; DecodeBinary wraps them in an EncodingError.
func ParseMessage(data []byte) (Message, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d byte header", ErrTruncated, len(data))
	}

	r := NewPacketReader(data)
	version, _ := r.ReadUint8()
	if version != WireVersion {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnsupportedVersion, version)
	}
	tag, _ := r.ReadUint8()

	var (
		msg Message
		err error
	)

	switch tag {
	case TagBios:
		var image []byte
		if image, err = r.ReadBlob(); err == nil {
			msg = Bios{Image: image}
		}
	case TagRom:
		var image []byte
		if image, err = r.ReadBlob(); err == nil {
			msg = Rom{Image: image}
		}
	case TagPlay:
		var event []byte
		if event, err = r.ReadBlob(); err == nil {
			msg = Play{Event: event}
		}
	case TagDeltaSnapshot:
		var d *delta.Delta
		if d, err = r.ReadDelta(); err == nil {
			msg = DeltaSnapshot{Delta: d}
		}
	case TagSnapshot:
		var state []byte
		if state, err = r.ReadBlob(); err == nil {
			msg = Snapshot{State: state}
		}
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownTag, tag)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", Kind(tag), err)
	}

	if r.Remaining() > 0 {
		return nil, fmt.Errorf("%w: %d bytes after %s", ErrTrailingData, r.Remaining(), Kind(tag))
	}

	return msg, nil
}
