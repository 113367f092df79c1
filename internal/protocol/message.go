package protocol

import "github.com/statecast-project/statecast/internal/delta"

// Message is one of Bios, Rom, Play, DeltaSnapshot or Snapshot.
// Callers inspect it with a type switch.
type Message interface {
	Kind() Kind
	// Size is the payload size in bytes, used for logging and metrics.
	Size() int

	isMessage()
}

// Bios replaces the receiver's firmware image.
type Bios struct {
	Image []byte
}

// Rom replaces the receiver's cartridge image.
type Rom struct {
	Image []byte
}

// Play carries an opaque control or playback event, forwarded verbatim.
type Play struct {
	Event []byte
}

// DeltaSnapshot patches the receiver's last-known snapshot.
type DeltaSnapshot struct {
	Delta *delta.Delta
}

// Snapshot replaces the receiver's snapshot buffer.
type Snapshot struct {
	State []byte
}

func (Bios) Kind() Kind          { return KindBios }
func (Rom) Kind() Kind           { return KindRom }
func (Play) Kind() Kind          { return KindPlay }
func (DeltaSnapshot) Kind() Kind { return KindDeltaSnapshot }
func (Snapshot) Kind() Kind      { return KindSnapshot }

func (m Bios) Size() int     { return len(m.Image) }
func (m Rom) Size() int      { return len(m.Image) }
func (m Play) Size() int     { return len(m.Event) }
func (m Snapshot) Size() int { return len(m.State) }

// Size counts two bytes per changed position.
func (m DeltaSnapshot) Size() int {
	if m.Delta == nil {
		return 0
	}
	return 2 * m.Delta.Changes()
}

func (Bios) isMessage()          {}
func (Rom) isMessage()           {}
func (Play) isMessage()          {}
func (DeltaSnapshot) isMessage() {}
func (Snapshot) isMessage()      {}
