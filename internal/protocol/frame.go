// Package protocol builds the annotated ProtocolFrame tree from a stream
// of decoded RawFrames: a dispatch on (last_command, chaining) classifying
// each frame's command. The only per-field annotation is the RATS FSDI
// nibble (max frame size via TABLE_FDS); ATS replies are named but not
// parsed, and no FSCI or FWT/SFGT fields are added (TableFWT is a
// standalone helper that Parse does not call). Grounded on the same NfcA.cpp process* dispatch chain as
// internal/decoder/radio/command.go, restated at the annotated-tree level
// rather than the raw-frame level.
package protocol

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/josevcm/nfc-laboratory-go/internal/decoder/radio"
)

// Flag is a bit set over the ProtocolFrame-level annotations.
type Flag uint32

const (
	RequestFrame Flag = 1 << iota
	ResponseFrame
	FrameField
	FieldInfo
	FlagParityError
	FlagCrcError
)

// Category classifies a ProtocolFrame within the handshake.
type Category int

const (
	CategoryUnknown Category = iota
	SenseFrame
	SelectionFrame
	InformationFrame
	AuthFrame
)

func (c Category) String() string {
	switch c {
	case SenseFrame:
		return "SenseFrame"
	case SelectionFrame:
		return "SelectionFrame"
	case InformationFrame:
		return "InformationFrame"
	case AuthFrame:
		return "AuthFrame"
	default:
		return "Unknown"
	}
}

// Field is one annotated sub-range of a frame's payload (e.g. a RATS TA
// byte), carrying a human name and decoded value.
type Field struct {
	Name  string
	Value string
}

// ProtocolFrame is one node of the annotated tree emitted per raw frame.
// ID is a uuid.UUID rather than a sequence counter so that frames from
// independent streams (e.g. a live feed and a concurrently replayed trace)
// never collide when merged into one subscription view.
type ProtocolFrame struct {
	ID        uuid.UUID
	TimeStart float64
	Elapsed   float64
	Rate      uint32
	TypeName  string
	Payload   []byte
	TimeEnd   float64

	Flags    Flag
	Category Category
	Fields   []Field
}

// TableFWT implements TABLE_FWT[i] = (256*16/fc) * 2^i for i in 0..14.
func TableFWT(fc float64) [15]float64 {
	var t [15]float64
	base := 256 * 16 / fc
	for i := range t {
		t[i] = base * float64(uint(1)<<uint(i))
	}
	return t
}

// state is the small dispatch variable carried across frames within one
// stream: the last classified command and the AUTH chaining byte.
type state struct {
	lastCommand byte
	chaining    byte
}

// Parser builds ProtocolFrames from a sequence of RawFrames belonging to
// one stream.
type Parser struct {
	st state
}

// NewParser returns a Parser with empty dispatch state.
func NewParser() *Parser { return &Parser{} }

// Parse classifies one RawFrame and returns its annotated ProtocolFrame.
func (p *Parser) Parse(f radio.RawFrame) ProtocolFrame {
	node := ProtocolFrame{
		ID:        uuid.New(),
		TimeStart: f.TimeStart,
		TimeEnd:   f.TimeEnd,
		Elapsed:   f.TimeEnd - f.TimeStart,
		Rate:      f.FrameRate,
		Payload:   f.Data,
	}

	if f.FrameFlags.Has(radio.CrcError) {
		node.Flags |= FlagCrcError
	}
	if f.FrameFlags.Has(radio.ParityError) {
		node.Flags |= FlagParityError
	}

	switch f.FrameType {
	case radio.PollFrame:
		node.Flags |= RequestFrame
	case radio.ListenFrame:
		node.Flags |= ResponseFrame
	}

	if p.st.chaining == 0 && f.FrameType == radio.PollFrame {
		p.classifyCommand(&node, f)
	} else {
		p.dispatchOnLastCommand(&node, f)
	}

	return node
}

func (p *Parser) classifyCommand(node *ProtocolFrame, f radio.RawFrame) {
	if len(f.Data) == 0 {
		node.TypeName = "unknown"
		node.Category = CategoryUnknown
		return
	}
	cmd := f.Data[0]
	switch {
	case cmd == 0x26 || cmd == 0x52:
		node.TypeName = "REQA"
		if cmd == 0x52 {
			node.TypeName = "WUPA"
		}
		node.Category = SenseFrame
	case cmd == 0x50:
		node.TypeName = "HLTA"
		node.Category = SelectionFrame
	case cmd == 0x93 || cmd == 0x95 || cmd == 0x97:
		node.TypeName = "SELn"
		node.Category = SelectionFrame
	case cmd == 0xE0:
		node.TypeName = "RATS"
		node.Category = SelectionFrame
		annotateRATS(node, f.Data)
	case cmd&0xF0 == 0xD0:
		node.TypeName = "PPS"
		node.Category = SelectionFrame
	case cmd == 0x60 || cmd == 0x61:
		node.TypeName = "AUTH"
		node.Category = AuthFrame
		p.st.chaining = cmd
	case cmd&0xE2 == 0x02:
		node.TypeName = "I-Block"
		node.Category = InformationFrame
	case cmd&0xE6 == 0xA2:
		node.TypeName = "R-Block"
		node.Category = InformationFrame
	case cmd&0xC7 == 0xC2:
		node.TypeName = "S-Block"
		node.Category = InformationFrame
	default:
		node.TypeName = "unknown"
		node.Category = CategoryUnknown
	}
	p.st.lastCommand = cmd
}

func (p *Parser) dispatchOnLastCommand(node *ProtocolFrame, f radio.RawFrame) {
	switch p.st.lastCommand {
	case 0x60, 0x61:
		node.TypeName = "AUTH"
		node.Category = AuthFrame
		if p.st.chaining != 0 {
			// second message of the handshake: clear chaining and flag
			// this node with FieldInfo. Later frames on the stream are not
			// marked as encrypted.
			p.st.chaining = 0
			node.Flags |= FieldInfo
		}
	case 0xE0:
		node.TypeName = "ATS"
		node.Category = SelectionFrame
	default:
		node.TypeName = fmt.Sprintf("reply(%#x)", p.st.lastCommand)
		node.Category = InformationFrame
	}
}

// annotateRATS decodes the RATS request's FSDI nibble into a FrameField
// annotation giving the requested max frame size via TABLE_FDS.
func annotateRATS(node *ProtocolFrame, data []byte) {
	if len(data) < 2 {
		return
	}
	fsdi := int(data[1]>>4) & 0x0F
	node.Flags |= FrameField
	node.Fields = append(node.Fields, Field{
		Name:  "FSDI",
		Value: fmt.Sprintf("%d (max %d bytes)", fsdi, radio.MaxFrameSizeForFSDI(fsdi)),
	})
}
