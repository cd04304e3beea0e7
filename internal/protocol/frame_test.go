package protocol

import (
	"testing"

	"github.com/josevcm/nfc-laboratory-go/internal/decoder/radio"
)

func TestParseREQAClassifiesAsSenseFrame(t *testing.T) {
	p := NewParser()
	node := p.Parse(radio.RawFrame{
		FrameType: radio.PollFrame,
		Data:      []byte{0x26},
	})
	if node.TypeName != "REQA" {
		t.Fatalf("expected REQA, got %s", node.TypeName)
	}
	if node.Category != SenseFrame {
		t.Fatalf("expected SenseFrame category, got %v", node.Category)
	}
	if node.Flags&RequestFrame == 0 {
		t.Fatalf("expected RequestFrame flag set")
	}
}

func TestParseRATSAnnotatesFSDI(t *testing.T) {
	p := NewParser()
	node := p.Parse(radio.RawFrame{
		FrameType: radio.PollFrame,
		Data:      []byte{0xE0, 0x50},
	})
	if node.TypeName != "RATS" {
		t.Fatalf("expected RATS, got %s", node.TypeName)
	}
	if len(node.Fields) == 0 || node.Fields[0].Name != "FSDI" {
		t.Fatalf("expected an FSDI field annotation, got %+v", node.Fields)
	}
}

func TestTableFWTMonotonic(t *testing.T) {
	table := TableFWT(13.56e6)
	for i := 1; i < len(table); i++ {
		if table[i] <= table[i-1] {
			t.Fatalf("TABLE_FWT must be strictly increasing, got [%d]=%v <= [%d]=%v", i, table[i], i-1, table[i-1])
		}
	}
}
