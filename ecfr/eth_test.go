package ecfr

import (
	"bytes"
	"testing"
)

func TestStampHeader(t *testing.T) {
	buf := make([]byte, 64)
	StampHeader(buf, PrimarySource)

	if !bytes.Equal(buf[0:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}) {
		t.Fatalf("destination is not broadcast: % x", buf[0:6])
	}

	if !bytes.Equal(buf[6:12], []byte{0x02, 0x01, 0x01, 0x01, 0x01, 0x01}) {
		t.Fatalf("primary source address wrong: % x", buf[6:12])
	}

	// network byte order
	if buf[12] != 0x88 || buf[13] != 0xa4 {
		t.Fatalf("ethertype wrong: % x", buf[12:14])
	}

	if EtherType(buf) != EtherTypeECAT {
		t.Fatalf("EtherType readback got %#04x", EtherType(buf))
	}
}

func TestSourceWord(t *testing.T) {
	buf := make([]byte, 64)
	StampHeader(buf, PrimarySource)

	if SourceWord(buf) != PrimarySourceWord {
		t.Fatalf("primary source word: got %#04x, want %#04x", SourceWord(buf), PrimarySourceWord)
	}

	SetSourceWord(buf, SecondarySourceWord)
	if SourceWord(buf) != SecondarySourceWord {
		t.Fatalf("secondary source word: got %#04x, want %#04x", SourceWord(buf), SecondarySourceWord)
	}

	// the rest of the source address must be untouched
	if buf[6] != 0x02 || buf[10] != 0x01 {
		t.Fatalf("SetSourceWord clobbered neighboring bytes: % x", buf[6:12])
	}

	StampHeader(buf, SecondarySource)
	if SourceWord(buf) != SecondarySourceWord {
		t.Fatalf("secondary stamp: got %#04x", SourceWord(buf))
	}
}
