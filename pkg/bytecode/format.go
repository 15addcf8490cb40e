// Package bytecode encodes parsed spells into the flat byte format executed
// by the VM, and decodes and disassembles that format.
//
// Layout:
//
//	"MMSB" | version(1) | digest(8, big-endian) | section*
//	section   := tag(0xF8|0xF9) | length(u32 BE) | statement*
//	statement := opcode operand*
//	           | 0xF0 cond* 0xF2 statement* 0xF1
//	operand   := 0x80 f64 | 0x81 | 0x82
//	cond      := operand | query-opcode | operator   (postfix)
package bytecode

import (
	"encoding/binary"

	"github.com/mmspellbook/spellbook/pkg/opcode"
	"github.com/mmspellbook/spellbook/pkg/types"
)

const (
	Magic      = "MMSB"
	Version    = 1
	HeaderSize = len(Magic) + 1 + 8
)

// Segment is the body of one section within a bytecode image.
type Segment struct {
	Kind   types.Section
	Offset int // absolute offset of Body[0]
	Body   []byte
}

// Image is validated bytecode split into its sections.
type Image struct {
	Version  byte
	Digest   uint64
	Segments []Segment
}

// Section returns the segment of the given kind.
func (img *Image) Section(kind types.Section) (Segment, bool) {
	for _, s := range img.Segments {
		if s.Kind == kind {
			return s, true
		}
	}
	return Segment{Kind: kind}, false
}

// CheckTable rejects images compiled against a different operation table.
func (img *Image) CheckTable(table *opcode.Table) error {
	if img.Digest != table.Digest() {
		return decodeErr(len(Magic)+1, "operation table mismatch: bytecode %016x, runtime %016x", img.Digest, table.Digest())
	}
	return nil
}

// Open validates the header and section framing of code. Section bodies are
// not decoded.
func Open(code []byte) (*Image, error) {
	if len(code) < HeaderSize {
		return nil, decodeErr(len(code), "truncated header: %d bytes", len(code))
	}
	if string(code[:len(Magic)]) != Magic {
		return nil, decodeErr(0, "bad magic %q", code[:len(Magic)])
	}
	img := &Image{
		Version: code[len(Magic)],
		Digest:  binary.BigEndian.Uint64(code[len(Magic)+1 : HeaderSize]),
	}
	if img.Version != Version {
		return nil, decodeErr(len(Magic), "unsupported version %d", img.Version)
	}

	pc := HeaderSize
	for pc < len(code) {
		var kind types.Section
		switch code[pc] {
		case opcode.OpSectionCreation:
			kind = types.SectionCreation
		case opcode.OpSectionRepeat:
			kind = types.SectionRepeat
		default:
			return nil, decodeErr(pc, "expected section header, got 0x%02X", code[pc])
		}
		if _, dup := img.Section(kind); dup {
			return nil, decodeErr(pc, "duplicate section %s", kind)
		}
		if pc+opcode.SectionHeaderSize > len(code) {
			return nil, decodeErr(pc, "truncated section header")
		}
		n := int(binary.BigEndian.Uint32(code[pc+1 : pc+opcode.SectionHeaderSize]))
		start := pc + opcode.SectionHeaderSize
		if n > len(code)-start {
			return nil, decodeErr(pc, "section %s length %d exceeds image", kind, n)
		}
		img.Segments = append(img.Segments, Segment{Kind: kind, Offset: start, Body: code[start : start+n]})
		pc = start + n
	}
	return img, nil
}

func header(digest uint64) []byte {
	buf := make([]byte, HeaderSize, 256)
	copy(buf, Magic)
	buf[len(Magic)] = Version
	binary.BigEndian.PutUint64(buf[len(Magic)+1:], digest)
	return buf
}

func decodeErr(off int, format string, args ...any) *types.Error {
	return types.Errorf(types.ErrDecode, format, args...).AtOffset(off)
}
