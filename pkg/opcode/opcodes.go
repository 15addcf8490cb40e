// Package opcode defines the spell bytecode alphabet: the byte ranges used by
// operations, the reserved control markers and the configurable operation
// table shared by the compiler and the VM.
package opcode

import "fmt"

// Bytecode encoding:
//
// 0x00-0x3F: Action operations (host effects, charged energy)
// 0x40-0x5F: Query operations (host sensors, usable in conditions only)
// 0x60-0x6E: Condition operators (postfix)
// 0x80-0x82: Literal tags
//   0x80: number, followed by 8 bytes of IEEE-754 bits (big-endian)
//   0x81: true
//   0x82: false
// 0xF0-0xF2: Block control
// 0xF8-0xF9: Section headers, followed by a u32 body length

// Operation code ranges.
const (
	ActionMin = 0x00
	ActionMax = 0x3F
	QueryMin  = 0x40
	QueryMax  = 0x5F
)

// IsAction returns true if op is in the action range.
func IsAction(op byte) bool {
	return op <= ActionMax
}

// IsQuery returns true if op is in the query range.
func IsQuery(op byte) bool {
	return op >= QueryMin && op <= QueryMax
}

// === Condition operators (0x60-0x6E) ===
const (
	OpAnd = 0x60 // a b -- (a and b)
	OpOr  = 0x61 // a b -- (a or b)
	OpXor = 0x62 // a b -- (a xor b)
	OpNot = 0x63 // a -- (not a)
	OpEq  = 0x64 // a b -- (a = b)
	OpGt  = 0x65 // a b -- (a > b)
	OpLt  = 0x66 // a b -- (a < b)
	OpGe  = 0x67 // a b -- (a >= b)
	OpLe  = 0x68 // a b -- (a <= b)
	OpAdd = 0x69 // a b -- (a + b)
	OpSub = 0x6A // a b -- (a - b)
	OpMul = 0x6B // a b -- (a * b)
	OpDiv = 0x6C // a b -- (a / b)
	OpPow = 0x6D // a b -- (a ^ b)
	OpNeg = 0x6E // a -- (-a)
)

// IsOperator returns true if op is a condition operator.
func IsOperator(op byte) bool {
	return op >= OpAnd && op <= OpNeg
}

// IsUnary returns true for operators that pop one operand.
func IsUnary(op byte) bool {
	return op == OpNot || op == OpNeg
}

// === Literal tags (0x80-0x82) ===
const (
	OpNumber = 0x80 // [8 bytes] number literal
	OpTrue   = 0x81 // true
	OpFalse  = 0x82 // false
)

// NumberSize is the payload length of a number literal.
const NumberSize = 8

// IsLiteral returns true if op is a literal tag.
func IsLiteral(op byte) bool {
	return op >= OpNumber && op <= OpFalse
}

// === Block control (0xF0-0xF2) ===
const (
	OpIfOpen  = 0xF0 // if-block start, condition follows
	OpIfClose = 0xF1 // if-block end
	OpCondEnd = 0xF2 // end of condition, body follows
)

// === Section headers (0xF8-0xF9) [u32 length] ===
const (
	OpSectionCreation = 0xF8
	OpSectionRepeat   = 0xF9
)

// SectionHeaderSize is the tag byte plus the u32 body length.
const SectionHeaderSize = 5

// OpName returns the name of a reserved opcode for debugging.
// Operation codes are named by the table, not here.
func OpName(op byte) string {
	switch op {
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpXor:
		return "xor"
	case OpNot:
		return "not"
	case OpEq:
		return "="
	case OpGt:
		return ">"
	case OpLt:
		return "<"
	case OpGe:
		return ">="
	case OpLe:
		return "<="
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpPow:
		return "^"
	case OpNeg:
		return "neg"
	case OpNumber:
		return "num"
	case OpTrue:
		return "true"
	case OpFalse:
		return "false"
	case OpIfOpen:
		return "if"
	case OpIfClose:
		return "end"
	case OpCondEnd:
		return "then"
	case OpSectionCreation:
		return "on_creation"
	case OpSectionRepeat:
		return "repeat"
	}
	switch {
	case IsAction(op):
		return fmt.Sprintf("action.%02X", op)
	case IsQuery(op):
		return fmt.Sprintf("query.%02X", op)
	}
	return "?"
}

// Operators maps source spellings to operator opcodes.
var Operators = map[string]byte{
	"and": OpAnd,
	"or":  OpOr,
	"xor": OpXor,
	"not": OpNot,
	"=":   OpEq,
	">":   OpGt,
	"<":   OpLt,
	">=":  OpGe,
	"<=":  OpLe,
	"+":   OpAdd,
	"-":   OpSub,
	"*":   OpMul,
	"/":   OpDiv,
	"^":   OpPow,
}
