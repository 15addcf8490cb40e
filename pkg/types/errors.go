package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to spell authors.
type ErrorKind int

const (
	ErrStructure ErrorKind = iota + 1
	ErrSyntax
	ErrUnknownOperation
	ErrArity
	ErrType
	ErrTypeMismatch
	ErrPermissionDenied
	ErrEnergyDepleted
	ErrDecode
)

// ErrorMessage returns the name of an error kind as shown to authors.
func ErrorMessage(kind ErrorKind) string {
	switch kind {
	case ErrStructure:
		return "StructureError"
	case ErrSyntax:
		return "SyntaxError"
	case ErrUnknownOperation:
		return "UnknownOperation"
	case ErrArity:
		return "ArityError"
	case ErrType:
		return "TypeError"
	case ErrTypeMismatch:
		return "TypeMismatch"
	case ErrPermissionDenied:
		return "PermissionDenied"
	case ErrEnergyDepleted:
		return "EnergyDepleted"
	case ErrDecode:
		return "DecodeError"
	default:
		return fmt.Sprintf("Error(%d)", int(kind))
	}
}

func (k ErrorKind) String() string { return ErrorMessage(k) }

// Error carries enough context to be shown directly to a spell's author.
// Line is 1-based for source errors; Offset is a byte offset for bytecode errors.
type Error struct {
	Kind   ErrorKind
	Op     string
	Line   int
	Offset int
	Msg    string
}

func (e *Error) Error() string {
	prefix := e.Kind.String()
	switch {
	case e.Line > 0:
		prefix += fmt.Sprintf(" at line %d", e.Line)
	case e.Offset > 0:
		prefix += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", prefix, e.Op, e.Msg)
	}
	return prefix + ": " + e.Msg
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// AtLine returns the error with its source line set.
func (e *Error) AtLine(line int) *Error {
	e.Line = line
	return e
}

// AtOffset returns the error with its bytecode offset set.
func (e *Error) AtOffset(off int) *Error {
	e.Offset = off
	return e
}

// ForOp returns the error with the operation name set.
func (e *Error) ForOp(op string) *Error {
	e.Op = op
	return e
}

// IsKind reports whether err (or anything it wraps) is an *Error of kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
