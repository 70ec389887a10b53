// Package trapcode defines the typed trap kinds recorded in a module's trap
// manifest by the ahead-of-time compiler.
package trapcode

import "fmt"

// Code is the kind of a guest trap, as classified by the trap manifest or
// the fault recovery path.
type Code uint16

const (
	StackOverflow Code = iota
	HeapOutOfBounds
	OutOfBounds
	IndirectCallToNull
	BadSignature
	IntegerOverflow
	IntegerDivByZero
	BadConversionToInteger
	Interrupt
	TableOutOfBounds
	Unreachable

	// User is a compiler- or embedder-defined trap; the tag distinguishes
	// which one.
	User Code = 0xffff
	// Unknown marks a fault whose instruction pointer had no entry in any
	// trap manifest. Unknown faults are always fatal.
	Unknown Code = 0xfffe
)

func (c Code) String() string {
	switch c {
	case StackOverflow:
		return "stack overflow"
	case HeapOutOfBounds:
		return "heap out of bounds"
	case OutOfBounds:
		return "out of bounds"
	case IndirectCallToNull:
		return "indirect call to null"
	case BadSignature:
		return "bad signature"
	case IntegerOverflow:
		return "integer overflow"
	case IntegerDivByZero:
		return "integer division by zero"
	case BadConversionToInteger:
		return "bad conversion to integer"
	case Interrupt:
		return "interrupt"
	case TableOutOfBounds:
		return "table out of bounds"
	case Unreachable:
		return "unreachable"
	case User:
		return "user trap"
	case Unknown:
		return "unknown trap"
	default:
		return fmt.Sprintf("trapcode(%d)", uint16(c))
	}
}

// Fatal reports whether a trap of this kind invalidates the instance even
// when its instruction pointer is attributable to guest code. Recognized
// guest traps are recoverable; anything the manifest could not name is not.
func (c Code) Fatal() bool {
	return c == Unknown
}
