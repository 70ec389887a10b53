package val

import (
	"fmt"
	"math"
)

// Kind identifies the machine representation of a Val. Signatures in a
// module descriptor are expressed as slices of Kind.
type Kind uint8

const (
	KindBool Kind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindI8
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
	// KindGuestPtr is a 32-bit offset into the guest's linear heap.
	KindGuestPtr
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindI8:
		return "i8"
	case KindI16:
		return "i16"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindGuestPtr:
		return "guestptr"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsFloat reports whether values of the kind travel in a floating-point
// register rather than a general-purpose one.
func (k Kind) IsFloat() bool {
	return k == KindF32 || k == KindF64
}

// Val is a typed argument or return value for a guest function.
type Val struct {
	kind Kind
	gp   uint64
	fp   float64
}

func Bool(v bool) Val {
	gp := uint64(0)
	if v {
		gp = 1
	}
	return Val{kind: KindBool, gp: gp}
}

func U8(v uint8) Val   { return Val{kind: KindU8, gp: uint64(v)} }
func U16(v uint16) Val { return Val{kind: KindU16, gp: uint64(v)} }
func U32(v uint32) Val { return Val{kind: KindU32, gp: uint64(v)} }
func U64(v uint64) Val { return Val{kind: KindU64, gp: v} }
func I8(v int8) Val    { return Val{kind: KindI8, gp: uint64(v)} }
func I16(v int16) Val  { return Val{kind: KindI16, gp: uint64(v)} }
func I32(v int32) Val  { return Val{kind: KindI32, gp: uint64(v)} }
func I64(v int64) Val  { return Val{kind: KindI64, gp: uint64(v)} }
func F32(v float32) Val {
	return Val{kind: KindF32, fp: float64(v)}
}
func F64(v float64) Val { return Val{kind: KindF64, fp: v} }

// GuestPtr wraps an offset into the guest heap.
func GuestPtr(off uint32) Val { return Val{kind: KindGuestPtr, gp: uint64(off)} }

func (v Val) Kind() Kind { return v.kind }

// Register returns the raw general-purpose register image of v. Float kinds
// are returned as their IEEE 754 bit patterns.
func (v Val) Register() uint64 {
	if v.kind.IsFloat() {
		if v.kind == KindF32 {
			return uint64(math.Float32bits(float32(v.fp)))
		}
		return math.Float64bits(v.fp)
	}
	return v.gp
}

func (v Val) AsBool() bool       { return v.gp != 0 }
func (v Val) AsU8() uint8        { return uint8(v.gp) }
func (v Val) AsU16() uint16      { return uint16(v.gp) }
func (v Val) AsU32() uint32      { return uint32(v.gp) }
func (v Val) AsU64() uint64      { return v.gp }
func (v Val) AsI8() int8         { return int8(v.gp) }
func (v Val) AsI16() int16       { return int16(v.gp) }
func (v Val) AsI32() int32       { return int32(v.gp) }
func (v Val) AsI64() int64       { return int64(v.gp) }
func (v Val) AsF32() float32     { return float32(v.fp) }
func (v Val) AsF64() float64     { return v.fp }
func (v Val) AsGuestPtr() uint32 { return uint32(v.gp) }

func (v Val) String() string {
	switch v.kind {
	case KindF32, KindF64:
		return fmt.Sprintf("%s(%v)", v.kind, v.fp)
	case KindGuestPtr:
		return fmt.Sprintf("guestptr(0x%x)", uint32(v.gp))
	default:
		return fmt.Sprintf("%s(%d)", v.kind, v.gp)
	}
}

// UntypedRetVal is the raw return value of a guest function: one
// general-purpose and one floating-point register image. The embedder picks
// the accessor matching the entry point's declared return kind.
type UntypedRetVal struct {
	gp uint64
	fp uint64
}

// RetGp builds an UntypedRetVal carried in the general-purpose register.
func RetGp(v uint64) UntypedRetVal { return UntypedRetVal{gp: v} }

// RetF32 builds an UntypedRetVal carried in the floating-point register.
func RetF32(v float32) UntypedRetVal {
	return UntypedRetVal{fp: uint64(math.Float32bits(v))}
}

// RetF64 builds an UntypedRetVal carried in the floating-point register.
func RetF64(v float64) UntypedRetVal {
	return UntypedRetVal{fp: math.Float64bits(v)}
}

// RetFromVal builds an UntypedRetVal from a typed Val.
func RetFromVal(v Val) UntypedRetVal {
	if v.Kind().IsFloat() {
		if v.Kind() == KindF32 {
			return RetF32(v.AsF32())
		}
		return RetF64(v.AsF64())
	}
	return RetGp(v.Register())
}

func (r UntypedRetVal) AsBool() bool       { return r.gp != 0 }
func (r UntypedRetVal) AsU8() uint8        { return uint8(r.gp) }
func (r UntypedRetVal) AsU16() uint16      { return uint16(r.gp) }
func (r UntypedRetVal) AsU32() uint32      { return uint32(r.gp) }
func (r UntypedRetVal) AsU64() uint64      { return r.gp }
func (r UntypedRetVal) AsI8() int8         { return int8(r.gp) }
func (r UntypedRetVal) AsI16() int16       { return int16(r.gp) }
func (r UntypedRetVal) AsI32() int32       { return int32(r.gp) }
func (r UntypedRetVal) AsI64() int64       { return int64(r.gp) }
func (r UntypedRetVal) AsGuestPtr() uint32 { return uint32(r.gp) }
func (r UntypedRetVal) AsF32() float32 {
	return math.Float32frombits(uint32(r.fp))
}
func (r UntypedRetVal) AsF64() float64 {
	return math.Float64frombits(r.fp)
}

// TypeCheck verifies that args matches the expected parameter kinds.
func TypeCheck(expected []Kind, args []Val) error {
	if len(args) != len(expected) {
		return fmt.Errorf("expected %d arguments, got %d", len(expected), len(args))
	}
	for i, a := range args {
		if a.Kind() != expected[i] {
			return fmt.Errorf("argument %d: expected %s, got %s", i, expected[i], a.Kind())
		}
	}
	return nil
}
