package bytecode

import (
	"fmt"
	"strconv"
)

// ConstKind discriminates the payload of a Constant.
type ConstKind uint8

const (
	ConstNull ConstKind = iota
	ConstBool
	ConstInt
	ConstFloat
	ConstString
	ConstFunction
)

// Constant is a compile-time literal in a chunk's constant pool. It is a
// plain tagged struct rather than a runtime value so that runtime packages
// can depend on bytecode without a cycle.
type Constant struct {
	Kind  ConstKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Fn    *Function
}

func NullConst() Constant            { return Constant{Kind: ConstNull} }
func BoolConst(b bool) Constant      { return Constant{Kind: ConstBool, Bool: b} }
func IntConst(i int64) Constant      { return Constant{Kind: ConstInt, Int: i} }
func FloatConst(f float64) Constant  { return Constant{Kind: ConstFloat, Float: f} }
func StringConst(s string) Constant  { return Constant{Kind: ConstString, Str: s} }
func FuncConst(fn *Function) Constant { return Constant{Kind: ConstFunction, Fn: fn} }

// Equal reports whether two constants are interchangeable in a pool.
// Function constants compare by identity.
func (c Constant) Equal(o Constant) bool {
	if c.Kind != o.Kind {
		return false
	}
	switch c.Kind {
	case ConstNull:
		return true
	case ConstBool:
		return c.Bool == o.Bool
	case ConstInt:
		return c.Int == o.Int
	case ConstFloat:
		return c.Float == o.Float
	case ConstString:
		return c.Str == o.Str
	case ConstFunction:
		return c.Fn == o.Fn
	}
	return false
}

// String renders the constant the way the disassembler shows it.
func (c Constant) String() string {
	switch c.Kind {
	case ConstNull:
		return "null"
	case ConstBool:
		return strconv.FormatBool(c.Bool)
	case ConstInt:
		return strconv.FormatInt(c.Int, 10)
	case ConstFloat:
		return strconv.FormatFloat(c.Float, 'g', -1, 64)
	case ConstString:
		return strconv.Quote(c.Str)
	case ConstFunction:
		return c.Fn.String()
	}
	return fmt.Sprintf("Constant(kind=%d)", c.Kind)
}

// Function is one compiled function: its code chunk plus the metadata the
// VM needs to call it and build closures over it.
type Function struct {
	Name         string
	Arity        int
	UpvalueCount int
	Chunk        *Chunk
}

// NewFunction returns a function with an empty chunk.
func NewFunction(name string, arity int) *Function {
	return &Function{Name: name, Arity: arity, Chunk: NewChunk()}
}

func (f *Function) String() string {
	return fmt.Sprintf("<fn %s/%d>", f.Name, f.Arity)
}
