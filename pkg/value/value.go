package value

import (
	"strconv"

	"github.com/rill-lang/rill/pkg/bytecode"
)

// Kind identifies the runtime type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindFunction // bare compiled function; wrapped in a closure when called
	KindClosure
	KindNative
	KindArray
	KindObject
	KindStruct
	KindInstance
	KindThread // handle; thread id lives in Int
	KindPipe   // handle; pipe id lives in Int
	KindIterator
)

// String returns the internal name of the kind, for trace output.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindFunction:
		return "function"
	case KindClosure:
		return "closure"
	case KindNative:
		return "native"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindStruct:
		return "struct"
	case KindInstance:
		return "instance"
	case KindThread:
		return "thread"
	case KindPipe:
		return "pipe"
	case KindIterator:
		return "iterator"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is the runtime representation of every value in the language.
// Small kinds live inline; heap kinds point at their object through Obj.
// Thread and pipe handles carry only an id and resolve through the
// scheduler, so a handle stays valid after its thread or pipe is gone.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Obj   any
}

// Shared singletons for the three nullary literals.
var (
	Null  = Value{Kind: KindNull}
	True  = Value{Kind: KindBool, Bool: true}
	False = Value{Kind: KindBool, Bool: false}
)

func Boolean(b bool) Value    { return Value{Kind: KindBool, Bool: b} }
func NewInt(i int64) Value    { return Value{Kind: KindInt, Int: i} }
func NewFloat(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func NewString(s string) Value { return Value{Kind: KindString, Str: s} }

func NewThread(id int) Value { return Value{Kind: KindThread, Int: int64(id)} }
func NewPipe(id int) Value   { return Value{Kind: KindPipe, Int: int64(id)} }

func FunctionValue(fn *bytecode.Function) Value { return Value{Kind: KindFunction, Obj: fn} }
func ClosureValue(c *Closure) Value             { return Value{Kind: KindClosure, Obj: c} }
func NativeValue(n *Native) Value               { return Value{Kind: KindNative, Obj: n} }
func ArrayValue(a *Array) Value                 { return Value{Kind: KindArray, Obj: a} }
func ObjectValue(o *Object) Value               { return Value{Kind: KindObject, Obj: o} }
func StructValue(s *Struct) Value               { return Value{Kind: KindStruct, Obj: s} }
func InstanceValue(i *Instance) Value           { return Value{Kind: KindInstance, Obj: i} }
func IteratorValue(it *Iterator) Value          { return Value{Kind: KindIterator, Obj: it} }

// NewArray allocates a fresh array around the given elements.
func NewArray(elements []Value) Value {
	return ArrayValue(&Array{Elements: elements})
}

// NewObject allocates a fresh object around the given items.
// A nil map is replaced with an empty one.
func NewObject(items map[string]Value) Value {
	if items == nil {
		items = make(map[string]Value)
	}
	return ObjectValue(&Object{Items: items})
}

// FromConstant converts a compiled constant into a runtime value.
func FromConstant(c bytecode.Constant) Value {
	switch c.Kind {
	case bytecode.ConstBool:
		return Boolean(c.Bool)
	case bytecode.ConstInt:
		return NewInt(c.Int)
	case bytecode.ConstFloat:
		return NewFloat(c.Float)
	case bytecode.ConstString:
		return NewString(c.Str)
	case bytecode.ConstFunction:
		return FunctionValue(c.Fn)
	default:
		return Null
	}
}

func (v Value) IsNull() bool   { return v.Kind == KindNull }
func (v Value) IsNumber() bool { return v.Kind == KindInt || v.Kind == KindFloat }

// IsCallable reports whether the value can sit in the callee slot of a call.
func (v Value) IsCallable() bool {
	return v.Kind == KindFunction || v.Kind == KindClosure || v.Kind == KindNative
}

// AsFloat widens an int or returns the float payload. Only meaningful
// for numeric values.
func (v Value) AsFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

func (v Value) AsFunction() *bytecode.Function { return v.Obj.(*bytecode.Function) }
func (v Value) AsClosure() *Closure            { return v.Obj.(*Closure) }
func (v Value) AsNative() *Native              { return v.Obj.(*Native) }
func (v Value) AsArray() *Array                { return v.Obj.(*Array) }
func (v Value) AsObject() *Object              { return v.Obj.(*Object) }
func (v Value) AsStruct() *Struct              { return v.Obj.(*Struct) }
func (v Value) AsInstance() *Instance          { return v.Obj.(*Instance) }
func (v Value) AsIterator() *Iterator          { return v.Obj.(*Iterator) }

// ThreadID returns the id of a thread handle.
func (v Value) ThreadID() int { return int(v.Int) }

// PipeID returns the id of a pipe handle.
func (v Value) PipeID() int { return int(v.Int) }

// Truthy reports whether the value counts as true in a condition.
// Only false, integer 0, float 0.0 and the empty string are falsy;
// null and every other value are truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int != 0
	case KindFloat:
		return v.Float != 0
	case KindString:
		return v.Str != ""
	default:
		return true
	}
}

// TypeName returns the name reported by the type() builtin. Struct
// types report "type" and instances report their struct's name.
// Handle kinds have no surface type name and report "unknown".
func (v Value) TypeName() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindStruct:
		return "type"
	case KindInstance:
		return v.AsInstance().Struct.Name
	case KindFunction, KindClosure, KindNative:
		return "function"
	default:
		return "unknown"
	}
}

// String renders the value the way print shows it. Strings appear raw,
// without quotes; container elements are rendered with Inspect.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindString:
		return v.Str
	case KindFunction:
		return v.AsFunction().String()
	case KindClosure:
		return v.AsClosure().Fn.String()
	case KindNative:
		n := v.AsNative()
		return "<fn " + n.Name + "/" + strconv.Itoa(n.Arity) + ">"
	case KindArray:
		return v.AsArray().String()
	case KindObject:
		return v.AsObject().String()
	case KindStruct:
		return "<struct " + v.AsStruct().Name + ">"
	case KindInstance:
		return "<instance of '" + v.AsInstance().Struct.Name + "'>"
	case KindThread:
		return "<thread " + strconv.FormatInt(v.Int, 10) + ">"
	case KindPipe:
		return "<pipe " + strconv.FormatInt(v.Int, 10) + ">"
	case KindIterator:
		return "<iterator>"
	default:
		return "unknown"
	}
}

// Inspect renders the value for embedding in containers and trace
// output. It differs from String only for strings, which are quoted.
func (v Value) Inspect() string {
	if v.Kind == KindString {
		return strconv.Quote(v.Str)
	}
	return v.String()
}

// Equal implements the language's == operator. Null only equals null,
// numbers compare across int and float, callables compare by identity
// and arrays compare element-wise. Objects, struct values, instances
// and handles never compare equal.
func Equal(a, b Value) bool {
	if a.Kind == KindNull && b.Kind == KindNull {
		return true
	}
	if a.Kind == KindNull || b.Kind == KindNull {
		return false
	}
	if a.IsNumber() && b.IsNumber() {
		return a.AsFloat() == b.AsFloat()
	}
	if a.Kind == KindBool && b.Kind == KindBool {
		return a.Bool == b.Bool
	}
	if a.Kind == KindString && b.Kind == KindString {
		return a.Str == b.Str
	}
	if a.IsCallable() && b.IsCallable() {
		return a.Obj == b.Obj
	}
	if a.Kind == KindArray && b.Kind == KindArray {
		x := a.AsArray().Elements
		y := b.AsArray().Elements
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return false
}
