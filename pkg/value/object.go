package value

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rill-lang/rill/pkg/bytecode"
)

// NativeFn is the signature of a builtin function. Builtins that block
// are registered as closures capturing the VM, park the calling thread
// themselves and return a placeholder that the waker later overwrites.
type NativeFn func(args []Value) (Value, error)

// Native is a builtin function, optionally bound to a receiver.
// Arity counts declared parameters only; a bound receiver is passed to
// Fn as an extra leading argument.
type Native struct {
	Name  string
	Arity int
	Fn    NativeFn
	Bound Value
}

func NewNative(name string, arity int, fn NativeFn) *Native {
	return &Native{Name: name, Arity: arity, Fn: fn, Bound: Null}
}

// Bind returns a copy of the native with the receiver attached. Binding
// copies instead of mutating so that two receivers resolving the same
// pseudo-method on different threads cannot clobber each other.
func (n *Native) Bind(recv Value) *Native {
	bound := *n
	bound.Bound = recv
	return &bound
}

// Upvalue is a variable captured by a closure. While the variable is
// live on a thread stack, Location points at its slot; closing moves
// the value into Closed and detaches the pointer.
type Upvalue struct {
	Location *Value
	Closed   Value
}

func NewUpvalue(location *Value) *Upvalue {
	return &Upvalue{Location: location, Closed: Null}
}

func (u *Upvalue) Get() Value {
	if u.Location != nil {
		return *u.Location
	}
	return u.Closed
}

func (u *Upvalue) Set(v Value) {
	if u.Location != nil {
		*u.Location = v
		return
	}
	u.Closed = v
}

// Close captures the current stack value and detaches the upvalue.
func (u *Upvalue) Close() {
	if u.Location != nil {
		u.Closed = *u.Location
		u.Location = nil
	}
}

// Closure pairs a compiled function with its captured upvalues.
// RecvSelf carries the bound instance for methods and is spliced into
// slot 0 of the frame when the closure is called.
type Closure struct {
	Fn       *bytecode.Function
	Upvalues []*Upvalue
	RecvSelf Value
}

func NewClosure(fn *bytecode.Function) *Closure {
	return &Closure{
		Fn:       fn,
		Upvalues: make([]*Upvalue, fn.UpvalueCount),
		RecvSelf: Null,
	}
}

// BindSelf returns a copy of the closure with the receiver attached.
// The upvalue list is shared; only the receiver differs.
func (c *Closure) BindSelf(recv Value) *Closure {
	bound := *c
	bound.RecvSelf = recv
	return &bound
}

// Array is a mutable ordered collection.
type Array struct {
	Elements []Value
}

func (a *Array) Len() int { return len(a.Elements) }

func (a *Array) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, el := range a.Elements {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(el.Inspect())
	}
	sb.WriteByte(']')
	return sb.String()
}

// Object is a mutable string-keyed map.
type Object struct {
	Items map[string]Value
}

func (o *Object) Len() int { return len(o.Items) }

// SortedKeys returns the keys in lexicographic order. Display and
// iteration both go through this so their order is deterministic.
func (o *Object) SortedKeys() []string {
	keys := make([]string, 0, len(o.Items))
	for k := range o.Items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o *Object) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range o.SortedKeys() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(o.Items[k].Inspect())
	}
	sb.WriteByte('}')
	return sb.String()
}

// Struct is a user-defined type: a name plus its method table.
type Struct struct {
	Name    string
	Methods map[string]Value
}

func NewStruct(name string) *Struct {
	return &Struct{Name: name, Methods: make(map[string]Value)}
}

func (s *Struct) AddMethod(name string, method Value) {
	s.Methods[name] = method
}

// Instance is a value of a user-defined struct type.
type Instance struct {
	Struct *Struct
	Fields map[string]Value
}

func NewInstance(s *Struct) *Instance {
	return &Instance{Struct: s, Fields: make(map[string]Value)}
}

// Get resolves a field, falling back to the struct's method table.
func (i *Instance) Get(name string) (Value, error) {
	if v, ok := i.Fields[name]; ok {
		return v, nil
	}
	if m, ok := i.Struct.Methods[name]; ok {
		return m, nil
	}
	return Null, fmt.Errorf("Undefined property `%s`.", name)
}

func (i *Instance) Put(name string, v Value) {
	i.Fields[name] = v
}

// Iterator walks a snapshot of an iterable taken when the loop starts.
// Mutating the source container mid-loop does not affect the walk.
type Iterator struct {
	Items []Value
	Index int
}

func NewIterator(items []Value) *Iterator {
	return &Iterator{Items: items}
}

// Next returns the next element, or ok=false once exhausted.
func (it *Iterator) Next() (Value, bool) {
	if it.Index >= len(it.Items) {
		return Null, false
	}
	v := it.Items[it.Index]
	it.Index++
	return v, true
}

// Iterate snapshots an iterable into a fresh iterator. Arrays walk
// their elements, strings walk one-character strings and objects walk
// their keys in sorted order.
func Iterate(v Value) (*Iterator, error) {
	switch v.Kind {
	case KindArray:
		src := v.AsArray().Elements
		items := make([]Value, len(src))
		copy(items, src)
		return NewIterator(items), nil
	case KindString:
		runes := []rune(v.Str)
		items := make([]Value, len(runes))
		for i, r := range runes {
			items[i] = NewString(string(r))
		}
		return NewIterator(items), nil
	case KindObject:
		keys := v.AsObject().SortedKeys()
		items := make([]Value, len(keys))
		for i, k := range keys {
			items[i] = NewString(k)
		}
		return NewIterator(items), nil
	default:
		return nil, fmt.Errorf("Value of type '%s' is not iterable.", v.TypeName())
	}
}
