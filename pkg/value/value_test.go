package value

import (
	"strings"
	"testing"

	"github.com/rill-lang/rill/pkg/bytecode"
)

func TestTruthiness(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want bool
	}{
		{"null", Null, true},
		{"true", True, true},
		{"false", False, false},
		{"zero int", NewInt(0), false},
		{"nonzero int", NewInt(7), true},
		{"negative int", NewInt(-1), true},
		{"zero float", NewFloat(0), false},
		{"nonzero float", NewFloat(2.5), true},
		{"empty string", NewString(""), false},
		{"string", NewString("x"), true},
		{"empty array", NewArray(nil), true},
		{"empty object", NewObject(nil), true},
	}
	for _, tt := range tests {
		if got := tt.v.Truthy(); got != tt.want {
			t.Errorf("%s: Truthy() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTypeName(t *testing.T) {
	st := NewStruct("Point")
	inst := NewInstance(st)
	fn := bytecode.NewFunction("f", 1)

	tests := []struct {
		v    Value
		want string
	}{
		{Null, "null"},
		{True, "bool"},
		{NewInt(1), "int"},
		{NewFloat(1.5), "float"},
		{NewString("s"), "string"},
		{NewArray(nil), "array"},
		{NewObject(nil), "object"},
		{StructValue(st), "type"},
		{InstanceValue(inst), "Point"},
		{FunctionValue(fn), "function"},
		{ClosureValue(NewClosure(fn)), "function"},
		{NativeValue(NewNative("len", 1, nil)), "function"},
		{NewThread(3), "unknown"},
		{NewPipe(1), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.v.TypeName(); got != tt.want {
			t.Errorf("TypeName(%s) = %q, want %q", tt.v.Kind, got, tt.want)
		}
	}
}

func TestStringFormats(t *testing.T) {
	fn := bytecode.NewFunction("adder", 2)
	st := NewStruct("Point")

	tests := []struct {
		v    Value
		want string
	}{
		{Null, "null"},
		{True, "true"},
		{False, "false"},
		{NewInt(-42), "-42"},
		{NewFloat(2.5), "2.5"},
		{NewFloat(2), "2"},
		{NewString("hi"), "hi"},
		{FunctionValue(fn), "<fn adder/2>"},
		{ClosureValue(NewClosure(fn)), "<fn adder/2>"},
		{NativeValue(NewNative("len", 1, nil)), "<fn len/1>"},
		{StructValue(st), "<struct Point>"},
		{InstanceValue(NewInstance(st)), "<instance of 'Point'>"},
		{NewThread(2), "<thread 2>"},
		{NewPipe(5), "<pipe 5>"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestInspectQuotesStrings(t *testing.T) {
	if got := NewString("hi").Inspect(); got != `"hi"` {
		t.Errorf("Inspect() = %q, want %q", got, `"hi"`)
	}
	// Everything else matches String.
	if got := NewInt(3).Inspect(); got != "3" {
		t.Errorf("Inspect() = %q, want %q", got, "3")
	}
}

func TestArrayDisplay(t *testing.T) {
	arr := NewArray([]Value{NewInt(1), NewString("x"), Null})
	want := `[1, "x", null]`
	if got := arr.String(); got != want {
		t.Errorf("array String() = %q, want %q", got, want)
	}

	nested := NewArray([]Value{NewArray([]Value{NewInt(1)}), NewArray(nil)})
	want = "[[1], []]"
	if got := nested.String(); got != want {
		t.Errorf("nested array String() = %q, want %q", got, want)
	}
}

func TestObjectDisplaySortedKeys(t *testing.T) {
	obj := NewObject(map[string]Value{
		"b": NewInt(1),
		"a": NewString("v"),
		"c": False,
	})
	want := `{a: "v", b: 1, c: false}`
	if got := obj.String(); got != want {
		t.Errorf("object String() = %q, want %q", got, want)
	}
}

func TestEqual(t *testing.T) {
	fn := bytecode.NewFunction("f", 0)
	closure := NewClosure(fn)
	native := NewNative("len", 1, nil)
	inst := NewInstance(NewStruct("P"))

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null null", Null, Null, true},
		{"null int", Null, NewInt(0), false},
		{"int int", NewInt(3), NewInt(3), true},
		{"int float", NewInt(1), NewFloat(1.0), true},
		{"int float differ", NewInt(1), NewFloat(1.5), false},
		{"bool bool", True, True, true},
		{"bool int", True, NewInt(1), false},
		{"string string", NewString("a"), NewString("a"), true},
		{"string differ", NewString("a"), NewString("b"), false},
		{"same closure", ClosureValue(closure), ClosureValue(closure), true},
		{"distinct closures", ClosureValue(NewClosure(fn)), ClosureValue(NewClosure(fn)), false},
		{"same native", NativeValue(native), NativeValue(native), true},
		{"native vs bound copy", NativeValue(native), NativeValue(native.Bind(NewString("s"))), false},
		{"arrays equal", NewArray([]Value{NewInt(1), NewInt(2)}), NewArray([]Value{NewInt(1), NewInt(2)}), true},
		{"arrays differ", NewArray([]Value{NewInt(1)}), NewArray([]Value{NewInt(2)}), false},
		{"arrays length differ", NewArray([]Value{NewInt(1)}), NewArray(nil), false},
		{"nested arrays", NewArray([]Value{NewArray([]Value{NewInt(1)})}), NewArray([]Value{NewArray([]Value{NewInt(1)})}), true},
		{"same instance", InstanceValue(inst), InstanceValue(inst), false},
		{"objects never equal", NewObject(nil), NewObject(nil), false},
		{"thread handles", NewThread(1), NewThread(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal(%s, %s) = %v, want %v", tt.a.Inspect(), tt.b.Inspect(), got, tt.want)
			}
		})
	}
}

func TestFromConstant(t *testing.T) {
	fn := bytecode.NewFunction("f", 0)

	tests := []struct {
		c    bytecode.Constant
		kind Kind
	}{
		{bytecode.NullConst(), KindNull},
		{bytecode.BoolConst(true), KindBool},
		{bytecode.IntConst(9), KindInt},
		{bytecode.FloatConst(1.5), KindFloat},
		{bytecode.StringConst("s"), KindString},
		{bytecode.FuncConst(fn), KindFunction},
	}
	for _, tt := range tests {
		v := FromConstant(tt.c)
		if v.Kind != tt.kind {
			t.Errorf("FromConstant(%s).Kind = %v, want %v", tt.c.String(), v.Kind, tt.kind)
		}
	}

	if v := FromConstant(bytecode.IntConst(9)); v.Int != 9 {
		t.Errorf("int payload = %d, want 9", v.Int)
	}
	if v := FromConstant(bytecode.FuncConst(fn)); v.AsFunction() != fn {
		t.Error("function constant should carry the same *Function")
	}
}

func TestIterateArraySnapshot(t *testing.T) {
	arr := &Array{Elements: []Value{NewInt(1), NewInt(2)}}
	it, err := Iterate(ArrayValue(arr))
	if err != nil {
		t.Fatalf("Iterate() error: %v", err)
	}

	// Growing the source mid-walk must not affect the snapshot.
	arr.Elements = append(arr.Elements, NewInt(3))

	var got []int64
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, v.Int)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("iterated %v, want [1 2]", got)
	}
}

func TestIterateString(t *testing.T) {
	it, err := Iterate(NewString("héllo"))
	if err != nil {
		t.Fatalf("Iterate() error: %v", err)
	}
	var got []string
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, v.Str)
	}
	want := []string{"h", "é", "l", "l", "o"}
	if len(got) != len(want) {
		t.Fatalf("iterated %d chars, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("char %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIterateObjectSortedKeys(t *testing.T) {
	obj := NewObject(map[string]Value{"b": Null, "a": Null, "c": Null})
	it, err := Iterate(obj)
	if err != nil {
		t.Fatalf("Iterate() error: %v", err)
	}
	var got []string
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, v.Str)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("iterated keys %v, want [a b c]", got)
	}
}

func TestIterateNotIterable(t *testing.T) {
	_, err := Iterate(NewInt(1))
	if err == nil {
		t.Fatal("expected error iterating an int")
	}
	if !strings.Contains(err.Error(), "not iterable") {
		t.Errorf("error = %q, want mention of not iterable", err)
	}
}

func TestIteratorExhaustion(t *testing.T) {
	it := NewIterator([]Value{NewInt(1)})
	if _, ok := it.Next(); !ok {
		t.Fatal("first Next() should succeed")
	}
	v, ok := it.Next()
	if ok {
		t.Error("second Next() should report exhaustion")
	}
	if !v.IsNull() {
		t.Errorf("exhausted Next() value = %s, want null", v.Inspect())
	}
}

func TestUpvalueOpenAndClosed(t *testing.T) {
	slot := NewInt(10)
	uv := NewUpvalue(&slot)

	if got := uv.Get(); got.Int != 10 {
		t.Errorf("open Get() = %d, want 10", got.Int)
	}

	uv.Set(NewInt(20))
	if slot.Int != 20 {
		t.Errorf("open Set() should write through, slot = %d", slot.Int)
	}

	uv.Close()
	if uv.Location != nil {
		t.Error("Close() should detach the location")
	}
	if got := uv.Get(); got.Int != 20 {
		t.Errorf("closed Get() = %d, want 20", got.Int)
	}

	// Writes after closing go to the captured copy, not the old slot.
	uv.Set(NewInt(30))
	if slot.Int != 20 {
		t.Errorf("closed Set() must not touch the old slot, slot = %d", slot.Int)
	}
	if got := uv.Get(); got.Int != 30 {
		t.Errorf("closed Get() after Set = %d, want 30", got.Int)
	}
}

func TestInstanceGetPut(t *testing.T) {
	st := NewStruct("Point")
	st.AddMethod("dist", NewInt(99)) // stand-in for a closure
	inst := NewInstance(st)
	inst.Put("x", NewInt(4))

	if v, err := inst.Get("x"); err != nil || v.Int != 4 {
		t.Errorf("Get(x) = %v, %v, want 4", v, err)
	}
	if v, err := inst.Get("dist"); err != nil || v.Int != 99 {
		t.Errorf("Get(dist) should fall back to methods, got %v, %v", v, err)
	}

	_, err := inst.Get("missing")
	if err == nil {
		t.Fatal("expected error for missing property")
	}
	if got := err.Error(); got != "Undefined property `missing`." {
		t.Errorf("error = %q", got)
	}

	// Fields shadow methods of the same name.
	inst.Put("dist", NewInt(1))
	if v, _ := inst.Get("dist"); v.Int != 1 {
		t.Errorf("field should shadow method, got %d", v.Int)
	}
}

func TestNativeBindCopies(t *testing.T) {
	n := NewNative("upper", 0, nil)
	recv := NewString("abc")

	bound := n.Bind(recv)
	if bound == n {
		t.Fatal("Bind() must return a copy")
	}
	if bound.Bound.Str != "abc" {
		t.Errorf("bound receiver = %s", bound.Bound.Inspect())
	}
	if !n.Bound.IsNull() {
		t.Error("binding must not mutate the original")
	}
}

func TestClosureBindSelfSharesUpvalues(t *testing.T) {
	fn := bytecode.NewFunction("m", 0)
	fn.UpvalueCount = 1
	c := NewClosure(fn)
	slot := NewInt(5)
	c.Upvalues[0] = NewUpvalue(&slot)

	inst := InstanceValue(NewInstance(NewStruct("P")))
	bound := c.BindSelf(inst)

	if bound == c {
		t.Fatal("BindSelf() must return a copy")
	}
	if !c.RecvSelf.IsNull() {
		t.Error("binding must not mutate the original")
	}
	if bound.Upvalues[0] != c.Upvalues[0] {
		t.Error("bound copy should share the upvalue cells")
	}
}
