package value

import (
	"fmt"
	"strings"
)

// Operator semantics for the binary and unary opcodes. Unsupported
// operand combinations return an error that the VM reports as a fault
// on the current thread.

// Add handles numbers, string concatenation and array concatenation.
// Integer pairs stay integer; any float promotes. A string on either
// side stringifies the other operand.
func Add(a, b Value) (Value, error) {
	if a.Kind == KindInt && b.Kind == KindInt {
		return NewInt(a.Int + b.Int), nil
	}
	if a.IsNumber() && b.IsNumber() {
		return NewFloat(a.AsFloat() + b.AsFloat()), nil
	}
	if a.Kind == KindString || b.Kind == KindString {
		return NewString(a.String() + b.String()), nil
	}
	if a.Kind == KindArray && b.Kind == KindArray {
		x := a.AsArray().Elements
		y := b.AsArray().Elements
		joined := make([]Value, 0, len(x)+len(y))
		joined = append(joined, x...)
		joined = append(joined, y...)
		return NewArray(joined), nil
	}
	return Null, fmt.Errorf("Unsupported types for '+'")
}

func Sub(a, b Value) (Value, error) {
	if a.Kind == KindInt && b.Kind == KindInt {
		return NewInt(a.Int - b.Int), nil
	}
	if a.IsNumber() && b.IsNumber() {
		return NewFloat(a.AsFloat() - b.AsFloat()), nil
	}
	return Null, fmt.Errorf("Unsupported types for '-'")
}

// Mul handles numbers and sequence repetition: an array or string on
// the left repeated by an integer count on the right. Non-positive
// counts yield an empty sequence.
func Mul(a, b Value) (Value, error) {
	if a.Kind == KindInt && b.Kind == KindInt {
		return NewInt(a.Int * b.Int), nil
	}
	if a.IsNumber() && b.IsNumber() {
		return NewFloat(a.AsFloat() * b.AsFloat()), nil
	}
	if b.Kind == KindInt {
		count := int(b.Int)
		if count < 0 {
			count = 0
		}
		switch a.Kind {
		case KindString:
			return NewString(strings.Repeat(a.Str, count)), nil
		case KindArray:
			src := a.AsArray().Elements
			out := make([]Value, 0, len(src)*count)
			for i := 0; i < count; i++ {
				out = append(out, src...)
			}
			return NewArray(out), nil
		}
	}
	return Null, fmt.Errorf("Unsupported types for '*'")
}

// Div always produces a float, even for two integer operands.
func Div(a, b Value) (Value, error) {
	if a.IsNumber() && b.IsNumber() {
		denom := b.AsFloat()
		if denom == 0 {
			return Null, fmt.Errorf("Division by zero")
		}
		return NewFloat(a.AsFloat() / denom), nil
	}
	return Null, fmt.Errorf("Unsupported types for '/'")
}

func Mod(a, b Value) (Value, error) {
	if a.Kind == KindInt && b.Kind == KindInt {
		if b.Int == 0 {
			return Null, fmt.Errorf("Modulo by zero")
		}
		return NewInt(a.Int % b.Int), nil
	}
	return Null, fmt.Errorf("Unsupported types for '%%'")
}

func Neg(v Value) (Value, error) {
	switch v.Kind {
	case KindInt:
		return NewInt(-v.Int), nil
	case KindFloat:
		return NewFloat(-v.Float), nil
	}
	return Null, fmt.Errorf("Unary '-' operator requires a numeric value.")
}

// Not never fails; every value has a truthiness.
func Not(v Value) Value {
	return Boolean(!v.Truthy())
}

func BitNot(v Value) (Value, error) {
	if v.Kind != KindInt {
		return Null, fmt.Errorf("Unary '~' operator requires an integer value.")
	}
	return NewInt(^v.Int), nil
}

func bitOperands(op string, a, b Value) (int64, int64, error) {
	if a.Kind != KindInt || b.Kind != KindInt {
		return 0, 0, fmt.Errorf("Unsupported types for '%s'", op)
	}
	return a.Int, b.Int, nil
}

func BitAnd(a, b Value) (Value, error) {
	x, y, err := bitOperands("&", a, b)
	if err != nil {
		return Null, err
	}
	return NewInt(x & y), nil
}

func BitOr(a, b Value) (Value, error) {
	x, y, err := bitOperands("|", a, b)
	if err != nil {
		return Null, err
	}
	return NewInt(x | y), nil
}

func BitXor(a, b Value) (Value, error) {
	x, y, err := bitOperands("^", a, b)
	if err != nil {
		return Null, err
	}
	return NewInt(x ^ y), nil
}

func ShiftLeft(a, b Value) (Value, error) {
	x, y, err := bitOperands("<<", a, b)
	if err != nil {
		return Null, err
	}
	if y < 0 {
		return Null, fmt.Errorf("Negative shift count for '<<'")
	}
	return NewInt(x << uint(y)), nil
}

func ShiftRight(a, b Value) (Value, error) {
	x, y, err := bitOperands(">>", a, b)
	if err != nil {
		return Null, err
	}
	if y < 0 {
		return Null, fmt.Errorf("Negative shift count for '>>'")
	}
	return NewInt(x >> uint(y)), nil
}

// Less orders integers exactly, mixed numerics as floats and strings
// lexicographically. Anything else is an error.
func Less(a, b Value) (Value, error) {
	if a.Kind == KindInt && b.Kind == KindInt {
		return Boolean(a.Int < b.Int), nil
	}
	if a.IsNumber() && b.IsNumber() {
		return Boolean(a.AsFloat() < b.AsFloat()), nil
	}
	if a.Kind == KindString && b.Kind == KindString {
		return Boolean(a.Str < b.Str), nil
	}
	return Null, fmt.Errorf("Unsupported types for '<'")
}

// LessEqual is a < b || a == b, so it works for every ordered pair.
func LessEqual(a, b Value) (Value, error) {
	lt, err := Less(a, b)
	if err != nil {
		return Null, err
	}
	return Boolean(lt.Bool || Equal(a, b)), nil
}

// Greater is the complement of LessEqual.
func Greater(a, b Value) (Value, error) {
	le, err := LessEqual(a, b)
	if err != nil {
		return Null, err
	}
	return Boolean(!le.Bool), nil
}

// GreaterEqual is the complement of Less.
func GreaterEqual(a, b Value) (Value, error) {
	lt, err := Less(a, b)
	if err != nil {
		return Null, err
	}
	return Boolean(!lt.Bool), nil
}
