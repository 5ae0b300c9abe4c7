package vm

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rill-lang/rill/pkg/value"
)

// Coercion helpers for native arguments. Numbers convert between int
// and float; nothing else converts.

func wantInt(v value.Value) (int64, error) {
	switch v.Kind {
	case value.KindInt:
		return v.Int, nil
	case value.KindFloat:
		return int64(v.Float), nil
	}
	return 0, errors.New("Not an integer")
}

func wantFloat(v value.Value) (float64, error) {
	if !v.IsNumber() {
		return 0, errors.New("Not a float")
	}
	return v.AsFloat(), nil
}

func wantString(v value.Value) (string, error) {
	if v.Kind != value.KindString {
		return "", errors.New("Not a string")
	}
	return v.Str, nil
}

func (vm *VM) defineNative(name string, arity int, fn value.NativeFn) {
	vm.Globals[name] = value.NativeValue(value.NewNative(name, arity, fn))
}

func (vm *VM) defineMethod(kind value.Kind, name string, arity int, fn value.NativeFn) {
	table := vm.methods[kind]
	if table == nil {
		table = make(map[string]*value.Native)
		vm.methods[kind] = table
	}
	table[name] = value.NewNative(name, arity, fn)
}

func (vm *VM) defineFloatFn(name string, fn func(float64) float64) {
	vm.defineNative(name, 1, func(args []value.Value) (value.Value, error) {
		x, err := wantFloat(args[0])
		if err != nil {
			return value.Null, err
		}
		return value.NewFloat(fn(x)), nil
	})
}

func (vm *VM) defineFloatFn2(name string, fn func(a, b float64) float64) {
	vm.defineNative(name, 2, func(args []value.Value) (value.Value, error) {
		a, err := wantFloat(args[0])
		if err != nil {
			return value.Null, err
		}
		b, err := wantFloat(args[1])
		if err != nil {
			return value.Null, err
		}
		return value.NewFloat(fn(a, b)), nil
	})
}

// registerNatives installs the builtin globals and the pseudo-method
// tables. Builtins that need the scheduler close over the VM.
func registerNatives(vm *VM) {
	vm.defineNative("clock", 0, func(args []value.Value) (value.Value, error) {
		return value.NewFloat(float64(time.Now().UnixMilli()) / 1000.0), nil
	})

	vm.defineNative("len", 1, func(args []value.Value) (value.Value, error) {
		switch args[0].Kind {
		case value.KindArray:
			return value.NewInt(int64(args[0].AsArray().Len())), nil
		case value.KindObject:
			return value.NewInt(int64(args[0].AsObject().Len())), nil
		case value.KindString:
			return value.NewInt(int64(len(args[0].Str))), nil
		}
		return value.Null, nil
	})

	vm.defineNative("str", 1, func(args []value.Value) (value.Value, error) {
		return value.NewString(args[0].String()), nil
	})

	vm.defineNative("int", 1, func(args []value.Value) (value.Value, error) {
		n, err := wantInt(args[0])
		if err != nil {
			return value.Null, err
		}
		return value.NewInt(n), nil
	})

	vm.defineNative("float", 1, func(args []value.Value) (value.Value, error) {
		f, err := wantFloat(args[0])
		if err != nil {
			return value.Null, err
		}
		return value.NewFloat(f), nil
	})

	vm.defineNative("type", 1, func(args []value.Value) (value.Value, error) {
		return value.NewString(args[0].TypeName()), nil
	})

	vm.defineNative("arange", 3, func(args []value.Value) (value.Value, error) {
		start, err := wantInt(args[0])
		if err != nil {
			return value.Null, err
		}
		stop, err := wantInt(args[1])
		if err != nil {
			return value.Null, err
		}
		step, err := wantInt(args[2])
		if err != nil {
			return value.Null, err
		}
		if step == 0 {
			return value.Null, errors.New("Step cannot be zero")
		}
		var out []value.Value
		if step > 0 {
			for i := start; i < stop; i += step {
				out = append(out, value.NewInt(i))
			}
		} else {
			for i := start; i > stop; i += step {
				out = append(out, value.NewInt(i))
			}
		}
		return value.NewArray(out), nil
	})

	// --- math ---

	vm.Globals["pi"] = value.NewFloat(math.Pi)

	vm.defineFloatFn("abs", math.Abs)
	vm.defineFloatFn("round", math.Round)
	vm.defineFloatFn("sqrt", math.Sqrt)
	vm.defineFloatFn("sin", math.Sin)
	vm.defineFloatFn("cos", math.Cos)
	vm.defineFloatFn("tan", math.Tan)
	vm.defineFloatFn("asin", math.Asin)
	vm.defineFloatFn("acos", math.Acos)
	vm.defineFloatFn("atan", math.Atan)
	vm.defineFloatFn("floor", math.Floor)
	vm.defineFloatFn("ceil", math.Ceil)
	vm.defineFloatFn("log2", math.Log2)
	vm.defineFloatFn("log10", math.Log10)
	vm.defineFloatFn("ln", math.Log)
	vm.defineFloatFn("exp", math.Exp)
	vm.defineFloatFn2("pow", math.Pow)
	vm.defineFloatFn2("min", math.Min)
	vm.defineFloatFn2("max", math.Max)

	vm.defineNative("rand", 0, func(args []value.Value) (value.Value, error) {
		return value.NewFloat(vm.sched.rng.Float64()), nil
	})

	vm.defineNative("randint", 2, func(args []value.Value) (value.Value, error) {
		lo, err := wantInt(args[0])
		if err != nil {
			return value.Null, err
		}
		hi, err := wantInt(args[1])
		if err != nil {
			return value.Null, err
		}
		span := hi - lo + 1
		if span <= 0 {
			return value.Null, errors.New("randint range is empty")
		}
		return value.NewInt(lo + vm.sched.rng.Int63n(span)), nil
	})

	// --- threads and pipes ---

	vm.defineNative("sleep", 1, func(args []value.Value) (value.Value, error) {
		ms, err := wantInt(args[0])
		if err != nil {
			return value.Null, err
		}
		vm.sched.sendToSleep(vm.thread, ms)
		return value.Null, nil
	})

	vm.defineNative("thread_id", 0, func(args []value.Value) (value.Value, error) {
		return value.NewInt(int64(vm.thread.ID)), nil
	})

	vm.defineNative("pipe", 1, func(args []value.Value) (value.Value, error) {
		capacity, err := wantInt(args[0])
		if err != nil {
			return value.Null, err
		}
		return value.NewPipe(vm.sched.makePipe(int(capacity))), nil
	})

	vm.defineMethod(value.KindThread, "join", 0, func(args []value.Value) (value.Value, error) {
		v, _ := vm.sched.joinThread(vm.thread, args[0].ThreadID())
		return v, nil
	})

	vm.defineMethod(value.KindPipe, "close", 0, func(args []value.Value) (value.Value, error) {
		p := vm.sched.pipe(args[0].PipeID())
		if p == nil {
			return value.Null, errors.New("Invalid pipe ID in CLOSE_PIPE")
		}
		return value.Null, vm.sched.closePipe(p)
	})

	// --- string methods ---

	vm.defineMethod(value.KindString, "upper", 0, func(args []value.Value) (value.Value, error) {
		return value.NewString(strings.ToUpper(args[0].Str)), nil
	})

	vm.defineMethod(value.KindString, "lower", 0, func(args []value.Value) (value.Value, error) {
		return value.NewString(strings.ToLower(args[0].Str)), nil
	})

	vm.defineMethod(value.KindString, "trim", 0, func(args []value.Value) (value.Value, error) {
		return value.NewString(strings.TrimSpace(args[0].Str)), nil
	})

	vm.defineMethod(value.KindString, "split", 1, func(args []value.Value) (value.Value, error) {
		sep, err := wantString(args[1])
		if err != nil {
			return value.Null, err
		}
		parts := strings.Split(args[0].Str, sep)
		out := make([]value.Value, len(parts))
		for i, p := range parts {
			out[i] = value.NewString(p)
		}
		return value.NewArray(out), nil
	})

	// --- array methods ---

	vm.defineMethod(value.KindArray, "push", 1, func(args []value.Value) (value.Value, error) {
		arr := args[0].AsArray()
		arr.Elements = append(arr.Elements, args[1])
		return value.Null, nil
	})

	vm.defineMethod(value.KindArray, "pop", 0, func(args []value.Value) (value.Value, error) {
		arr := args[0].AsArray()
		if len(arr.Elements) == 0 {
			return value.Null, errors.New("Cannot pop from an empty array")
		}
		v := arr.Elements[len(arr.Elements)-1]
		arr.Elements = arr.Elements[:len(arr.Elements)-1]
		return v, nil
	})

	vm.defineMethod(value.KindArray, "shift", 0, func(args []value.Value) (value.Value, error) {
		arr := args[0].AsArray()
		if len(arr.Elements) == 0 {
			return value.Null, errors.New("Cannot shift from an empty array")
		}
		v := arr.Elements[0]
		arr.Elements = arr.Elements[1:]
		return v, nil
	})

	vm.defineMethod(value.KindArray, "unshift", 1, func(args []value.Value) (value.Value, error) {
		arr := args[0].AsArray()
		arr.Elements = append([]value.Value{args[1]}, arr.Elements...)
		return value.Null, nil
	})

	vm.defineMethod(value.KindArray, "slice", 2, func(args []value.Value) (value.Value, error) {
		arr := args[0].AsArray()
		start, err := wantInt(args[1])
		if err != nil {
			return value.Null, err
		}
		end, err := wantInt(args[2])
		if err != nil {
			return value.Null, err
		}
		if start < 0 || end > int64(len(arr.Elements)) || start > end {
			return value.Null, errors.New("Invalid slice indices")
		}
		out := make([]value.Value, end-start)
		copy(out, arr.Elements[start:end])
		return value.NewArray(out), nil
	})

	vm.defineMethod(value.KindArray, "sum", 0, func(args []value.Value) (value.Value, error) {
		sum := value.NewFloat(0.0)
		for _, el := range args[0].AsArray().Elements {
			var err error
			sum, err = value.Add(sum, el)
			if err != nil {
				return value.Null, err
			}
		}
		return sum, nil
	})
}
