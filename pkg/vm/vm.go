package vm

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/rill-lang/rill/pkg/bytecode"
	"github.com/rill-lang/rill/pkg/value"
)

var vmLog = commonlog.GetLogger("rill.vm")

// runtimeError carries a fault out of the dispatch loop. Opcode handlers
// raise it through fail or check; execute recovers it at the thread
// boundary and hands the scheduler a plain error.
type runtimeError struct {
	msg string
}

func fail(format string, args ...any) {
	panic(runtimeError{msg: fmt.Sprintf(format, args...)})
}

func check(err error) {
	if err != nil {
		panic(runtimeError{msg: err.Error()})
	}
}

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// VM executes compiled programs. Globals are shared by every green
// thread; the scheduler decides which thread runs and the VM advances
// it until it parks, finishes or faults.
type VM struct {
	Globals map[string]value.Value

	// methods holds the builtin pseudo-method tables, keyed by the
	// receiver kind ("hi".upper, arr.push, handle.join, pipe.close).
	methods map[value.Kind]map[string]*value.Native

	sched  *Scheduler
	thread *GreenThread

	out      io.Writer
	traceOut io.Writer
}

func NewVM() *VM {
	vm := &VM{
		Globals: make(map[string]value.Value),
		methods: make(map[value.Kind]map[string]*value.Native),
		sched:   NewScheduler(),
		out:     os.Stdout,
	}
	registerNatives(vm)
	return vm
}

// SetOutput redirects print output, default os.Stdout.
func (vm *VM) SetOutput(w io.Writer) {
	vm.out = w
}

// SetTrace enables per-instruction trace output to w; nil disables it.
func (vm *VM) SetTrace(w io.Writer) {
	vm.traceOut = w
}

// Seed makes select tie-breaking and the random builtins reproducible.
func (vm *VM) Seed(seed int64) {
	vm.sched.Seed(seed)
}

// Interpret runs a compiled program to completion. The result is the
// return value of the last thread to finish, which for a program that
// does not spawn is the top-level return value.
func (vm *VM) Interpret(fn *bytecode.Function) (value.Value, error) {
	vm.spawnThreads(value.NewClosure(fn), 1)
	return vm.sched.Schedule(vm)
}

// execute advances one thread until it leaves the running state.
// Runtime faults surface here as errors; the thread is left finished
// so the scheduler retires it.
func (vm *VM) execute(t *GreenThread) (err error) {
	vm.thread = t
	defer func() {
		vm.thread = nil
		if r := recover(); r != nil {
			re, ok := r.(runtimeError)
			if !ok {
				panic(r)
			}
			t.State = ThreadFinished
			err = errors.New(re.msg)
		}
	}()
	vm.run(t)
	return nil
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

func (vm *VM) run(t *GreenThread) {
	for {
		if len(t.frames) == 0 {
			t.State = ThreadFinished
			return
		}
		frame := &t.frames[len(t.frames)-1]
		code := frame.Closure.Fn.Chunk.Code
		if frame.IP >= len(code) {
			t.frames = t.frames[:len(t.frames)-1]
			continue
		}

		op := bytecode.Opcode(code[frame.IP])
		frame.IP++
		if vm.traceOut != nil {
			fmt.Fprintf(vm.traceOut, "[thread %d] [%04x] %-16s sp=%d\n", t.ID, frame.IP-1, op, t.stackSize)
		}

		switch op {
		case bytecode.OpNull:
			t.push(value.Null)
		case bytecode.OpTrue:
			t.push(value.True)
		case bytecode.OpFalse:
			t.push(value.False)
		case bytecode.OpConst:
			t.push(value.FromConstant(vm.constant(frame, vm.readUint16(frame))))
		case bytecode.OpIConst8:
			t.push(value.NewInt(int64(int8(vm.readByte(frame)))))
		case bytecode.OpIConst16:
			t.push(value.NewInt(int64(int16(vm.readUint16(frame)))))

		case bytecode.OpPop:
			t.pop()
		case bytecode.OpDup:
			t.push(t.peek(0))
		case bytecode.OpDup2:
			t.push(t.peek(1))
			t.push(t.peek(0))

		case bytecode.OpDefineGlobal:
			name := vm.constantString(frame)
			vm.Globals[name] = t.pop()
		case bytecode.OpLoadGlobal:
			name := vm.constantString(frame)
			v, ok := vm.Globals[name]
			if !ok {
				fail("Undefined global variable: %s", name)
			}
			t.push(v)
		case bytecode.OpStoreGlobal:
			name := vm.constantString(frame)
			if _, ok := vm.Globals[name]; !ok {
				fail("Undefined global variable: %s", name)
			}
			vm.Globals[name] = t.peek(0)

		case bytecode.OpLoadLocal:
			slot := frame.Base + int(vm.readByte(frame))
			if slot >= t.stackSize {
				fail("Local variable index out of range")
			}
			t.push(t.stack[slot])
		case bytecode.OpStoreLocal:
			slot := frame.Base + int(vm.readByte(frame))
			if slot >= t.stackSize {
				fail("Local variable index out of range")
			}
			t.stack[slot] = t.peek(0)

		case bytecode.OpLoadUpvalue:
			idx := int(vm.readByte(frame))
			if idx >= len(frame.Closure.Upvalues) {
				fail("Upvalue index out of range")
			}
			t.push(frame.Closure.Upvalues[idx].Get())
		case bytecode.OpStoreUpvalue:
			idx := int(vm.readByte(frame))
			if idx >= len(frame.Closure.Upvalues) {
				fail("Upvalue index out of range")
			}
			frame.Closure.Upvalues[idx].Set(t.peek(0))
		case bytecode.OpCloseUpvalue:
			closeUpvalues(t, t.stackSize-1)
			t.pop()

		case bytecode.OpLoadIndex:
			idx := t.pop()
			container := t.pop()
			v, err := value.GetIndex(container, idx)
			check(err)
			t.push(v)
		case bytecode.OpStoreIndex:
			v := t.pop()
			idx := t.pop()
			container := t.pop()
			check(value.SetIndex(container, idx, v))
			t.push(v)
		case bytecode.OpLoadField:
			key := vm.constantString(frame)
			obj := t.pop()
			switch obj.Kind {
			case value.KindString, value.KindArray, value.KindThread, value.KindPipe:
				t.push(vm.boundNative(obj, key))
			default:
				v, err := value.GetField(obj, key)
				check(err)
				t.push(v)
			}
		case bytecode.OpStoreField:
			key := vm.constantString(frame)
			v := t.pop()
			obj := t.pop()
			check(value.SetField(obj, key, v))
			t.push(v)

		case bytecode.OpMakeArray:
			n := int(vm.readUint16(frame))
			elems := make([]value.Value, n)
			for i := n - 1; i >= 0; i-- {
				elems[i] = t.pop()
			}
			t.push(value.NewArray(elems))
		case bytecode.OpMakeObject:
			n := int(vm.readUint16(frame))
			items := make(map[string]value.Value, n)
			for i := 0; i < n; i++ {
				k := t.pop()
				v := t.pop()
				if k.Kind != value.KindString {
					fail("Object keys must be strings")
				}
				items[k.Str] = v
			}
			t.push(value.NewObject(items))

		case bytecode.OpAdd:
			binaryOp(t, value.Add)
		case bytecode.OpSub:
			binaryOp(t, value.Sub)
		case bytecode.OpMul:
			binaryOp(t, value.Mul)
		case bytecode.OpDiv:
			binaryOp(t, value.Div)
		case bytecode.OpMod:
			binaryOp(t, value.Mod)
		case bytecode.OpNeg:
			v, err := value.Neg(t.pop())
			check(err)
			t.push(v)
		case bytecode.OpNot:
			t.push(value.Not(t.pop()))

		case bytecode.OpEq:
			b := t.pop()
			a := t.pop()
			t.push(value.Boolean(value.Equal(a, b)))
		case bytecode.OpNeq:
			b := t.pop()
			a := t.pop()
			t.push(value.Boolean(!value.Equal(a, b)))
		case bytecode.OpLt:
			binaryOp(t, value.Less)
		case bytecode.OpLe:
			binaryOp(t, value.LessEqual)
		case bytecode.OpGt:
			binaryOp(t, value.Greater)
		case bytecode.OpGe:
			binaryOp(t, value.GreaterEqual)

		case bytecode.OpBitOr:
			binaryOp(t, value.BitOr)
		case bytecode.OpBitAnd:
			binaryOp(t, value.BitAnd)
		case bytecode.OpBitXor:
			binaryOp(t, value.BitXor)
		case bytecode.OpBitNot:
			v, err := value.BitNot(t.pop())
			check(err)
			t.push(v)
		case bytecode.OpShiftLeft:
			binaryOp(t, value.ShiftLeft)
		case bytecode.OpShiftRight:
			binaryOp(t, value.ShiftRight)

		case bytecode.OpJump:
			delta := int(int16(vm.readUint16(frame)))
			frame.IP += delta
		case bytecode.OpJumpIfFalse:
			delta := int(int16(vm.readUint16(frame)))
			if !t.peek(0).Truthy() {
				frame.IP += delta
			}
		case bytecode.OpJumpIfTrue:
			delta := int(int16(vm.readUint16(frame)))
			if t.peek(0).Truthy() {
				frame.IP += delta
			}

		case bytecode.OpCall:
			argc := int(vm.readByte(frame))
			vm.callValue(t, t.peek(argc), argc)
		case bytecode.OpClosure:
			t.push(vm.makeClosure(t, frame))
		case bytecode.OpReturn:
			ret := t.pop()
			base := frame.Base
			closeUpvalues(t, base)
			t.frames = t.frames[:len(t.frames)-1]
			if len(t.frames) == 0 {
				vm.sched.setReturnValue(t.ID, ret)
				t.State = ThreadFinished
				return
			}
			t.stackSize = base
			t.push(ret)
		case bytecode.OpStruct:
			k := vm.constant(frame, vm.readUint16(frame))
			if k.Kind != bytecode.ConstString {
				fail("Expected string for STRUCT name")
			}
			t.push(value.StructValue(value.NewStruct(k.Str)))
		case bytecode.OpMethod:
			k := vm.constant(frame, vm.readUint16(frame))
			if k.Kind != bytecode.ConstString {
				fail("Expected string for METHOD name")
			}
			method := t.pop()
			owner := t.peek(0)
			if owner.Kind != value.KindStruct {
				fail("METHOD must be defined on a STRUCT")
			}
			owner.AsStruct().AddMethod(k.Str, method)

		case bytecode.OpPrint:
			fmt.Fprintln(vm.out, t.pop().String())

		case bytecode.OpGetIter:
			it, err := value.Iterate(t.pop())
			check(err)
			t.push(value.IteratorValue(it))
		case bytecode.OpIterNext:
			it := vm.iteratorAt(t, frame.Base+int(vm.readByte(frame)))
			v, ok := it.Next()
			t.push(v)
			t.push(value.Boolean(ok))
		case bytecode.OpLoadIterIndex:
			it := vm.iteratorAt(t, frame.Base+int(vm.readByte(frame)))
			t.push(value.NewInt(int64(it.Index - 1)))

		case bytecode.OpSpawn:
			countVal := t.pop()
			if countVal.Kind != value.KindInt {
				fail("Expected integer for SPAWN thread count")
			}
			fnVal := t.pop()
			if fnVal.Kind != value.KindClosure {
				fail("Expected closure for SPAWN")
			}
			vm.spawnThreads(fnVal.AsClosure(), int(countVal.Int))
		case bytecode.OpSendPipe:
			v := t.pop()
			p := vm.resolvePipe(t.pop(), "SEND_PIPE")
			check(vm.sched.sendToPipe(t, p, v))
			t.push(v)
		case bytecode.OpRecvPipe:
			p := vm.resolvePipe(t.pop(), "RECV_PIPE")
			t.push(vm.sched.receiveFromPipe(t, p))
		case bytecode.OpClosePipe:
			p := vm.resolvePipe(t.pop(), "CLOSE_PIPE")
			check(vm.sched.closePipe(p))

		case bytecode.OpSelectBegin:
			vm.sched.selectBegin(t, int(vm.readByte(frame)))
		case bytecode.OpSelectRecv:
			delta := int(int16(vm.readUint16(frame)))
			slot := vm.readByte(frame)
			target := frame.IP + delta - 1
			var p *Pipe
			if pv := t.pop(); !pv.IsNull() {
				p = vm.resolvePipe(pv, "SELECT_RECV")
			}
			dest := -1
			if slot != bytecode.SelectDiscard {
				dest = frame.Base + int(slot)
				if dest >= StackMax {
					fail("Stack overflow")
				}
				t.stack[dest] = value.Null
				if t.stackSize < dest+1 {
					t.stackSize = dest + 1
				}
			}
			vm.sched.selectAddRecv(t, p, target, dest)
		case bytecode.OpSelectSend:
			delta := int(int16(vm.readUint16(frame)))
			target := frame.IP + delta
			v := t.pop()
			var p *Pipe
			if pv := t.pop(); !pv.IsNull() {
				p = vm.resolvePipe(pv, "SELECT_SEND")
			}
			vm.sched.selectAddSend(t, p, target, v)
		case bytecode.OpSelectDefault:
			delta := int(int16(vm.readUint16(frame)))
			vm.sched.selectAddDefault(t, frame.IP+delta)
		case bytecode.OpSelectExec:
			check(vm.sched.selectExecute(t, frame))

		default:
			fail("Unknown opcode %d", byte(op))
		}

		if t.State != ThreadRunning {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Operand and constant access
// ---------------------------------------------------------------------------

func (vm *VM) readByte(frame *CallFrame) byte {
	b := frame.Closure.Fn.Chunk.Code[frame.IP]
	frame.IP++
	return b
}

func (vm *VM) readUint16(frame *CallFrame) uint16 {
	code := frame.Closure.Fn.Chunk.Code
	v := uint16(code[frame.IP])<<8 | uint16(code[frame.IP+1])
	frame.IP += 2
	return v
}

func (vm *VM) constant(frame *CallFrame, idx uint16) bytecode.Constant {
	pool := frame.Closure.Fn.Chunk.Constants
	if int(idx) >= len(pool) {
		fail("constant index out of range")
	}
	return pool[idx]
}

// constantString reads a u16 operand and resolves it as a name from the
// constant pool. The compiler only emits string indices here, so the
// kind is trusted after the bounds check.
func (vm *VM) constantString(frame *CallFrame) string {
	return vm.constant(frame, vm.readUint16(frame)).Str
}

func binaryOp(t *GreenThread, op func(a, b value.Value) (value.Value, error)) {
	b := t.pop()
	a := t.pop()
	v, err := op(a, b)
	check(err)
	t.push(v)
}

func (vm *VM) iteratorAt(t *GreenThread, slot int) *value.Iterator {
	v := t.stack[slot]
	if v.Kind != value.KindIterator {
		fail("Expected iterator in loop slot")
	}
	return v.AsIterator()
}

func (vm *VM) resolvePipe(v value.Value, opName string) *Pipe {
	if v.Kind != value.KindPipe {
		fail("Expected a pipe handle for %s", opName)
	}
	p := vm.sched.pipe(v.PipeID())
	if p == nil {
		fail("Invalid pipe ID in %s", opName)
	}
	return p
}

// boundNative resolves a builtin pseudo-method for a string, array,
// thread or pipe receiver and returns it bound to that receiver.
func (vm *VM) boundNative(recv value.Value, key string) value.Value {
	if n, ok := vm.methods[recv.Kind][key]; ok {
		return value.NativeValue(n.Bind(recv))
	}
	fail("Undefined method '%s' for %s", key, methodTableName(recv.Kind))
	return value.Null
}

func methodTableName(k value.Kind) string {
	switch k {
	case value.KindString:
		return "String"
	case value.KindArray:
		return "Array"
	case value.KindThread:
		return "Thread"
	case value.KindPipe:
		return "Pipe"
	}
	return k.String()
}

// ---------------------------------------------------------------------------
// Calls and closures
// ---------------------------------------------------------------------------

func (vm *VM) callValue(t *GreenThread, callee value.Value, argc int) {
	switch callee.Kind {
	case value.KindClosure:
		vm.call(t, callee.AsClosure(), argc)
	case value.KindFunction:
		vm.call(t, value.NewClosure(callee.AsFunction()), argc)
	case value.KindNative:
		vm.callNative(t, callee.AsNative(), argc)
	case value.KindStruct:
		vm.construct(t, callee, argc)
	default:
		fail("Can only call functions and closures")
	}
}

// call pushes a frame for a closure. A bound receiver is spliced into
// the callee slot so methods see it as local slot zero.
func (vm *VM) call(t *GreenThread, closure *value.Closure, argc int) {
	if argc != closure.Fn.Arity {
		fail("Expected %d arguments but got %d", closure.Fn.Arity, argc)
	}
	if len(t.frames) >= FramesMax {
		fail("Stack overflow")
	}
	base := t.stackSize - argc - 1
	if !closure.RecvSelf.IsNull() {
		t.stack[base] = closure.RecvSelf
	}
	t.frames = append(t.frames, CallFrame{Closure: closure, Base: base})
}

// callNative invokes a builtin directly. Natives that park the thread
// still produce a placeholder result here; the waker overwrites it on
// the stack top when the thread resumes.
func (vm *VM) callNative(t *GreenThread, n *value.Native, argc int) {
	if argc != n.Arity {
		fail("Expected %d arguments but got %d", n.Arity, argc)
	}
	args := make([]value.Value, 0, argc+1)
	if !n.Bound.IsNull() {
		args = append(args, n.Bound)
	}
	for i := argc - 1; i >= 0; i-- {
		args = append(args, t.peek(i))
	}
	result, err := n.Fn(args)
	check(err)
	t.stackSize -= argc + 1
	t.push(result)
}

// construct instantiates a struct. The instance replaces the struct in
// the callee slot; an init method then runs as an ordinary bound call
// and returns the instance.
func (vm *VM) construct(t *GreenThread, callee value.Value, argc int) {
	s := callee.AsStruct()
	instance := value.InstanceValue(value.NewInstance(s))
	t.stack[t.stackSize-argc-1] = instance
	if init, ok := s.Methods["init"]; ok {
		vm.call(t, init.AsClosure().BindSelf(instance), argc)
		return
	}
	if argc != 0 {
		fail("Struct constructor does not take arguments")
	}
}

func (vm *VM) makeClosure(t *GreenThread, frame *CallFrame) value.Value {
	idx := vm.readUint16(frame)
	pool := frame.Closure.Fn.Chunk.Constants
	if int(idx) >= len(pool) {
		fail("Function index out of range")
	}
	k := pool[idx]
	if k.Kind != bytecode.ConstFunction {
		fail("Expected function for CLOSURE opcode")
	}
	closure := value.NewClosure(k.Fn)
	for i := range closure.Upvalues {
		isLocal := vm.readByte(frame)
		index := int(vm.readByte(frame))
		if isLocal == 1 {
			closure.Upvalues[i] = vm.captureUpvalue(t, frame.Base+index)
		} else {
			closure.Upvalues[i] = frame.Closure.Upvalues[index]
		}
	}
	return value.ClosureValue(closure)
}

// captureUpvalue reuses the open upvalue for a slot when one exists so
// that every closure over a variable shares the same cell.
func (vm *VM) captureUpvalue(t *GreenThread, slot int) *value.Upvalue {
	for _, open := range t.openUpvalues {
		if open.slot == slot {
			return open.uv
		}
	}
	uv := value.NewUpvalue(&t.stack[slot])
	t.openUpvalues = append(t.openUpvalues, openUpvalue{slot: slot, uv: uv})
	return uv
}

// closeUpvalues moves every captured variable at or above the slot off
// the stack and into its upvalue cell.
func closeUpvalues(t *GreenThread, from int) {
	kept := t.openUpvalues[:0]
	for _, open := range t.openUpvalues {
		if open.slot >= from {
			open.uv.Close()
		} else {
			kept = append(kept, open)
		}
	}
	t.openUpvalues = kept
}

// ---------------------------------------------------------------------------
// Threads
// ---------------------------------------------------------------------------

// spawnThreads starts count copies of the closure, each on a fresh
// thread. Inside a running program the handles are pushed for the
// spawner: one handle for a single thread, an array for more. The
// initial program thread has no spawner and gets no handle.
func (vm *VM) spawnThreads(closure *value.Closure, count int) {
	handles := make([]value.Value, 0, count)
	for i := 0; i < count; i++ {
		nt := vm.sched.newThread()
		nt.stack[0] = value.ClosureValue(closure)
		nt.stackSize = 1
		nt.frames = append(nt.frames, CallFrame{Closure: closure})
		vm.sched.enqueue(nt)
		if vm.thread != nil {
			vm.thread.children = append(vm.thread.children, nt)
		}
		handles = append(handles, value.NewThread(nt.ID))
		vmLog.Debugf("spawned thread %d running %s", nt.ID, closure.Fn.Name)
	}
	if vm.thread == nil {
		return
	}
	if count == 1 {
		vm.thread.push(handles[0])
	} else {
		vm.thread.push(value.NewArray(handles))
	}
}

// ExitCode maps a program's result value to a process exit status.
// Integers report their low byte, null and truthy values report
// success and other falsy values report failure.
func ExitCode(v value.Value) int {
	if v.Kind == value.KindInt {
		return int(((v.Int % 256) + 256) % 256)
	}
	if v.IsNull() || v.Truthy() {
		return 0
	}
	return 1
}
