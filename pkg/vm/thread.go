package vm

import (
	"time"

	"github.com/rill-lang/rill/pkg/value"
)

// Per-thread capacity limits. The stack is a fixed array so that open
// upvalues can hold pointers into it without reallocation moving them.
const (
	StackMax  = 512
	FramesMax = 256
)

// ThreadState tracks where a green thread is in its lifecycle.
type ThreadState int

const (
	ThreadReady ThreadState = iota
	ThreadRunning
	ThreadBlocked
	ThreadFinished
)

func (s ThreadState) String() string {
	switch s {
	case ThreadReady:
		return "ready"
	case ThreadRunning:
		return "running"
	case ThreadBlocked:
		return "blocked"
	case ThreadFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// CallFrame is one function activation: the closure being executed,
// its instruction pointer and the stack index of its slot 0.
type CallFrame struct {
	Closure *value.Closure
	IP      int
	Base    int
}

// openUpvalue pairs a live upvalue with the stack slot it watches.
// The slot number is kept alongside because closing sweeps by index.
type openUpvalue struct {
	slot int
	uv   *value.Upvalue
}

// GreenThread is one cooperative thread of execution. Everything a
// thread owns lives here; the scheduler moves threads between states
// but only the VM dispatch loop touches a Running thread's stack.
type GreenThread struct {
	ID    int
	State ThreadState

	// wakeTime is zero for threads parked on a pipe, join or select;
	// a non-zero time means the thread sleeps until that deadline.
	wakeTime time.Time

	stack     [StackMax]value.Value
	stackSize int
	frames    []CallFrame

	openUpvalues []openUpvalue
	children     []*GreenThread

	// pendingValue carries the value a sender was holding when it
	// blocked on a full pipe.
	pendingValue value.Value

	activeSelect *SelectFrame
}

func newGreenThread(id int) *GreenThread {
	return &GreenThread{
		ID:     id,
		State:  ThreadReady,
		frames: make([]CallFrame, 0, 8),
	}
}

func (t *GreenThread) push(v value.Value) {
	if t.stackSize >= StackMax {
		fail("Stack overflow")
	}
	t.stack[t.stackSize] = v
	t.stackSize++
}

func (t *GreenThread) pop() value.Value {
	if t.stackSize == 0 {
		fail("Stack underflow")
	}
	t.stackSize--
	return t.stack[t.stackSize]
}

func (t *GreenThread) peek(depth int) value.Value {
	if depth >= t.stackSize {
		fail("Stack underflow")
	}
	return t.stack[t.stackSize-1-depth]
}

// setTop overwrites the value on top of the stack. Wakers use it to
// deposit a result into the placeholder a thread pushed before it
// parked.
func (t *GreenThread) setTop(v value.Value) {
	if t.stackSize > 0 {
		t.stack[t.stackSize-1] = v
	}
}
