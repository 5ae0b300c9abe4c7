package vm

import "github.com/rill-lang/rill/pkg/value"

// Pipe is a bounded FIFO channel between green threads. Invariants:
// a non-empty buffer means no parked readers, a buffer below capacity
// means no parked writers, and a closed pipe never has parked writers.
type Pipe struct {
	ID       int
	Capacity int

	buffer  []value.Value
	readers []*GreenThread
	writers []*GreenThread
	closed  bool

	// selectWaiters are threads blocked on a select that names this
	// pipe; any state change on the pipe readies all of them so they
	// can rescan their cases.
	selectWaiters []*GreenThread
}

func newPipe(id, capacity int) *Pipe {
	if capacity < 0 {
		capacity = 0
	}
	return &Pipe{ID: id, Capacity: capacity}
}

// canReceive reports whether a receive would complete without parking.
func (p *Pipe) canReceive() bool {
	return len(p.buffer) > 0 || len(p.writers) > 0 || p.closed
}

// canSend reports whether a send would complete without parking.
func (p *Pipe) canSend() bool {
	return !p.closed && (len(p.readers) > 0 || len(p.buffer) < p.Capacity)
}

func (p *Pipe) addSelectWaiter(t *GreenThread) {
	for _, w := range p.selectWaiters {
		if w == t {
			return
		}
	}
	p.selectWaiters = append(p.selectWaiters, t)
}

func (p *Pipe) removeSelectWaiter(t *GreenThread) {
	for i, w := range p.selectWaiters {
		if w == t {
			p.selectWaiters = append(p.selectWaiters[:i], p.selectWaiters[i+1:]...)
			return
		}
	}
}
