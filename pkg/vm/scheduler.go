package vm

import (
	"container/heap"
	"fmt"
	"math/rand"
	"time"

	"github.com/tliron/commonlog"

	"github.com/rill-lang/rill/pkg/value"
)

var log = commonlog.GetLogger("rill.sched")

// sleeper is a heap entry for a thread sleeping until a deadline.
type sleeper struct {
	wake time.Time
	id   int
}

type sleepQueue []sleeper

func (q sleepQueue) Len() int { return len(q) }

func (q sleepQueue) Less(i, j int) bool {
	if q[i].wake.Equal(q[j].wake) {
		return q[i].id < q[j].id
	}
	return q[i].wake.Before(q[j].wake)
}

func (q sleepQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *sleepQueue) Push(x any) { *q = append(*q, x.(sleeper)) }

func (q *sleepQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

// Scheduler owns every green thread and pipe of one interpreter run and
// drives them cooperatively on the calling goroutine. A thread runs until
// it finishes, parks or yields; there is no preemption, so no locking is
// needed anywhere in the runtime.
type Scheduler struct {
	nextThreadID int
	threads      map[int]*GreenThread
	ready        []int
	sleepers     sleepQueue

	// joins maps a blocked thread's ID to the ID of the thread it waits on.
	joins   map[int]int
	returns map[int]value.Value

	nextPipeID int
	pipes      map[int]*Pipe

	rng *rand.Rand
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		threads: make(map[int]*GreenThread),
		joins:   make(map[int]int),
		returns: make(map[int]value.Value),
		pipes:   make(map[int]*Pipe),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed makes select tie-breaking reproducible.
func (s *Scheduler) Seed(seed int64) {
	s.rng = rand.New(rand.NewSource(seed))
}

func (s *Scheduler) newThread() *GreenThread {
	t := newGreenThread(s.nextThreadID)
	s.nextThreadID++
	s.threads[t.ID] = t
	return t
}

func (s *Scheduler) enqueue(t *GreenThread) {
	s.ready = append(s.ready, t.ID)
}

// enqueueFront gives a freshly woken joiner the next turn, which keeps
// join().then-continue sequences from interleaving with unrelated threads.
func (s *Scheduler) enqueueFront(t *GreenThread) {
	s.ready = append([]int{t.ID}, s.ready...)
}

// dequeue pops the next runnable thread. Queue entries can go stale: a
// thread may be killed while queued, or enqueued twice when two pipes of
// one select fire back to back. Stale entries are skipped here.
func (s *Scheduler) dequeue() *GreenThread {
	for len(s.ready) > 0 {
		id := s.ready[0]
		s.ready = s.ready[1:]
		t := s.threads[id]
		if t == nil || t.State != ThreadReady {
			continue
		}
		return t
	}
	return nil
}

func (s *Scheduler) blockThread(t *GreenThread) {
	heap.Push(&s.sleepers, sleeper{wake: t.wakeTime, id: t.ID})
}

func (s *Scheduler) wakeSleepers(now time.Time) {
	for len(s.sleepers) > 0 && !s.sleepers[0].wake.After(now) {
		sl := heap.Pop(&s.sleepers).(sleeper)
		t := s.threads[sl.id]
		if t == nil {
			continue
		}
		t.State = ThreadReady
		s.enqueue(t)
	}
}

// sleepUntilReady blocks the scheduler goroutine until the earliest
// sleeper is due. Only called when no thread is runnable.
func (s *Scheduler) sleepUntilReady() {
	d := time.Until(s.sleepers[0].wake)
	if d > 0 {
		time.Sleep(d)
	}
}

func (s *Scheduler) setReturnValue(id int, v value.Value) {
	s.returns[id] = v
}

func (s *Scheduler) returnValue(id int) value.Value {
	if v, ok := s.returns[id]; ok {
		return v
	}
	return value.Null
}

// finishThread hands the finished thread's return value to any joiner,
// then kills the thread and, transitively, its children.
func (s *Scheduler) finishThread(t *GreenThread) {
	for waiterID, targetID := range s.joins {
		if targetID != t.ID {
			continue
		}
		delete(s.joins, waiterID)
		waiter := s.threads[waiterID]
		if waiter == nil {
			continue
		}
		waiter.setTop(s.returnValue(t.ID))
		waiter.State = ThreadReady
		s.enqueueFront(waiter)
	}
	s.killThread(t)
}

func (s *Scheduler) killThread(t *GreenThread) {
	if _, ok := s.threads[t.ID]; !ok {
		return
	}
	delete(s.threads, t.ID)
	log.Debugf("killing thread %d", t.ID)
	for _, child := range t.children {
		s.killThread(child)
	}
}

// joinThread parks t until the target finishes. If the target is already
// gone its return value is available immediately and t keeps running.
func (s *Scheduler) joinThread(t *GreenThread, targetID int) (value.Value, bool) {
	if _, alive := s.threads[targetID]; !alive {
		return s.returnValue(targetID), true
	}
	s.joins[t.ID] = targetID
	t.State = ThreadBlocked
	t.wakeTime = time.Time{}
	return value.Null, false
}

// sendToSleep parks t for ms milliseconds. A non-positive duration is a
// plain yield: the thread goes back to the ready queue without a deadline.
func (s *Scheduler) sendToSleep(t *GreenThread, ms int64) {
	if ms <= 0 {
		t.State = ThreadReady
		return
	}
	t.State = ThreadBlocked
	t.wakeTime = time.Now().Add(time.Duration(ms) * time.Millisecond)
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

// Schedule runs threads until none remain. The program's result is the
// return value of the last thread that finished; a runtime error in any
// thread aborts the whole run.
func (s *Scheduler) Schedule(vm *VM) (value.Value, error) {
	final := value.Null
	for len(s.threads) > 0 {
		s.wakeSleepers(time.Now())

		t := s.dequeue()
		if t == nil {
			if len(s.sleepers) == 0 {
				return value.Null, fmt.Errorf("deadlock: all %d remaining threads are blocked", len(s.threads))
			}
			s.sleepUntilReady()
			continue
		}

		t.State = ThreadRunning
		if err := vm.execute(t); err != nil {
			return value.Null, fmt.Errorf("thread %d: %w", t.ID, err)
		}
		final = s.returnValue(t.ID)

		switch {
		case t.State == ThreadFinished:
			s.finishThread(t)
		case t.State == ThreadBlocked && t.wakeTime.IsZero():
			// Parked on a pipe, join or select; a waker re-enqueues it.
		case t.State == ThreadBlocked:
			s.blockThread(t)
		default:
			t.State = ThreadReady
			s.enqueue(t)
		}
	}
	return final, nil
}

// ---------------------------------------------------------------------------
// Pipes
// ---------------------------------------------------------------------------

func (s *Scheduler) makePipe(capacity int) int {
	id := s.nextPipeID
	s.nextPipeID++
	s.pipes[id] = newPipe(id, capacity)
	return id
}

func (s *Scheduler) pipe(id int) *Pipe {
	return s.pipes[id]
}

// sendToPipe delivers v to a waiting reader, buffers it, or parks t as a
// writer carrying v. Sending on a closed pipe is a runtime error.
func (s *Scheduler) sendToPipe(t *GreenThread, p *Pipe, v value.Value) error {
	if p.closed {
		return fmt.Errorf("send on closed pipe %d", p.ID)
	}
	if len(p.readers) > 0 {
		r := p.readers[0]
		p.readers = p.readers[1:]
		r.setTop(v)
		r.State = ThreadReady
		s.enqueue(r)
		s.notifySelectWaiters(p)
		return nil
	}
	if len(p.buffer) < p.Capacity {
		p.buffer = append(p.buffer, v)
		s.notifySelectWaiters(p)
		return nil
	}
	t.pendingValue = v
	t.State = ThreadBlocked
	t.wakeTime = time.Time{}
	p.writers = append(p.writers, t)
	// A parked writer is receivable data for anyone selecting on p.
	s.notifySelectWaiters(p)
	return nil
}

// receiveFromPipe returns the next value, backfilling the buffer from a
// parked writer so FIFO order holds. On an empty open pipe the thread
// parks as a reader; the value it eventually receives is deposited on
// its stack top by the waking sender.
func (s *Scheduler) receiveFromPipe(t *GreenThread, p *Pipe) value.Value {
	if len(p.buffer) > 0 {
		v := p.buffer[0]
		p.buffer = p.buffer[1:]
		if len(p.writers) > 0 {
			w := p.writers[0]
			p.writers = p.writers[1:]
			p.buffer = append(p.buffer, w.pendingValue)
			w.pendingValue = value.Null
			w.State = ThreadReady
			s.enqueue(w)
		}
		s.notifySelectWaiters(p)
		return v
	}
	if len(p.writers) > 0 {
		w := p.writers[0]
		p.writers = p.writers[1:]
		v := w.pendingValue
		w.pendingValue = value.Null
		w.State = ThreadReady
		s.enqueue(w)
		s.notifySelectWaiters(p)
		return v
	}
	if p.closed {
		return value.Null
	}
	t.State = ThreadBlocked
	t.wakeTime = time.Time{}
	p.readers = append(p.readers, t)
	// A parked reader makes a send select on p ready.
	s.notifySelectWaiters(p)
	return value.Null
}

// closePipe marks the pipe closed and drains every parked reader with
// null. Closing while writers are parked is a runtime error because
// their values would be lost.
func (s *Scheduler) closePipe(p *Pipe) error {
	if len(p.writers) > 0 {
		return fmt.Errorf("pipe %d closed while %d writers blocked", p.ID, len(p.writers))
	}
	p.closed = true
	for _, r := range p.readers {
		r.setTop(value.Null)
		r.State = ThreadReady
		s.enqueue(r)
	}
	p.readers = nil
	s.notifySelectWaiters(p)
	return nil
}
