package vm

import (
	"errors"
	"time"

	"github.com/rill-lang/rill/pkg/value"
)

// SelectKind distinguishes receive cases from send cases.
type SelectKind int

const (
	SelectRecv SelectKind = iota
	SelectSend
)

// SelectCase is one registered arm of a select. A nil pipe disables
// the case (the arm's pipe expression evaluated to null). Slot is the
// absolute stack index a receive writes into, or -1 to discard the
// received value.
type SelectCase struct {
	Kind     SelectKind
	Pipe     *Pipe
	Slot     int
	Value    value.Value
	TargetIP int
}

// SelectFrame collects the cases of one select statement between
// SELECT_BEGIN and SELECT_EXEC. It stays attached to the thread while
// the select blocks so that a rerun of SELECT_EXEC can rescan it.
type SelectFrame struct {
	Cases           []SelectCase
	HasDefault      bool
	DefaultTargetIP int
}

func (s *Scheduler) selectBegin(t *GreenThread, caseCount int) {
	t.activeSelect = &SelectFrame{Cases: make([]SelectCase, 0, caseCount)}
}

func (s *Scheduler) selectAddRecv(t *GreenThread, p *Pipe, targetIP, slot int) {
	t.activeSelect.Cases = append(t.activeSelect.Cases, SelectCase{
		Kind:     SelectRecv,
		Pipe:     p,
		Slot:     slot,
		TargetIP: targetIP,
	})
}

func (s *Scheduler) selectAddSend(t *GreenThread, p *Pipe, targetIP int, v value.Value) {
	t.activeSelect.Cases = append(t.activeSelect.Cases, SelectCase{
		Kind:     SelectSend,
		Pipe:     p,
		Value:    v,
		TargetIP: targetIP,
	})
}

func (s *Scheduler) selectAddDefault(t *GreenThread, targetIP int) {
	t.activeSelect.HasDefault = true
	t.activeSelect.DefaultTargetIP = targetIP
}

// selectExecute commits one ready case chosen uniformly at random,
// falls back to the default arm, or parks the thread as a waiter on
// every case pipe. Parking rewinds the instruction pointer one byte
// so this opcode runs again when a pipe operation wakes the thread.
func (s *Scheduler) selectExecute(t *GreenThread, frame *CallFrame) error {
	sel := t.activeSelect
	if sel == nil {
		return errors.New("select executed without registered cases")
	}

	var ready []int
	for i, c := range sel.Cases {
		if c.Pipe == nil {
			continue
		}
		if (c.Kind == SelectRecv && c.Pipe.canReceive()) ||
			(c.Kind == SelectSend && c.Pipe.canSend()) {
			ready = append(ready, i)
		}
	}

	if len(ready) > 0 {
		c := sel.Cases[ready[s.rng.Intn(len(ready))]]
		s.resolveSelect(t)
		switch c.Kind {
		case SelectRecv:
			v := s.receiveFromPipe(t, c.Pipe)
			if c.Slot >= 0 {
				t.stack[c.Slot] = v
			}
		case SelectSend:
			if err := s.sendToPipe(t, c.Pipe, c.Value); err != nil {
				return err
			}
		}
		frame.IP = c.TargetIP
		return nil
	}

	if sel.HasDefault {
		s.resolveSelect(t)
		frame.IP = sel.DefaultTargetIP
		return nil
	}

	for i := range sel.Cases {
		if p := sel.Cases[i].Pipe; p != nil {
			p.addSelectWaiter(t)
		}
	}
	t.State = ThreadBlocked
	t.wakeTime = time.Time{}
	frame.IP--
	return nil
}

// resolveSelect retires the select frame and removes the thread from
// every waiter list it registered on, so a later pipe operation cannot
// wake a thread that already committed.
func (s *Scheduler) resolveSelect(t *GreenThread) {
	sel := t.activeSelect
	t.activeSelect = nil
	for i := range sel.Cases {
		if p := sel.Cases[i].Pipe; p != nil {
			p.removeSelectWaiter(t)
		}
	}
}

// notifySelectWaiters readies every thread parked on a select that
// names this pipe. Entries whose select already committed are skipped
// so a thread is never enqueued twice.
func (s *Scheduler) notifySelectWaiters(p *Pipe) {
	if len(p.selectWaiters) == 0 {
		return
	}
	waiters := p.selectWaiters
	p.selectWaiters = nil
	for _, t := range waiters {
		if t.State == ThreadBlocked && t.activeSelect != nil {
			t.State = ThreadReady
			s.enqueue(t)
		}
	}
}
