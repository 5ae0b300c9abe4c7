package vm

import (
	"testing"
)

func TestSpawnJoinReturnsValue(t *testing.T) {
	src := `
let h = spawn { return 99; };
disp h.join();
`
	if got, want := runSource(t, src), "99\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestJoinAfterThreadFinished(t *testing.T) {
	// The return value outlives the thread, so a late join still sees it.
	src := `
let h = spawn { return 7; };
sleep(20);
disp h.join();
`
	if got, want := runSource(t, src), "7\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestSpawnMultipleHandles(t *testing.T) {
	src := `
let hs = spawn 3 { return thread_id(); };
disp len(hs);
disp hs[0].join() + hs[1].join() + hs[2].join();
`
	if got, want := runSource(t, src), "3\n6\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestSpawnNested(t *testing.T) {
	src := `
let h = spawn {
    let inner = spawn { return 5; };
    return inner.join() + 1;
};
disp h.join();
`
	if got, want := runSource(t, src), "6\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestSpawnedThreadErrorAbortsRun(t *testing.T) {
	src := `
let h = spawn { disp 1 / 0; };
h.join();
`
	if got, want := runError(t, src), "thread 1: Division by zero"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestThreadIDs(t *testing.T) {
	src := `
disp thread_id();
let h = spawn { disp thread_id(); };
h.join();
`
	if got, want := runSource(t, src), "0\n1\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestSleepYieldsInterleaving(t *testing.T) {
	// sleep(0) is a plain yield to the back of the ready queue, which
	// makes the interleaving below deterministic.
	src := `
let h = spawn {
    disp "b1";
    sleep(0);
    disp "b2";
};
disp "a1";
sleep(0);
disp "a2";
h.join();
`
	if got, want := runSource(t, src), "a1\nb1\na2\nb2\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestSleepWaitsWallClock(t *testing.T) {
	src := `
let t0 = clock();
sleep(30);
let t1 = clock();
disp t1 - t0 >= 0.02;
`
	if got, want := runSource(t, src), "true\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestParentFinishKillsChildren(t *testing.T) {
	// The child loops forever; the program still terminates because a
	// finishing thread takes its children down with it.
	src := `
spawn {
    while true {
        sleep(1);
    }
}
sleep(20);
disp "done";
`
	if got, want := runSource(t, src), "done\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestPipeBuffered(t *testing.T) {
	src := `
let p = pipe(2);
p <- 7;
p <- 8;
disp <- p;
disp <- p;
`
	if got, want := runSource(t, src), "7\n8\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestPipeSendIsAnExpression(t *testing.T) {
	src := `
let p = pipe(1);
disp (p <- 5);
disp <- p;
`
	if got, want := runSource(t, src), "5\n5\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestPipeRendezvous(t *testing.T) {
	src := `
let p = pipe(0);
spawn { p <- 1; }
disp <- p;
`
	if got, want := runSource(t, src), "1\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestPipeBlockedWriterKeepsFIFO(t *testing.T) {
	// The writer outpaces a capacity-1 buffer and parks; the backfill
	// on each receive must preserve send order.
	src := `
let p = pipe(1);
let h = spawn {
    p <- 1;
    p <- 2;
    p <- 3;
    return 0;
};
sleep(20);
disp <- p;
disp <- p;
disp <- p;
h.join();
`
	if got, want := runSource(t, src), "1\n2\n3\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestPipeBlockedWriterWakes(t *testing.T) {
	src := `
let p = pipe(0);
let h = spawn {
    p <- 1;
    disp "after send";
};
sleep(20);
disp "before recv";
disp <- p;
h.join();
`
	if got, want := runSource(t, src), "before recv\n1\nafter send\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestPipeCloseDrainsThenNull(t *testing.T) {
	src := `
let p = pipe(2);
p <- 1;
close(p);
disp <- p;
disp <- p;
`
	if got, want := runSource(t, src), "1\nnull\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestPipeCloseWakesBlockedReader(t *testing.T) {
	src := `
let p = pipe(0);
let h = spawn {
    disp <- p;
    return 0;
};
sleep(20);
close(p);
h.join();
`
	if got, want := runSource(t, src), "null\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestPipeSendOnClosed(t *testing.T) {
	got := runError(t, "let p = pipe(1); close(p); p <- 1;")
	if want := "thread 0: send on closed pipe 0"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestPipeCloseMethod(t *testing.T) {
	got := runError(t, "let p = pipe(1); p.close(); p <- 1;")
	if want := "thread 0: send on closed pipe 0"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestPipeCloseWithBlockedWriter(t *testing.T) {
	src := `
let p = pipe(0);
spawn { p <- 1; }
sleep(20);
close(p);
`
	if got, want := runError(t, src), "thread 0: pipe 0 closed while 1 writers blocked"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestDeadlockDetected(t *testing.T) {
	got := runError(t, "let p = pipe(0); disp <- p;")
	if want := "deadlock: all 1 remaining threads are blocked"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestSelectWakesOnSend(t *testing.T) {
	// The select registers before the sender runs; the sender parking
	// on the empty pipe must wake it.
	src := `
let a = pipe(0);
let b = pipe(0);
spawn { a <- 1; }
select {
    v <- a => disp v;
    v <- b => disp v;
}
`
	if got, want := runSource(t, src), "1\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestSelectDefault(t *testing.T) {
	src := `
let p = pipe(1);
select {
    v <- p => disp v;
    default => disp "empty";
}
`
	if got, want := runSource(t, src), "empty\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestSelectSendClause(t *testing.T) {
	src := `
let p = pipe(1);
select {
    p <- 5 => disp "sent";
}
disp <- p;
`
	if got, want := runSource(t, src), "sent\n5\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestSelectSendWaitsForReader(t *testing.T) {
	src := `
let p = pipe(0);
let h = spawn {
    sleep(20);
    return <- p;
};
select {
    p <- 5 => disp "sent";
}
disp h.join();
`
	if got, want := runSource(t, src), "sent\n5\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestSelectDiscardReceive(t *testing.T) {
	src := `
let p = pipe(1);
p <- 3;
select {
    <- p => disp "got";
}
`
	if got, want := runSource(t, src), "got\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestSelectClosedPipeYieldsNull(t *testing.T) {
	src := `
let p = pipe(1);
p <- 9;
close(p);
select {
    v <- p => disp v;
}
select {
    v <- p => disp v;
}
`
	if got, want := runSource(t, src), "9\nnull\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestSelectBothReadySeeded(t *testing.T) {
	src := `
let p = pipe(2);
let q = pipe(2);
p <- 1;
q <- 2;
select {
    v <- p => disp v;
    v <- q => disp v;
}
`
	first := runSource(t, src)
	if first != "1\n" && first != "2\n" {
		t.Fatalf("printed %q, want 1 or 2", first)
	}
	// Same seed, same pick.
	if second := runSource(t, src); second != first {
		t.Errorf("reruns differ: %q then %q", first, second)
	}
}

func TestSelectDisabledArmsDeadlock(t *testing.T) {
	// A null pipe disables its arm; with every arm disabled and no
	// default the thread can never be woken.
	src := `
select {
    v <- null => disp v;
}
`
	if got, want := runError(t, src), "deadlock: all 1 remaining threads are blocked"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestSelectCompetingReceivers(t *testing.T) {
	// One send wakes both selecting threads; exactly one wins and the
	// other re-parks until the parent exits and tears it down.
	src := `
let p = pipe(0);
let done = pipe(0);
spawn {
    select {
        v <- p => { done <- v; }
    }
}
spawn {
    select {
        v <- p => { done <- v; }
    }
}
sleep(20);
p <- 7;
disp <- done;
`
	if got, want := runSource(t, src), "7\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}
