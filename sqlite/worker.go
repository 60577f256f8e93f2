package sqlite

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"zombiezen.com/go/sqlite"
)

// WorkerStrategy selects where statements are stepped.
type WorkerStrategy uint8

const (
	// WorkerInline steps on the calling goroutine.
	WorkerInline WorkerStrategy = iota
	// WorkerThread steps on a goroutine locked to its own OS thread.
	WorkerThread
)

func (s WorkerStrategy) String() string {
	if s == WorkerThread {
		return "thread"
	}
	return "inline"
}

// ParseWorkerStrategy reads "inline" or "thread". The empty string selects
// WorkerInline.
func ParseWorkerStrategy(s string) (WorkerStrategy, error) {
	switch s {
	case "", "inline":
		return WorkerInline, nil
	case "thread":
		return WorkerThread, nil
	}
	return WorkerInline, fmt.Errorf("sqlite: unknown worker %q", s)
}

// stepper advances statements of one connection, one call at a time.
type stepper interface {
	// step advances stmt and reports whether a row is available.
	step(stmt *sqlite.Stmt) (bool, error)
	close()
}

func newStepper(s WorkerStrategy) stepper {
	if s == WorkerThread {
		return newThreadWorker()
	}
	return inlineWorker{}
}

type inlineWorker struct{}

func (inlineWorker) step(stmt *sqlite.Stmt) (bool, error) { return stmt.Step() }
func (inlineWorker) close()                               {}

// Status register values of threadWorker.
const (
	statusPending int32 = iota
	statusRow
	statusDone
	statusError
	statusIdle
)

// spinPolls bounds how often a waiting step yields before it parks on the
// ready channel.
const spinPolls = 64

// threadWorker owns a goroutine pinned to an OS thread that performs every
// Step of the connection. A request stores the statement, sets the status
// register to pending and wakes the thread; the requester polls the
// register, yielding between polls, until the thread deposits the outcome.
type threadWorker struct {
	stmt   atomic.Pointer[sqlite.Stmt]
	status atomic.Int32
	err    error

	wake  chan struct{}
	ready chan struct{}
	quit  chan struct{}
	done  chan struct{}
}

func newThreadWorker() *threadWorker {
	w := &threadWorker{
		wake:  make(chan struct{}, 1),
		ready: make(chan struct{}, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	w.status.Store(statusIdle)
	go w.loop()
	return w
}

func (w *threadWorker) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	for {
		select {
		case <-w.quit:
			return
		case <-w.wake:
		}

		row, err := w.stmt.Load().Step()
		switch {
		case err != nil:
			w.err = err
			w.status.Store(statusError)
		case row:
			w.status.Store(statusRow)
		default:
			w.status.Store(statusDone)
		}
		select {
		case w.ready <- struct{}{}:
		default:
		}
	}
}

func (w *threadWorker) step(stmt *sqlite.Stmt) (bool, error) {
	w.stmt.Store(stmt)
	w.err = nil
	w.status.Store(statusPending)
	w.wake <- struct{}{}

	status := w.wait()
	w.status.Store(statusIdle)
	switch status {
	case statusRow:
		return true, nil
	case statusDone:
		return false, nil
	}
	err := w.err
	w.err = nil
	return false, err
}

// wait polls the status register until it leaves pending. A token on ready
// may be stale from an earlier step, so the register is always rechecked.
func (w *threadWorker) wait() int32 {
	for i := 0; ; i++ {
		if s := w.status.Load(); s != statusPending {
			return s
		}
		if i < spinPolls {
			runtime.Gosched()
			continue
		}
		<-w.ready
	}
}

func (w *threadWorker) close() {
	close(w.quit)
	<-w.done
}
