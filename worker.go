package fdmux

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type workerControl uint8

const (
	ctrlStop workerControl = iota
	ctrlStart
)

func (c workerControl) String() string {
	if c == ctrlStart {
		return "start"
	}
	return "stop"
}

type workerState uint8

const (
	stateClosed workerState = iota
	stateOpening
	stateOpened
	stateDraining
	stateClosing
)

func (s workerState) String() string {
	switch s {
	case stateOpening:
		return "opening"
	case stateOpened:
		return "opened"
	case stateDraining:
		return "draining"
	case stateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// pathWorker is the per-file state machine. It owns the open file while in
// states opened/draining/closing and the queue of operations waiting to run
// against it. All fields are owned by the store's run loop; the short-lived
// I/O goroutines only see values handed to them at dispatch time.
type pathWorker struct {
	store     *Store
	shortPath string
	fullPath  string

	control workerControl
	state   workerState
	file    *os.File

	ops            []*op
	inFlightReads  int
	inFlightWrites int

	startCb func()
	stopCb  func()

	dirReady    bool
	inStoppable bool

	poisoned  bool
	poisonErr error
}

// add appends an operation and ticks. Poisoned workers fail the op
// immediately.
func (w *pathWorker) add(o *op) {
	if w.poisoned {
		o.complete(nil, w.poisonErr)
		return
	}
	w.ops = append(w.ops, o)
	w.store.pendingOps++
	w.tick()
}

// start flips the scheduler's wish to running. cb, if non-nil, fires exactly
// once when the worker next reaches opened under this directive, after the
// ops pending at that moment have been dispatched. A start aimed at a
// stopping worker abandons the stop: its notification is cancelled, since
// the worker's budget slot was never released.
func (w *pathWorker) start(cb func()) {
	w.control = ctrlStart
	if cb != nil {
		if w.startCb != nil {
			panic("fdmux: start notification already pending")
		}
		w.startCb = cb
	}
	w.stopCb = nil
	w.tick()
}

// stop flips the scheduler's wish to closed. cb fires exactly once when the
// worker next reaches closed. A start notification still pending (a worker
// stopped by Close before it reached opened) is dropped.
func (w *pathWorker) stop(cb func()) {
	w.control = ctrlStop
	if cb != nil {
		if w.stopCb != nil {
			panic("fdmux: stop notification already pending")
		}
		w.stopCb = cb
	}
	w.startCb = nil
	w.tick()
}

// tick advances the state machine one step. It runs on the store's run loop
// and is re-entered after every asynchronous completion; it is never
// concurrent with itself for the same worker.
func (w *pathWorker) tick() {
	if w.poisoned {
		return
	}
	switch w.control {
	case ctrlStart:
		switch w.state {
		case stateClosed:
			w.state = stateOpening
			w.store.debugf("worker %s: opening", w.shortPath)
			go w.openFile()
		case stateOpening, stateClosing:
			// The in-flight open or close will re-tick.
		case stateOpened:
			w.dispatchOps()
			if w.startCb != nil {
				cb := w.startCb
				w.startCb = nil
				cb()
			}
		case stateDraining:
			// Reclaimed mid-drain; the file is still open.
			w.state = stateOpened
			w.tick()
		}
	case ctrlStop:
		switch w.state {
		case stateOpened:
			w.dispatchOps()
			w.state = stateDraining
			w.tick()
		case stateDraining:
			if w.inFlightReads+w.inFlightWrites == 0 {
				w.state = stateClosing
				w.store.debugf("worker %s: closing", w.shortPath)
				go w.closeFile(w.file)
			}
		case stateOpening, stateClosing:
			// Wait for the completion.
		case stateClosed:
			if w.stopCb != nil {
				cb := w.stopCb
				w.stopCb = nil
				cb()
			}
		}
	}
}

// dispatchOps issues every queued op against the open file. Ops go to the
// OS back-to-back without awaiting each other, so completion order is not
// submission order.
func (w *pathWorker) dispatchOps() {
	if w.state != stateOpened && w.state != stateDraining {
		return
	}
	for len(w.ops) > 0 {
		o := w.ops[0]
		w.ops[0] = nil
		w.ops = w.ops[1:]
		switch o.kind {
		case opRead:
			w.inFlightReads++
			go w.execRead(o, w.file)
		case opWrite:
			w.inFlightWrites++
			go w.execWrite(o, w.file)
		}
	}
}

// openFile runs off the loop. The enclosing directory is created once per
// worker lifetime, on the first open.
func (w *pathWorker) openFile() {
	if !w.dirReady {
		if err := os.MkdirAll(filepath.Dir(w.fullPath), 0o755); err != nil {
			w.store.post(openDoneMsg{w: w, err: fmt.Errorf("create directory for %s: %w", w.shortPath, err)})
			return
		}
	}
	f, err := os.OpenFile(w.fullPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		err = fmt.Errorf("open %s: %w", w.shortPath, err)
	}
	w.store.post(openDoneMsg{w: w, file: f, err: err})
}

func (w *pathWorker) closeFile(f *os.File) {
	err := f.Close()
	if err != nil {
		err = fmt.Errorf("close %s: %w", w.shortPath, err)
	}
	w.store.post(closeDoneMsg{w: w, err: err})
}

// execRead runs off the loop. The buffer is freshly allocated at exactly the
// requested size; anything less than a full read surfaces as an error.
func (w *pathWorker) execRead(o *op, f *os.File) {
	buf := make([]byte, o.size)
	n, err := f.ReadAt(buf, o.off)
	// Post before completing: a caller that sees its callback fire may
	// immediately ask for stats, and the decrement must order ahead of
	// that request.
	w.store.post(ioDoneMsg{w: w, kind: opRead, n: n})
	switch {
	case n == o.size && (err == nil || errors.Is(err, io.EOF)):
		o.complete(buf, nil)
	case errors.Is(err, io.EOF):
		o.complete(nil, fmt.Errorf("%w: %s: %d of %d bytes at offset %d", ErrShortRead, w.shortPath, n, o.size, o.off))
	case err != nil:
		o.complete(nil, fmt.Errorf("read %s: %w", w.shortPath, err))
	default:
		o.complete(nil, fmt.Errorf("%w: %s: %d of %d bytes at offset %d", ErrShortRead, w.shortPath, n, o.size, o.off))
	}
}

// execWrite runs off the loop. WriteAt reports an error for any write that
// does not cover the full buffer.
func (w *pathWorker) execWrite(o *op, f *os.File) {
	n, err := f.WriteAt(o.data, o.off)
	if err != nil {
		err = fmt.Errorf("write %s: %w", w.shortPath, err)
	}
	w.store.post(ioDoneMsg{w: w, kind: opWrite, n: n})
	o.complete(nil, err)
}
