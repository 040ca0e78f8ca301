// Package fdmux is a bounded-FD random-access file store. It presents many
// logical files, each addressed by a short relative path, and serves
// arbitrary positional reads and writes against them while the process
// never holds more than a configured number of OS file handles open at
// once.
//
// The store is built for workloads with tens of thousands of logical files
// of which only a small fraction are hot at any moment. Each logical file
// is driven by a per-path worker state machine that cycles between closed
// and open, queues operations that arrive while the file is not open, and
// drains outstanding I/O before closing. A process-wide scheduler rotates
// the file-handle budget across workers, evicting the longest-idle open
// worker when a closed one needs a slot, and guarantees every submitted
// operation eventually runs.
//
// Concurrent operations on one file are dispatched in submission order but
// may complete in any order; callers needing read-after-write ordering must
// await the write first. There is no fsync policy, no content caching, and
// no cancellation of submitted operations.
package fdmux

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/michaelscutari/fdmux/internal/pathutil"
)

// Config configures a Store. DirPath and MaxOpenFiles are required.
type Config struct {
	// DirPath is the directory holding the backing files, one real file
	// per short path. Created on demand.
	DirPath string

	// MaxOpenFiles bounds the number of concurrently open file handles.
	// Must be at least 1.
	MaxOpenFiles int

	// Verbose enables scheduler diagnostics on stderr.
	Verbose bool
}

// Store schedules positional file I/O across its path workers while keeping
// the number of open file handles within the configured budget.
type Store struct {
	dirPath      string
	maxOpenFiles int
	verbose      bool

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool

	msgs      chan loopMsg
	closeOnce sync.Once
	doneCh    chan struct{}

	// Everything below is owned by the run loop.
	workers    map[string]*pathWorker
	numActive  int
	openFiles  int
	poisoned   int
	stoppable  stoppableList
	schedule   workerDeque
	pendingOps int
	closing    bool

	readsDone    int64
	writesDone   int64
	bytesRead    int64
	bytesWritten int64
	evictions    int64

	finalStats Stats
}

type loopMsg interface{}

type submitMsg struct {
	w  *pathWorker
	op *op
}

type openDoneMsg struct {
	w    *pathWorker
	file *os.File
	err  error
}

type closeDoneMsg struct {
	w   *pathWorker
	err error
}

type ioDoneMsg struct {
	w    *pathWorker
	kind opKind
	n    int
}

type statsMsg struct {
	reply chan Stats
}

type closeMsg struct{}

// New creates a Store rooted at cfg.DirPath. The directory itself is created
// lazily, together with any intermediate directories short paths require.
func New(cfg Config) (*Store, error) {
	if cfg.DirPath == "" {
		return nil, fmt.Errorf("%w: DirPath is required", ErrInvalidArgument)
	}
	if cfg.MaxOpenFiles < 1 {
		return nil, fmt.Errorf("%w: MaxOpenFiles must be at least 1", ErrInvalidArgument)
	}
	s := &Store{
		dirPath:      filepath.Clean(cfg.DirPath),
		maxOpenFiles: cfg.MaxOpenFiles,
		verbose:      cfg.Verbose,
		handles:      make(map[string]*Handle),
		workers:      make(map[string]*pathWorker),
		msgs:         make(chan loopMsg, 128),
		doneCh:       make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// StorageFor returns the handle for shortPath, creating the handle and its
// worker on first request. It is idempotent: one handle exists per short
// path for the lifetime of the store.
func (s *Store) StorageFor(shortPath string) (*Handle, error) {
	cleaned, err := pathutil.CleanShort(shortPath)
	if err != nil {
		return nil, fmt.Errorf("%w: short path %q: %v", ErrInvalidArgument, shortPath, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if h, ok := s.handles[cleaned]; ok {
		return h, nil
	}
	w := &pathWorker{
		store:     s,
		shortPath: cleaned,
		fullPath:  filepath.Join(s.dirPath, cleaned),
	}
	h := &Handle{store: s, worker: w, shortPath: cleaned}
	s.handles[cleaned] = h
	return h, nil
}

// Stats returns a point-in-time snapshot of scheduler state. After Close it
// returns the final snapshot.
func (s *Store) Stats() Stats {
	reply := make(chan Stats, 1)
	s.msgs <- statsMsg{reply: reply}
	return <-reply
}

// Close drains every submitted operation, closes all open files, and stops
// the store. Operations submitted afterwards fail with ErrStoreClosed.
// Idempotent.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.msgs <- closeMsg{}
	})
	<-s.doneCh
	return nil
}

// submit is the single entry point for operations: enqueue on the worker,
// mark it schedulable, advance the scheduler.
func (s *Store) submit(w *pathWorker, o *op) {
	s.msgs <- submitMsg{w: w, op: o}
}

func (s *Store) post(m loopMsg) {
	s.msgs <- m
}

// run is the store's run loop. It owns all worker and scheduler state; I/O
// completions arrive as messages and are never processed concurrently.
func (s *Store) run() {
	for m := range s.msgs {
		switch m := m.(type) {
		case submitMsg:
			s.handleSubmit(m)
		case openDoneMsg:
			s.handleOpenDone(m)
		case closeDoneMsg:
			s.handleCloseDone(m)
		case ioDoneMsg:
			s.handleIODone(m)
		case statsMsg:
			m.reply <- s.snapshotStats()
		case closeMsg:
			s.closing = true
		}
		if s.closing && s.finishClose() {
			s.finalStats = s.snapshotStats()
			close(s.doneCh)
			go s.rejectAfterClose()
			return
		}
	}
}

func (s *Store) handleSubmit(m submitMsg) {
	if s.closing {
		m.op.complete(nil, ErrStoreClosed)
		return
	}
	if _, ok := s.workers[m.w.shortPath]; !ok {
		s.workers[m.w.shortPath] = m.w
	}
	m.w.add(m.op)
	if m.w.poisoned {
		return
	}
	s.schedule.pushBack(m.w)
	s.pull()
}

func (s *Store) handleOpenDone(m openDoneMsg) {
	w := m.w
	if m.err != nil {
		s.poisonWorker(w, m.err)
		return
	}
	w.dirReady = true
	w.file = m.file
	w.state = stateOpened
	s.openFiles++
	w.tick()
}

func (s *Store) handleCloseDone(m closeDoneMsg) {
	w := m.w
	w.file = nil
	w.state = stateClosed
	s.openFiles--
	if m.err != nil {
		s.poisonWorker(w, m.err)
		return
	}
	s.debugf("worker %s: closed", w.shortPath)
	w.tick()
}

func (s *Store) handleIODone(m ioDoneMsg) {
	w := m.w
	switch m.kind {
	case opRead:
		w.inFlightReads--
		s.readsDone++
		s.bytesRead += int64(m.n)
	case opWrite:
		w.inFlightWrites--
		s.writesDone++
		s.bytesWritten += int64(m.n)
	}
	s.pendingOps--
	w.tick()
}

// pull is the scheduling core. It runs until the schedule queue is empty or
// no progress can be made this turn; progress then resumes from the next
// start or stop completion, each of which re-enters pull.
func (s *Store) pull() {
	for {
		if s.schedule.empty() {
			return
		}
		headroom := s.numActive < s.maxOpenFiles
		if !headroom && s.stoppable.empty() {
			// Every slot is held by a busy or stopping worker; an
			// in-flight stop completion will call back in.
			return
		}
		w := s.schedule.popFront()
		if w.poisoned {
			continue
		}
		if w.control == ctrlStart {
			// Already heading toward opened; its own tick picks up
			// the queued ops.
			continue
		}
		if w.state != stateClosed {
			// Mid-stop with fresh ops: reclaim it. The worker is
			// still counted against the budget, so numActive stays
			// put. The started callback re-admits it to the
			// stoppable list once it drains.
			s.debugf("worker %s: reclaimed while %s", w.shortPath, w.state)
			s.startWorker(w)
			continue
		}
		if headroom {
			s.numActive++
			s.startWorker(w)
			continue
		}
		victim := s.stoppable.popFront()
		s.schedule.pushFront(w)
		s.evictions++
		s.debugf("worker %s: evicting for %s", victim.shortPath, w.shortPath)
		s.stopWorker(victim)
	}
}

func (s *Store) startWorker(w *pathWorker) {
	w.start(func() {
		s.stoppable.push(w)
		s.pull()
	})
}

func (s *Store) stopWorker(w *pathWorker) {
	w.stop(func() {
		s.numActive--
		s.pull()
	})
}

// poisonWorker marks a worker permanently failed after an open, mkdir, or
// close error. Its queued ops fail with the cause, its budget slot is
// released, and the store keeps serving other paths.
func (s *Store) poisonWorker(w *pathWorker, cause error) {
	w.poisoned = true
	w.poisonErr = fmt.Errorf("%w: %w", ErrWorkerPoisoned, cause)
	w.state = stateClosed
	w.file = nil
	w.startCb = nil
	w.stopCb = nil
	s.stoppable.remove(w)
	s.poisoned++
	s.numActive--
	failed := w.ops
	w.ops = nil
	for _, o := range failed {
		s.pendingOps--
		o.complete(nil, w.poisonErr)
	}
	s.debugf("worker %s: poisoned: %v", w.shortPath, cause)
	s.pull()
}

// finishClose drives shutdown once Close has been requested: after all
// submitted ops complete, stop every worker still holding a slot, and
// report done when the last one lets go.
func (s *Store) finishClose() bool {
	if s.pendingOps != 0 {
		return false
	}
	for _, w := range s.workers {
		if !w.poisoned && w.control == ctrlStart && w.state != stateClosed {
			s.stoppable.remove(w)
			s.stopWorker(w)
		}
	}
	return s.numActive == 0
}

// rejectAfterClose keeps draining the message channel after the run loop
// exits so that late senders never block. The store is quiescent by then;
// only stray submits and stats requests can arrive.
func (s *Store) rejectAfterClose() {
	for m := range s.msgs {
		switch m := m.(type) {
		case submitMsg:
			m.op.complete(nil, ErrStoreClosed)
		case statsMsg:
			m.reply <- s.finalStats
		}
	}
}

func (s *Store) snapshotStats() Stats {
	s.mu.Lock()
	workers := len(s.handles)
	s.mu.Unlock()
	return Stats{
		Workers:         workers,
		ActiveWorkers:   s.numActive,
		OpenFiles:       s.openFiles,
		MaxOpenFiles:    s.maxOpenFiles,
		PoisonedWorkers: s.poisoned,
		PendingOps:      s.pendingOps,
		Evictions:       s.evictions,
		ReadsCompleted:  s.readsDone,
		WritesCompleted: s.writesDone,
		BytesRead:       s.bytesRead,
		BytesWritten:    s.bytesWritten,
	}
}

func (s *Store) debugf(format string, args ...any) {
	if s.verbose {
		fmt.Fprintf(os.Stderr, "[fdmux] "+format+"\n", args...)
	}
}

// Stats is a point-in-time snapshot of scheduler state.
type Stats struct {
	// Workers is the number of path workers created so far.
	Workers int
	// ActiveWorkers is the number of workers currently counted against
	// the file-handle budget.
	ActiveWorkers int
	// OpenFiles is the number of file handles currently open. Never
	// exceeds MaxOpenFiles.
	OpenFiles int
	// MaxOpenFiles is the configured budget.
	MaxOpenFiles int
	// PoisonedWorkers counts workers permanently failed by an open,
	// mkdir, or close error.
	PoisonedWorkers int
	// PendingOps is the number of submitted operations not yet completed.
	PendingOps int
	// Evictions counts idle workers closed to free a slot for another.
	Evictions int64

	ReadsCompleted  int64
	WritesCompleted int64
	BytesRead       int64
	BytesWritten    int64
}
