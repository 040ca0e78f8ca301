package fdmux

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T, maxOpen int) *Store {
	t.Helper()
	s, err := New(Config{DirPath: t.TempDir(), MaxOpenFiles: maxOpen})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConfigValidation(t *testing.T) {
	if _, err := New(Config{DirPath: "", MaxOpenFiles: 2}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty dir, got %v", err)
	}
	if _, err := New(Config{DirPath: t.TempDir(), MaxOpenFiles: 0}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for zero budget, got %v", err)
	}
}

func TestBasicRoundTrip(t *testing.T) {
	s := newTestStore(t, 2)

	h, err := s.StorageFor("a")
	if err != nil {
		t.Fatalf("storage for: %v", err)
	}
	if err := h.WriteAt(0, []byte("hello ")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := h.WriteAt(6, []byte("world!")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := h.ReadAt(0, 12)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello world!" {
		t.Fatalf("read %q, want %q", got, "hello world!")
	}
}

func TestStorageForIdempotent(t *testing.T) {
	s := newTestStore(t, 1)

	h1, err := s.StorageFor("x/y")
	if err != nil {
		t.Fatalf("storage for: %v", err)
	}
	h2, err := s.StorageFor("x/y")
	if err != nil {
		t.Fatalf("storage for: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected the same handle instance for one short path")
	}
	h3, err := s.StorageFor("x//y/")
	if err != nil {
		t.Fatalf("storage for: %v", err)
	}
	if h3 != h1 {
		t.Fatalf("expected normalized short path to share the handle")
	}
}

func TestShortPathValidation(t *testing.T) {
	s := newTestStore(t, 1)

	for _, bad := range []string{"", "/abs", "..", "../escape", "a/../../b"} {
		if _, err := s.StorageFor(bad); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("short path %q: expected invalid argument, got %v", bad, err)
		}
	}
}

func TestEvictionUnderPressure(t *testing.T) {
	s := newTestStore(t, 2)

	for i := 1; i <= 10; i++ {
		h, err := s.StorageFor(fmt.Sprintf("f%d", i))
		if err != nil {
			t.Fatalf("storage for: %v", err)
		}
		if err := h.WriteAt(0, []byte{byte(i)}); err != nil {
			t.Fatalf("write f%d: %v", i, err)
		}
	}

	st := s.Stats()
	if st.OpenFiles > 2 {
		t.Fatalf("open files %d exceeds budget 2", st.OpenFiles)
	}
	if st.ActiveWorkers > 2 {
		t.Fatalf("active workers %d exceeds budget 2", st.ActiveWorkers)
	}
	if st.Workers != 10 {
		t.Fatalf("expected 10 workers, got %d", st.Workers)
	}

	for i := 1; i <= 10; i++ {
		data, err := os.ReadFile(filepath.Join(s.dirPath, fmt.Sprintf("f%d", i)))
		if err != nil {
			t.Fatalf("read back f%d: %v", i, err)
		}
		if len(data) != 1 || data[0] != byte(i) {
			t.Fatalf("f%d contains %v", i, data)
		}
	}
}

func TestInterleavedLargeIO(t *testing.T) {
	s := newTestStore(t, 2)

	h, err := s.StorageFor("big")
	if err != nil {
		t.Fatalf("storage for: %v", err)
	}
	if err := h.WriteAt(0, make([]byte, 2048)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := h.WriteAt(1024, make([]byte, 32768)); err != nil {
		t.Fatalf("write: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	sizes := make([]int, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		p, err := h.ReadAt(0, 2048)
		errs[0], sizes[0] = err, len(p)
	}()
	go func() {
		defer wg.Done()
		p, err := h.ReadAt(1024, 32768)
		errs[1], sizes[1] = err, len(p)
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
	if sizes[0] != 2048 || sizes[1] != 32768 {
		t.Fatalf("read sizes %v, want [2048 32768]", sizes)
	}
}

func TestDisjointWritesCommute(t *testing.T) {
	s := newTestStore(t, 1)

	h, err := s.StorageFor("d")
	if err != nil {
		t.Fatalf("storage for: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		chunk := bytes.Repeat([]byte{byte('a' + i)}, 64)
		off := int64(i) * 64
		wg.Add(1)
		h.Write(off, chunk, func(err error) {
			defer wg.Done()
			if err != nil {
				t.Errorf("write at %d: %v", off, err)
			}
		})
	}
	wg.Wait()

	got, err := h.ReadAt(0, 8*64)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for i := 0; i < 8; i++ {
		want := byte('a' + i)
		for _, b := range got[i*64 : (i+1)*64] {
			if b != want {
				t.Fatalf("chunk %d corrupted: got %q want %q", i, b, want)
			}
		}
	}
}

func TestLazyDirectoryCreation(t *testing.T) {
	s := newTestStore(t, 1)

	h, err := s.StorageFor("sub/nested/leaf")
	if err != nil {
		t.Fatalf("storage for: %v", err)
	}
	if err := h.WriteAt(0, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	info, err := os.Stat(filepath.Join(s.dirPath, "sub", "nested"))
	if err != nil {
		t.Fatalf("intermediate directory missing: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("expected a directory")
	}
	if _, err := os.Stat(filepath.Join(s.dirPath, "sub", "nested", "leaf")); err != nil {
		t.Fatalf("leaf file missing: %v", err)
	}
}

func TestBudgetNeverExceeded(t *testing.T) {
	const budget = 4
	s := newTestStore(t, budget)

	stop := make(chan struct{})
	violation := make(chan Stats, 1)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			st := s.Stats()
			if st.OpenFiles > budget || st.ActiveWorkers > budget {
				select {
				case violation <- st:
				default:
				}
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 2*budget; i++ {
		h, err := s.StorageFor(fmt.Sprintf("w%02d", i))
		if err != nil {
			t.Fatalf("storage for: %v", err)
		}
		wg.Add(1)
		go func(h *Handle, i int) {
			defer wg.Done()
			for r := 0; r < 10; r++ {
				if err := h.WriteAt(int64(r), []byte{byte(i)}); err != nil {
					t.Errorf("write: %v", err)
					return
				}
			}
		}(h, i)
	}
	wg.Wait()
	close(stop)

	select {
	case st := <-violation:
		t.Fatalf("budget exceeded: open=%d active=%d max=%d", st.OpenFiles, st.ActiveWorkers, st.MaxOpenFiles)
	default:
	}
}

func TestBudgetSaturationEvicts(t *testing.T) {
	s := newTestStore(t, 2)

	handles := make([]*Handle, 3)
	for i := range handles {
		h, err := s.StorageFor(fmt.Sprintf("hot%d", i))
		if err != nil {
			t.Fatalf("storage for: %v", err)
		}
		handles[i] = h
	}

	for round := 0; round < 5; round++ {
		for i, h := range handles {
			if err := h.WriteAt(int64(round), []byte{byte(i)}); err != nil {
				t.Fatalf("round %d write %d: %v", round, i, err)
			}
		}
	}

	st := s.Stats()
	if st.Evictions == 0 {
		t.Fatalf("expected evictions with 3 hot paths and budget 2")
	}
	if st.OpenFiles > 2 {
		t.Fatalf("open files %d exceeds budget 2", st.OpenFiles)
	}
	if st.WritesCompleted != 15 {
		t.Fatalf("expected 15 writes completed, got %d", st.WritesCompleted)
	}
}

func TestReadArgumentAndEOFErrors(t *testing.T) {
	s := newTestStore(t, 1)

	h, err := s.StorageFor("r")
	if err != nil {
		t.Fatalf("storage for: %v", err)
	}
	if _, err := h.ReadAt(0, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("size 0: expected invalid argument, got %v", err)
	}
	if _, err := h.ReadAt(-1, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("negative offset: expected invalid argument, got %v", err)
	}

	if err := h.WriteAt(0, []byte("12345")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Read entirely past EOF.
	if _, err := h.ReadAt(100, 4); !errors.Is(err, ErrShortRead) {
		t.Fatalf("past EOF: expected short read, got %v", err)
	}
	// Read straddling EOF: some bytes available, fewer than requested.
	if _, err := h.ReadAt(3, 10); !errors.Is(err, ErrShortRead) {
		t.Fatalf("straddling EOF: expected short read, got %v", err)
	}
	// Exact EOF boundary must succeed.
	got, err := h.ReadAt(0, 5)
	if err != nil {
		t.Fatalf("exact read: %v", err)
	}
	if string(got) != "12345" {
		t.Fatalf("exact read got %q", got)
	}
}

func TestWorkerPoisoning(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{DirPath: dir, MaxOpenFiles: 2})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	// A regular file where the worker needs a directory makes both mkdir
	// and open fail.
	if err := os.WriteFile(filepath.Join(dir, "blocker"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	h, err := s.StorageFor("blocker/child")
	if err != nil {
		t.Fatalf("storage for: %v", err)
	}
	if err := h.WriteAt(0, []byte("x")); !errors.Is(err, ErrWorkerPoisoned) {
		t.Fatalf("expected poisoned worker, got %v", err)
	}
	// Later ops on the same path fail fast.
	if _, err := h.ReadAt(0, 1); !errors.Is(err, ErrWorkerPoisoned) {
		t.Fatalf("expected poisoned worker on retry, got %v", err)
	}

	// Other paths keep working.
	ok, err := s.StorageFor("fine")
	if err != nil {
		t.Fatalf("storage for: %v", err)
	}
	if err := ok.WriteAt(0, []byte("y")); err != nil {
		t.Fatalf("healthy path failed: %v", err)
	}

	st := s.Stats()
	if st.PoisonedWorkers != 1 {
		t.Fatalf("expected 1 poisoned worker, got %d", st.PoisonedWorkers)
	}
}

func TestCloseDrainsAndRejects(t *testing.T) {
	s, err := New(Config{DirPath: t.TempDir(), MaxOpenFiles: 2})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	h, err := s.StorageFor("c")
	if err != nil {
		t.Fatalf("storage for: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		h.Write(int64(i), []byte{byte(i)}, func(err error) {
			defer wg.Done()
			if err != nil {
				t.Errorf("write: %v", err)
			}
		})
	}

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("close did not finish")
	}
	wg.Wait()

	if _, err := s.StorageFor("late"); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected store closed, got %v", err)
	}
	if _, err := h.ReadAt(0, 1); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected store closed read, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	st := s.Stats()
	if st.OpenFiles != 0 || st.ActiveWorkers != 0 {
		t.Fatalf("store not quiescent after close: %+v", st)
	}
}
