package bench

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/michaelscutari/fdmux"
	"github.com/michaelscutari/fdmux/internal/trace"
)

// Runner drives a reproducible random-access workload against a store and
// emits one trace sample per operation.
type Runner struct {
	opts     *Options
	store    *fdmux.Store
	sampleCh chan<- trace.OpSample

	done      int64
	reads     int64
	writes    int64
	errCount  int64
	bytesDone int64
}

// Progress holds live bench counters.
type Progress struct {
	Done   int64
	Total  int64
	Reads  int64
	Writes int64
	Errors int64
	Bytes  int64
}

// NewRunner creates a runner. sampleCh may be nil to skip tracing.
func NewRunner(opts *Options, store *fdmux.Store, sampleCh chan<- trace.OpSample) *Runner {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Runner{
		opts:     opts,
		store:    store,
		sampleCh: sampleCh,
	}
}

// written tracks one region a client has written, so its reads can stay
// inside known file extents and never cross EOF.
type written struct {
	file int
	off  int64
	size int
}

// Run executes the workload. Individual op failures are recorded, not
// fatal; Run fails only on setup errors or context cancellation.
func (r *Runner) Run(ctx context.Context) error {
	if r.opts.Files < 1 || r.opts.Clients < 1 || r.opts.Ops < 1 || r.opts.MaxOpSize < 1 {
		return fmt.Errorf("bench options out of range: %+v", *r.opts)
	}

	handles := make([]*fdmux.Handle, r.opts.Files)
	for i := range handles {
		h, err := r.store.StorageFor(fmt.Sprintf("bench/f%05d", i))
		if err != nil {
			return fmt.Errorf("storage for file %d: %w", i, err)
		}
		handles[i] = h
	}

	g, ctx := errgroup.WithContext(ctx)
	perClient := r.opts.Ops / r.opts.Clients
	extra := r.opts.Ops % r.opts.Clients
	for c := 0; c < r.opts.Clients; c++ {
		ops := perClient
		if c < extra {
			ops++
		}
		c := c
		g.Go(func() error {
			return r.client(ctx, c, ops, handles)
		})
	}
	return g.Wait()
}

func (r *Runner) client(ctx context.Context, id, ops int, handles []*fdmux.Handle) error {
	rng := rand.New(rand.NewSource(r.opts.Seed + int64(id)))
	var regions []written

	if r.opts.Verbose {
		fmt.Fprintf(os.Stderr, "[C%d] STARTED ops=%d\n", id, ops)
	}

	for i := 0; i < ops; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		doRead := len(regions) > 0 && rng.Float64() < r.opts.ReadFraction
		if doRead {
			reg := regions[rng.Intn(len(regions))]
			r.readOp(ctx, handles[reg.file], reg)
		} else {
			reg := written{
				file: rng.Intn(len(handles)),
				off:  int64(rng.Intn(64 << 10)),
				size: 1 + rng.Intn(r.opts.MaxOpSize),
			}
			if r.writeOp(ctx, rng, handles[reg.file], reg) {
				regions = append(regions, reg)
			}
		}
		atomic.AddInt64(&r.done, 1)
	}

	if r.opts.Verbose {
		fmt.Fprintf(os.Stderr, "[C%d] DONE\n", id)
	}
	return nil
}

func (r *Runner) readOp(ctx context.Context, h *fdmux.Handle, reg written) {
	start := time.Now()
	p, err := h.ReadAt(reg.off, reg.size)
	latency := time.Since(start)

	atomic.AddInt64(&r.reads, 1)
	errStr := ""
	if err != nil {
		errStr = err.Error()
		atomic.AddInt64(&r.errCount, 1)
	} else {
		atomic.AddInt64(&r.bytesDone, int64(len(p)))
	}
	r.emit(ctx, trace.OpSample{
		Path:    h.ShortPath(),
		Kind:    trace.KindRead,
		Offset:  reg.off,
		Size:    int64(reg.size),
		Latency: latency,
		Err:     errStr,
	})
}

func (r *Runner) writeOp(ctx context.Context, rng *rand.Rand, h *fdmux.Handle, reg written) bool {
	buf := make([]byte, reg.size)
	rng.Read(buf)

	start := time.Now()
	err := h.WriteAt(reg.off, buf)
	latency := time.Since(start)

	atomic.AddInt64(&r.writes, 1)
	errStr := ""
	if err != nil {
		errStr = err.Error()
		atomic.AddInt64(&r.errCount, 1)
	} else {
		atomic.AddInt64(&r.bytesDone, int64(reg.size))
	}
	r.emit(ctx, trace.OpSample{
		Path:    h.ShortPath(),
		Kind:    trace.KindWrite,
		Offset:  reg.off,
		Size:    int64(reg.size),
		Latency: latency,
		Err:     errStr,
	})
	return err == nil
}

// emit records a sample. A cancelled run stops consuming samples, so the
// send must not block past cancellation.
func (r *Runner) emit(ctx context.Context, s trace.OpSample) {
	if r.sampleCh == nil {
		return
	}
	select {
	case r.sampleCh <- s:
	case <-ctx.Done():
	}
}

// Progress returns current counters (safe for concurrent access).
func (r *Runner) Progress() Progress {
	return Progress{
		Done:   atomic.LoadInt64(&r.done),
		Total:  int64(r.opts.Ops),
		Reads:  atomic.LoadInt64(&r.reads),
		Writes: atomic.LoadInt64(&r.writes),
		Errors: atomic.LoadInt64(&r.errCount),
		Bytes:  atomic.LoadInt64(&r.bytesDone),
	}
}
