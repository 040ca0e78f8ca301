package fdmux

import "fmt"

// Handle is the public face of one logical file. It is a thin façade: every
// call becomes an op on the owning path worker and goes through the store's
// scheduler. Handles are safe for concurrent use.
type Handle struct {
	store     *Store
	worker    *pathWorker
	shortPath string
}

// ShortPath returns the short path this handle addresses.
func (h *Handle) ShortPath() string {
	return h.shortPath
}

// Read requests size bytes starting at off. cb receives either an error or
// a buffer of exactly size bytes; it may run on an internal goroutine and
// must not block. size must be positive.
func (h *Handle) Read(off int64, size int, cb ReadCallback) {
	if cb == nil {
		panic("fdmux: nil read callback")
	}
	if size <= 0 {
		cb(nil, fmt.Errorf("%w: read size %d", ErrInvalidArgument, size))
		return
	}
	if off < 0 {
		cb(nil, fmt.Errorf("%w: read offset %d", ErrInvalidArgument, off))
		return
	}
	h.store.submit(h.worker, &op{kind: opRead, off: off, size: size, readCb: cb})
}

// Write writes p starting at off. cb receives the result; it may run on an
// internal goroutine and must not block. The store does not copy p; the
// caller must not mutate it until cb fires.
func (h *Handle) Write(off int64, p []byte, cb WriteCallback) {
	if cb == nil {
		panic("fdmux: nil write callback")
	}
	if off < 0 {
		cb(fmt.Errorf("%w: write offset %d", ErrInvalidArgument, off))
		return
	}
	if len(p) == 0 {
		cb(nil)
		return
	}
	h.store.submit(h.worker, &op{kind: opWrite, off: off, data: p, writeCb: cb})
}

type readResult struct {
	p   []byte
	err error
}

// ReadAt is the blocking form of Read.
func (h *Handle) ReadAt(off int64, size int) ([]byte, error) {
	ch := make(chan readResult, 1)
	h.Read(off, size, func(p []byte, err error) {
		ch <- readResult{p: p, err: err}
	})
	res := <-ch
	return res.p, res.err
}

// WriteAt is the blocking form of Write.
func (h *Handle) WriteAt(off int64, p []byte) error {
	ch := make(chan error, 1)
	h.Write(off, p, func(err error) {
		ch <- err
	})
	return <-ch
}
