package fdmux

import "errors"

var (
	// ErrInvalidArgument is returned for malformed configuration, short
	// paths, offsets, or sizes.
	ErrInvalidArgument = errors.New("fdmux: invalid argument")

	// ErrShortRead is returned when a read hits end-of-file before the
	// requested number of bytes could be produced.
	ErrShortRead = errors.New("fdmux: short read")

	// ErrWorkerPoisoned is returned for every queued and future operation
	// on a path whose worker failed to open, create its directory, or
	// close. The wrapped chain carries the original cause.
	ErrWorkerPoisoned = errors.New("fdmux: path worker poisoned")

	// ErrStoreClosed is returned for operations submitted after Close.
	ErrStoreClosed = errors.New("fdmux: store closed")
)
