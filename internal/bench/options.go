package bench

// Options configures a bench run.
type Options struct {
	// Files is the number of logical files the workload spreads over.
	Files int

	// Clients is the number of concurrent submitters.
	Clients int

	// Ops is the total number of operations across all clients.
	Ops int

	// MaxOpSize bounds the byte size of a single read or write.
	MaxOpSize int

	// ReadFraction is the probability that an op is a read, once the
	// client has written something it can read back.
	ReadFraction float64

	// Seed makes the workload reproducible.
	Seed int64

	// Verbose enables client diagnostics on stderr.
	Verbose bool
}

// DefaultOptions returns sensible defaults for a bench run.
func DefaultOptions() *Options {
	return &Options{
		Files:        64,
		Clients:      4,
		Ops:          10000,
		MaxOpSize:    4096,
		ReadFraction: 0.5,
		Seed:         1,
	}
}

// WithFiles sets the logical file count.
func (o *Options) WithFiles(n int) *Options {
	o.Files = n
	return o
}

// WithClients sets the number of concurrent submitters.
func (o *Options) WithClients(n int) *Options {
	o.Clients = n
	return o
}

// WithOps sets the total operation count.
func (o *Options) WithOps(n int) *Options {
	o.Ops = n
	return o
}

// WithMaxOpSize sets the maximum size of one op.
func (o *Options) WithMaxOpSize(n int) *Options {
	o.MaxOpSize = n
	return o
}

// WithReadFraction sets the read probability.
func (o *Options) WithReadFraction(f float64) *Options {
	o.ReadFraction = f
	return o
}

// WithSeed sets the workload seed.
func (o *Options) WithSeed(seed int64) *Options {
	o.Seed = seed
	return o
}

// WithVerbose sets diagnostic logging.
func (o *Options) WithVerbose(v bool) *Options {
	o.Verbose = v
	return o
}
