// Package minibatch slices two parallel sequences into an infinite stream of
// fixed-size batches, optionally shuffled every epoch and optionally passed
// through a per-sample transform.
package minibatch

import (
	"iter"
	"math/rand/v2"

	"github.com/rs/zerolog"
)

const DefaultBatchSize = 32

// Transform maps one (x, y) sample to its prepared form. It is called once per
// sample, in batch order, on the goroutine that pulls the batch.
type Transform[X, Y, PX, PY any] func(x X, y Y) (PX, PY, error)

// Identity is the pass-through transform.
func Identity[X, Y any](x X, y Y) (X, Y, error) {
	return x, y, nil
}

// Batch holds batch-size prepared samples as two parallel slices.
type Batch[X, Y any] struct {
	X []X
	Y []Y

	// Epoch and Index locate the batch in the stream; both start at zero.
	Epoch int
	Index int
}

func (b Batch[X, Y]) Len() int {
	return len(b.X)
}

type options struct {
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	logger    zerolog.Logger
}

type Option func(*options)

func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

func WithShuffle(shuffle bool) Option {
	return func(o *options) { o.shuffle = shuffle }
}

// WithSeed makes shuffled epochs reproducible.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithRand shuffles with r. r must not be shared with another goroutine.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Producer is a pull-based minibatch generator over a fixed dataset.
//
// Each epoch draws a fresh permutation of 0..N-1 (identity order unless
// shuffling) and yields floor(N/batchSize) batches from consecutive slices of
// it; the N mod batchSize trailing indices are dropped for that epoch. The
// stream never ends. A Producer is not safe for concurrent use.
type Producer[X, Y, PX, PY any] struct {
	xs        []X
	ys        []Y
	prepare   Transform[X, Y, PX, PY]
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	logger    zerolog.Logger

	perm   []int
	cursor int
	epoch  int
	batch  int
}

// New builds a producer over xs and ys. The slices are copied, so later
// changes by the caller do not affect the stream.
func New[X, Y, PX, PY any](xs []X, ys []Y, prepare Transform[X, Y, PX, PY], opts ...Option) (*Producer[X, Y, PX, PY], error) {
	o := options{
		batchSize: DefaultBatchSize,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if len(xs) != len(ys) {
		return nil, validationf("both sequences must have the same length: len(x)=%d len(y)=%d", len(xs), len(ys))
	}
	if prepare == nil {
		return nil, validationf("prepare transform is required")
	}
	if o.batchSize <= 0 {
		return nil, validationf("batch size must be positive, got %d", o.batchSize)
	}
	if o.batchSize > len(xs) {
		return nil, validationf("batch size %d exceeds dataset size %d, no batch could ever be produced", o.batchSize, len(xs))
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &Producer[X, Y, PX, PY]{
		xs:        append([]X(nil), xs...),
		ys:        append([]Y(nil), ys...),
		prepare:   prepare,
		batchSize: o.batchSize,
		shuffle:   o.shuffle,
		rng:       o.rng,
		logger:    o.logger,
		epoch:     -1,
	}, nil
}

// NewPassthrough builds a producer that yields the raw samples.
func NewPassthrough[X, Y any](xs []X, ys []Y, opts ...Option) (*Producer[X, Y, X, Y], error) {
	return New(xs, ys, Identity[X, Y], opts...)
}

func (p *Producer[X, Y, PX, PY]) BatchSize() int {
	return p.batchSize
}

// BatchesPerEpoch is floor(N / batch size).
func (p *Producer[X, Y, PX, PY]) BatchesPerEpoch() int {
	return len(p.xs) / p.batchSize
}

// Epoch returns the zero-based epoch of the most recent pull, or -1 before the
// first pull.
func (p *Producer[X, Y, PX, PY]) Epoch() int {
	return p.epoch
}

// Next pulls the next batch. A failing transform returns a *TransformError and
// the slot is not retried.
func (p *Producer[X, Y, PX, PY]) Next() (Batch[PX, PY], error) {
	if p.perm == nil || p.cursor+p.batchSize > len(p.perm) {
		p.startEpoch()
	}

	excerpt := p.perm[p.cursor : p.cursor+p.batchSize]
	p.cursor += p.batchSize
	index := p.batch
	p.batch++

	out := Batch[PX, PY]{
		X:     make([]PX, len(excerpt)),
		Y:     make([]PY, len(excerpt)),
		Epoch: p.epoch,
		Index: index,
	}
	for pos, idx := range excerpt {
		x, y, err := p.prepare(p.xs[idx], p.ys[idx])
		if err != nil {
			return Batch[PX, PY]{}, &TransformError{Epoch: p.epoch, Batch: index, Position: pos, Err: err}
		}
		out.X[pos], out.Y[pos] = x, y
	}
	return out, nil
}

// Take pulls exactly n batches and stops at the first error.
func (p *Producer[X, Y, PX, PY]) Take(n int) ([]Batch[PX, PY], error) {
	batches := make([]Batch[PX, PY], 0, max(0, n))
	for range n {
		b, err := p.Next()
		if err != nil {
			return batches, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// All ranges over the infinite stream. Transform errors are yielded with a
// zero batch and iteration continues if the consumer keeps going.
func (p *Producer[X, Y, PX, PY]) All() iter.Seq2[Batch[PX, PY], error] {
	return func(yield func(Batch[PX, PY], error) bool) {
		for {
			if !yield(p.Next()) {
				return
			}
		}
	}
}

func (p *Producer[X, Y, PX, PY]) startEpoch() {
	if p.perm == nil {
		p.perm = make([]int, len(p.xs))
	}
	for i := range p.perm {
		p.perm[i] = i
	}
	if p.shuffle {
		p.rng.Shuffle(len(p.perm), func(i, j int) {
			p.perm[i], p.perm[j] = p.perm[j], p.perm[i]
		})
	}
	p.cursor = 0
	p.batch = 0
	p.epoch++

	p.logger.Debug().
		Int("epoch", p.epoch).
		Int("samples", len(p.perm)).
		Int("batches", p.BatchesPerEpoch()).
		Int("dropped", len(p.perm)%p.batchSize).
		Bool("shuffle", p.shuffle).
		Msg("minibatch epoch started")
}
