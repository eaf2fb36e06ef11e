package dispatcher

import (
	"context"
	"sync"

	"github.com/crystfel-go/indexamajig/metrics"
	"github.com/crystfel-go/indexamajig/model"
)

// Sink accepts whole chunks in ascending serial order. The stream writer is
// the production implementation; tests use an in-memory stand-in.
type Sink interface {
	WriteChunk(c *model.Chunk) error
}

// Reorderer assigns the monotone serial a newly dequeued image receives
// and, once that image's chunk is finished, buffers it until every earlier
// serial has already reached the sink, then flushes the contiguous run.
// Back-pressure comes from a fixed-size token pool sized to bound: each
// Assign takes a token and each flushed chunk returns one, so at most
// bound serials can be outstanding (assigned but not yet flushed) at once.
type Reorderer struct {
	sink   Sink
	tokens chan struct{}

	// inflight tracks images currently assigned to a worker slot but not
	// yet handed to Complete, i.e. in-flight image processing. Unlike
	// tokens (which stay held until a chunk is flushed to the sink in
	// order), this moves the instant Complete/Fail is called, so it
	// reflects live worker occupancy rather than reorder-buffer pressure.
	inflight metrics.UpDownCounter

	mu           sync.Mutex
	nextToAssign int64
	nextToFlush  int64
	buf          map[int64]*model.Chunk
}

// NewReorderer builds a Reorderer writing to sink with at most bound
// serials outstanding at once. A nil inflight counter discards the gauge.
func NewReorderer(sink Sink, bound int, inflight metrics.UpDownCounter) *Reorderer {
	if bound < 1 {
		bound = 1
	}
	if inflight == nil {
		inflight = metrics.NewNoopProvider().UpDownCounter("inflight")
	}
	return &Reorderer{
		sink:     sink,
		tokens:   make(chan struct{}, bound),
		inflight: inflight,
		buf:      make(map[int64]*model.Chunk),
	}
}

// Assign blocks until the reorder buffer has room, then returns the next
// serial to give a newly dequeued image. ok is false if ctx was cancelled
// before a slot became available.
func (r *Reorderer) Assign(ctx context.Context) (serial int64, ok bool) {
	select {
	case r.tokens <- struct{}{}:
	case <-ctx.Done():
		return 0, false
	}
	r.mu.Lock()
	serial = r.nextToAssign
	r.nextToAssign++
	r.mu.Unlock()
	r.inflight.Add(1)
	return serial, true
}

// Complete records c as finished and flushes every contiguous chunk,
// starting from the current cursor, to the sink in serial order. It
// returns the first sink write error encountered, if any; the caller is
// expected to treat that as fatal for the whole dispatch.
func (r *Reorderer) Complete(c *model.Chunk) error {
	r.inflight.Add(-1)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[c.Serial] = c
	for {
		next, ok := r.buf[r.nextToFlush]
		if !ok {
			return nil
		}
		if err := r.sink.WriteChunk(next); err != nil {
			return err
		}
		delete(r.buf, r.nextToFlush)
		r.nextToFlush++
		<-r.tokens
	}
}

// Fail is Complete for an image that never became a chunk (e.g. a load
// failure): it still occupies its assigned serial so the stream stays
// dense, just with Failed set and no peaks or crystals.
func (r *Reorderer) Fail(serial int64, filename, event string) error {
	return r.Complete(&model.Chunk{
		Filename:  filename,
		Event:     event,
		Serial:    serial,
		IndexedBy: "none",
		Failed:    true,
	})
}
