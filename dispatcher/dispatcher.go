package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crystfel-go/indexamajig/imgsource"
	"github.com/crystfel-go/indexamajig/metrics"
	"github.com/crystfel-go/indexamajig/pipeline"
	"github.com/crystfel-go/indexamajig/pool"
)

// Options configures a dispatch run.
type Options struct {
	Workers           int
	StallTimeout      time.Duration
	StallCheckPeriod  time.Duration
	ReorderBufferSize int
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = 30 * time.Second
	}
	if o.StallCheckPeriod <= 0 {
		o.StallCheckPeriod = o.StallTimeout / 4
	}
	if o.ReorderBufferSize < 1 {
		o.ReorderBufferSize = 256
	}
	return o
}

// Totals summarizes a completed run.
type Totals struct {
	Processed int64
	Hits      int64
	Crystals  int64
}

// Run drives source through pl with opts.Workers persistent slots, writing
// completed chunks to sink in ascending serial order. It returns once
// source is drained, ctx is cancelled, or a sink write fails; a sink
// failure is the only error Run itself returns, since every other fault
// (load failure, stalled slot, panic) is contained to its own image or
// slot and never stops the run.
func Run(ctx context.Context, source imgsource.Source, pl *pipeline.Pipeline, sink Sink, opts Options) (Totals, error) {
	opts = opts.withDefaults()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := NewSharedState(opts.Workers)
	inflight := pl.Metrics.UpDownCounter("dispatcher_inflight_images",
		metrics.WithDescription("images currently assigned to a worker slot and not yet flushed to the sink"))
	reorder := NewReorderer(sink, opts.ReorderBufferSize, inflight)

	var failOnce sync.Once
	var sinkErr error
	fail := func(err error) {
		failOnce.Do(func() {
			sinkErr = err
			state.SetTerminate()
			cancel()
		})
	}

	mgr := pool.NewFixed(runCtx, opts.Workers, func(slotCtx context.Context, slot int) {
		runWorker(slotCtx, slot, source, pl, state, reorder, fail)
	})

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		watchStalls(runCtx, state, opts.StallCheckPeriod, opts.StallTimeout, mgr.Respawn)
	}()

	mgr.Wait()
	cancel()
	<-watchDone

	processed, hits, crystals := state.Totals()
	totals := Totals{Processed: processed, Hits: hits, Crystals: crystals}

	if sinkErr != nil {
		return totals, fmt.Errorf("dispatcher: sink write failed: %w", sinkErr)
	}
	return totals, nil
}
