package dispatcher

import (
	"context"
	"fmt"

	"github.com/crystfel-go/indexamajig/imgsource"
	"github.com/crystfel-go/indexamajig/model"
	"github.com/crystfel-go/indexamajig/pipeline"
)

// runWorker is the persistent loop one slot executes: assign a serial
// (blocking under reorder back-pressure), dequeue the next image, run it
// through the pipeline, and hand the result to reorder. It returns once
// the source is drained, ctx is cancelled, or state.Terminated is set.
func runWorker(ctx context.Context, slot int, source imgsource.Source, pl *pipeline.Pipeline, state *SharedState, reorder *Reorderer, onSinkError func(error)) {
	for {
		if ctxDone(ctx) || state.Terminated() {
			return
		}

		serial, ok := reorder.Assign(ctx)
		if !ok {
			return
		}

		state.Heartbeat(slot, "acquire")
		img, err := source.Next(ctx)
		if err == imgsource.ErrDrained {
			return
		}
		if err != nil {
			state.AddProcessed(1)
			if cerr := reorder.Fail(serial, "", ""); cerr != nil {
				onSinkError(cerr)
				return
			}
			continue
		}
		img.Serial = serial

		chunk := processOneImage(ctx, slot, img, pl, state)
		state.AddProcessed(1)
		if chunk.Hit {
			state.AddHits(1)
		}
		state.AddCrystals(int64(len(chunk.Crystals)))

		if err := reorder.Complete(chunk); err != nil {
			onSinkError(err)
			return
		}
	}
}

// processOneImage runs one image through the pipeline with panic recovery,
// so a single bad image does not take the slot down with it; a recovered
// panic is reported the same way a crashed worker's in-flight image is
// reported, as a failed chunk for that serial.
func processOneImage(ctx context.Context, slot int, img *model.Image, pl *pipeline.Pipeline, state *SharedState) (chunk *model.Chunk) {
	defer func() {
		if r := recover(); r != nil {
			chunk = &model.Chunk{
				Filename: img.Filename, Event: img.Event, Serial: img.Serial,
				IndexedBy: "none", Failed: true,
			}
			state.Heartbeat(slot, fmt.Sprintf("recovered: %v", r))
		}
	}()
	chunk, _ = pl.Run(ctx, img, func(stage string) { state.Heartbeat(slot, stage) })
	state.Heartbeat(slot, "idle")
	return chunk
}

func ctxDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
