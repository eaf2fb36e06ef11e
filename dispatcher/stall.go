package dispatcher

import (
	"context"
	"time"
)

// whitelistedStages names stages in which a slot is expected to block for
// a long time through no fault of its own, and so must never be killed for
// stalling. "acquire" is the file-wait retry loop in imgsource.List, which
// can legitimately wait indefinitely for a detector frame to land on disk.
var whitelistedStages = map[string]bool{
	"acquire": true,
}

// watchStalls polls every slot's heartbeat every tick and calls respawn for
// any slot that has gone silent for longer than timeout, unless its current
// stage is whitelisted. It runs until ctx is cancelled.
func watchStalls(ctx context.Context, state *SharedState, tick, timeout time.Duration, respawn func(slot int)) {
	watchStallsNoRespawn(ctx, state, tick, timeout, func(slot int) {
		respawn(slot)
		state.Heartbeat(slot, "respawned")
	})
}

// watchStallsNoRespawn is the polling loop itself, factored out so tests can
// observe exactly which slots are flagged as stalled without needing a real
// pool.Manager to respawn them.
func watchStallsNoRespawn(ctx context.Context, state *SharedState, tick, timeout time.Duration, onStall func(slot int)) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for slot := 0; slot < state.NumSlots(); slot++ {
				if whitelistedStages[state.Stage(slot)] {
					continue
				}
				if time.Since(state.LastHeartbeat(slot)) <= timeout {
					continue
				}
				if onStall != nil {
					onStall(slot)
				}
			}
		}
	}
}
