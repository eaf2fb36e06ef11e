// Package dispatcher turns an image source into an ordered stream of
// per-image results using a fixed number of persistent worker slots.
//
// Each slot runs the same per-image pipeline in a loop, assigning itself
// the next serial before pulling an image so that back-pressure on the
// reorder buffer is applied at dequeue time, not after the fact. Slots
// report a heartbeat and current stage through SharedState; a watchdog
// goroutine kills and respawns any slot that goes quiet for longer than
// the configured stall timeout, unless it is in a whitelisted blocking
// stage. Completed chunks are buffered by serial and flushed to the sink
// strictly in order.
//
// The sink is owned exclusively by the reorderer: workers never write to
// it directly. A sink write failure is treated as fatal and stops the
// whole dispatch; a single worker stall or crash only restarts that slot,
// with the in-flight image counted as failed and not retried.
package dispatcher
