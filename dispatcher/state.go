package dispatcher

import (
	"sync/atomic"
	"time"
)

// SharedState is the state visible across every worker slot and the
// dispatcher's own watchdog: per-slot heartbeats and stage names
// (single-writer per slot, read by anyone), running totals, and a
// cooperative termination flag. Serials are handed out by the Reorderer,
// not kept here. All fields are accessed through atomics so no caller
// needs its own locking.
type SharedState struct {
	heartbeats []int64        // unix nanoseconds, one per slot
	stages     []atomic.Value // string, one per slot

	processed int64
	hits      int64
	crystals  int64

	terminate int32
}

// NewSharedState allocates per-slot heartbeat/stage storage for n slots.
func NewSharedState(n int) *SharedState {
	s := &SharedState{
		heartbeats: make([]int64, n),
		stages:     make([]atomic.Value, n),
	}
	now := time.Now().UnixNano()
	for i := range s.heartbeats {
		s.heartbeats[i] = now
		s.stages[i].Store("idle")
	}
	return s
}

// Heartbeat records that slot is alive and currently in stage.
func (s *SharedState) Heartbeat(slot int, stage string) {
	atomic.StoreInt64(&s.heartbeats[slot], time.Now().UnixNano())
	s.stages[slot].Store(stage)
}

// LastHeartbeat returns the time of slot's most recent heartbeat.
func (s *SharedState) LastHeartbeat(slot int) time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.heartbeats[slot]))
}

// Stage returns slot's most recently recorded stage name.
func (s *SharedState) Stage(slot int) string {
	v, _ := s.stages[slot].Load().(string)
	return v
}

// NumSlots reports how many slots this state was sized for.
func (s *SharedState) NumSlots() int { return len(s.heartbeats) }

func (s *SharedState) AddProcessed(n int64) { atomic.AddInt64(&s.processed, n) }
func (s *SharedState) AddHits(n int64)      { atomic.AddInt64(&s.hits, n) }
func (s *SharedState) AddCrystals(n int64)  { atomic.AddInt64(&s.crystals, n) }

// Totals reports the running processed/hit/crystal counts.
func (s *SharedState) Totals() (processed, hits, crystals int64) {
	return atomic.LoadInt64(&s.processed), atomic.LoadInt64(&s.hits), atomic.LoadInt64(&s.crystals)
}

// SetTerminate raises the cooperative cancellation flag. Workers poll
// Terminated at stage boundaries in addition to honoring ctx.Done(); the
// two are redundant by design so a slot mid-loop notices either signal.
func (s *SharedState) SetTerminate() { atomic.StoreInt32(&s.terminate, 1) }

// Terminated reports whether SetTerminate has been called.
func (s *SharedState) Terminated() bool { return atomic.LoadInt32(&s.terminate) == 1 }
