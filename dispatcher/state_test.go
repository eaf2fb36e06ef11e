package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSharedState_HeartbeatAndStageAreIndependentPerSlot(t *testing.T) {
	s := NewSharedState(2)
	before := s.LastHeartbeat(0)

	time.Sleep(time.Millisecond)
	s.Heartbeat(0, "peaksearch")

	require.True(t, s.LastHeartbeat(0).After(before))
	require.Equal(t, "peaksearch", s.Stage(0))
	require.Equal(t, "idle", s.Stage(1))
}

func TestSharedState_TotalsAccumulateAcrossCalls(t *testing.T) {
	s := NewSharedState(1)
	s.AddProcessed(3)
	s.AddHits(1)
	s.AddCrystals(2)
	s.AddProcessed(1)

	processed, hits, crystals := s.Totals()
	require.Equal(t, int64(4), processed)
	require.Equal(t, int64(1), hits)
	require.Equal(t, int64(2), crystals)
}

func TestSharedState_TerminateIsRaisedBySetTerminate(t *testing.T) {
	s := NewSharedState(1)
	require.False(t, s.Terminated())
	s.SetTerminate()
	require.True(t, s.Terminated())
}
