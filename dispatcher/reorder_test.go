package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crystfel-go/indexamajig/metrics"
	"github.com/crystfel-go/indexamajig/model"
)

type chunkSink struct {
	written []*model.Chunk
}

func (s *chunkSink) WriteChunk(c *model.Chunk) error {
	s.written = append(s.written, c)
	return nil
}

func TestReorderer_FlushesOnlyContiguousRun(t *testing.T) {
	sink := &chunkSink{}
	r := NewReorderer(sink, 8, nil)

	for i := 0; i < 3; i++ {
		_, ok := r.Assign(context.Background())
		require.True(t, ok)
	}

	require.NoError(t, r.Complete(&model.Chunk{Serial: 2}))
	require.Empty(t, sink.written, "serial 2 must wait for 0 and 1")

	require.NoError(t, r.Complete(&model.Chunk{Serial: 0}))
	require.Len(t, sink.written, 1)

	require.NoError(t, r.Complete(&model.Chunk{Serial: 1}))
	require.Len(t, sink.written, 3)
	require.Equal(t, []int64{0, 1, 2}, []int64{sink.written[0].Serial, sink.written[1].Serial, sink.written[2].Serial})
}

func TestReorderer_AssignBlocksWhenBoundReached(t *testing.T) {
	sink := &chunkSink{}
	r := NewReorderer(sink, 2, nil)

	_, ok := r.Assign(context.Background())
	require.True(t, ok)
	_, ok = r.Assign(context.Background())
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, ok = r.Assign(ctx)
	require.False(t, ok, "third assign must block until a completion frees a token")
}

func TestReorderer_CompleteFreesTokenForNextAssign(t *testing.T) {
	sink := &chunkSink{}
	r := NewReorderer(sink, 1, nil)

	serial, ok := r.Assign(context.Background())
	require.True(t, ok)
	require.NoError(t, r.Complete(&model.Chunk{Serial: serial}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok = r.Assign(ctx)
	require.True(t, ok, "completing the first chunk must free a token for the next assign")
}

func TestReorderer_SinkErrorPropagatesAndStopsFlush(t *testing.T) {
	r := NewReorderer(failingSink{}, 4, nil)
	_, _ = r.Assign(context.Background())
	err := r.Complete(&model.Chunk{Serial: 0})
	require.Error(t, err)
}

func TestReorderer_InflightGaugeTracksAssignedButNotCompletedImages(t *testing.T) {
	sink := &chunkSink{}
	provider := metrics.NewBasicProvider()
	gauge := provider.UpDownCounter("test_inflight")
	r := NewReorderer(sink, 8, gauge)

	snapshot := func() int64 { return gauge.(*metrics.BasicUpDownCounter).Snapshot() }

	s0, ok := r.Assign(context.Background())
	require.True(t, ok)
	s1, ok := r.Assign(context.Background())
	require.True(t, ok)
	require.EqualValues(t, 2, snapshot(), "two assigned images should both be counted in-flight")

	require.NoError(t, r.Complete(&model.Chunk{Serial: s0}))
	require.EqualValues(t, 1, snapshot(), "completing one image should drop the gauge by one")

	require.NoError(t, r.Complete(&model.Chunk{Serial: s1}))
	require.EqualValues(t, 0, snapshot())
}

type failingSink struct{}

func (failingSink) WriteChunk(*model.Chunk) error { return errSinkTest }

var errSinkTest = errors.New("simulated sink failure")
