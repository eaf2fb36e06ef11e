package metrics

import (
	"reflect"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBasicProvider_Counter_ReusedAndAccumulates(t *testing.T) {
	p := NewBasicProvider()

	c1 := p.Counter("tasks_enqueued")
	c2 := p.Counter("tasks_enqueued")
	require.Equal(t, reflect.ValueOf(c1).Pointer(), reflect.ValueOf(c2).Pointer(), "expected same counter instance for same name")

	bc, ok := c1.(*BasicCounter)
	require.True(t, ok, "expected *BasicCounter, got %T", c1)

	c1.Add(3)
	c2.Add(2)
	require.Equal(t, int64(5), bc.Snapshot())

	// Different name -> different instance
	cOther := p.Counter("other")
	require.NotEqual(t, reflect.ValueOf(c1).Pointer(), reflect.ValueOf(cOther).Pointer(), "expected different counter instance for different name")
}

func TestBasicProvider_UpDownCounter_ReusedAndMoves(t *testing.T) {
	p := NewBasicProvider()
	u1 := p.UpDownCounter("inflight")
	u2 := p.UpDownCounter("inflight")
	require.Equal(t, reflect.ValueOf(u1).Pointer(), reflect.ValueOf(u2).Pointer(), "expected same updown instance for same name")

	bu, ok := u1.(*BasicUpDownCounter)
	require.True(t, ok, "expected *BasicUpDownCounter, got %T", u1)

	u1.Add(+3)
	u2.Add(-1)
	u1.Add(+10)
	require.Equal(t, int64(12), bu.Snapshot())
}

func TestBasicProvider_Histogram_RecordsStats(t *testing.T) {
	p := NewBasicProvider()
	h := p.Histogram("exec_seconds")

	bh, ok := h.(*BasicHistogram)
	require.True(t, ok, "expected *BasicHistogram, got %T", h)

	h.Record(0.1)
	h.Record(0.3)
	h.Record(0.2)
	s := bh.Snapshot()
	require.EqualValues(t, 3, s.Count)
	require.Equal(t, 0.1, s.Min)
	require.Equal(t, 0.3, s.Max)
	require.InDelta(t, 0.6, s.Sum, 0.01)
	require.InDelta(t, 0.2, s.Mean, 0.01)
}

func TestBasicProvider_Concurrent_GetSameInstrument(t *testing.T) {
	p := NewBasicProvider()
	n := 50
	ptrs := make([]uintptr, n)
	wg := sync.WaitGroup{}
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			c := p.Counter("shared")
			ptrs[idx] = reflect.ValueOf(c).Pointer()
		}(i)
	}
	wg.Wait()
	first := ptrs[0]
	for i := 1; i < n; i++ {
		require.Equal(t, first, ptrs[i], "expected same pointer for all retrieved counters; mismatch at %d", i)
	}
}

func TestBasicProvider_Concurrent_CounterAdd(t *testing.T) {
	p := NewBasicProvider()
	c := p.Counter("hits")
	bc := c.(*BasicCounter)

	workers := runtime.NumCPU() * 2
	iters := 1000
	wg := sync.WaitGroup{}
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				c.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(workers*iters), bc.Snapshot())
}

func TestBasicProvider_Concurrent_UpDownAdd(t *testing.T) {
	p := NewBasicProvider()
	u := p.UpDownCounter("inflight")
	bu := u.(*BasicUpDownCounter)

	workers := runtime.NumCPU() * 2
	iters := 1000
	wg := sync.WaitGroup{}
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				if (i+id)%2 == 0 {
					u.Add(+1)
				} else {
					u.Add(-1)
				}
			}
		}(w)
	}
	wg.Wait()
	// Even distribution; half +1 and half -1 across workers on average.
	require.Equal(t, int64(0), bu.Snapshot())
}

func TestBasicProvider_Concurrent_HistogramRecord(t *testing.T) {
	p := NewBasicProvider()
	h := p.Histogram("latency")
	bh := h.(*BasicHistogram)

	workers := runtime.NumCPU() * 2
	iters := 500
	wg := sync.WaitGroup{}
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				v := float64((base%10)+i%10) / 100.0
				h.Record(v)
			}
		}(w)
	}
	wg.Wait()
	s := bh.Snapshot()
	require.EqualValues(t, workers*iters, s.Count)
	require.GreaterOrEqual(t, s.Min, 0.0)
	require.LessOrEqual(t, s.Min, 0.09)
	require.GreaterOrEqual(t, s.Max, 0.0)
	require.LessOrEqual(t, s.Max, 0.19)
}
