package imgsource

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crystfel-go/indexamajig/model"
)

type stubLoader struct {
	fail map[string]int // id -> number of times to fail before succeeding
	seen map[string]int
}

func (s *stubLoader) Load(_ context.Context, id string) (*model.Image, error) {
	if s.seen == nil {
		s.seen = make(map[string]int)
	}
	s.seen[id]++
	if s.seen[id] <= s.fail[id] {
		return nil, errors.New("not found")
	}
	return &model.Image{Filename: id}, nil
}

func TestList_DeliversInOrderThenDrains(t *testing.T) {
	src := NewList([]string{"a", "b", "c"}, &stubLoader{}, 0)
	ctx := context.Background()

	for _, want := range []string{"a", "b", "c"} {
		img, err := src.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, img.Filename)
	}
	_, err := src.Next(ctx)
	require.ErrorIs(t, err, ErrDrained)
}

func TestList_NoRetryFailsImmediately(t *testing.T) {
	src := NewList([]string{"missing"}, &stubLoader{fail: map[string]int{"missing": 1}}, 0)
	_, err := src.Next(context.Background())
	require.Error(t, err)
}

func TestList_BoundedRetrySucceedsWithinLimit(t *testing.T) {
	loader := &stubLoader{fail: map[string]int{"slow": 2}}
	src := &List{IDs: []string{"slow"}, LoadFn: loader, WaitForFile: 2}
	img, err := src.loadWithRetry(context.Background(), "slow")
	require.NoError(t, err)
	require.Equal(t, "slow", img.Filename)
	require.Equal(t, 3, loader.seen["slow"])
}

func TestChannel_ClosedChannelDrains(t *testing.T) {
	c := make(chan *model.Image, 1)
	c <- &model.Image{Filename: "x"}
	close(c)
	src := NewChannel(c)

	img, err := src.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "x", img.Filename)

	_, err = src.Next(context.Background())
	require.ErrorIs(t, err, ErrDrained)
}
