// Package imgsource abstracts over the container an image was read from
// (HDF5, CXI, or an in-memory payload) so the dispatcher and pipeline never
// need to know which one is in play.
package imgsource

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/crystfel-go/indexamajig/model"
)

// ErrDrained is returned by Next once every item has been delivered.
var ErrDrained = errors.New("imgsource: drained")

// Source yields successive images to be assigned a serial and dispatched to
// a worker. Implementations must be safe for concurrent Next calls, since
// the dispatcher's top-up loop may call it from multiple goroutines.
type Source interface {
	// Next returns the next image, or ErrDrained when the source is
	// exhausted. A non-nil, non-ErrDrained error is a per-image load
	// failure: the caller should count it and continue.
	Next(ctx context.Context) (*model.Image, error)
}

// Loader resolves one queued identifier into a populated image. Concrete
// sources (file-backed, payload-backed) implement this to keep the queueing
// and retry logic in List common.
type Loader interface {
	Load(ctx context.Context, id string) (*model.Image, error)
}

// List is a Source over a fixed, pre-enumerated list of identifiers (e.g.
// lines of a CrystFEL-style input list file), each resolved through a
// Loader. WaitForFile bounds how often Load is retried after it returns an
// error (of any kind) before the identifier is given up as a load failure; -1 means retry
// indefinitely (the sole whitelisted unbounded block in the pipeline).
type List struct {
	IDs         []string
	LoadFn      Loader
	WaitForFile int // retries at 1s spacing; 0 = no retry; -1 = unbounded

	mu   sync.Mutex
	next int
}

// NewList builds a List source over ids, resolving each through loader.
func NewList(ids []string, loader Loader, waitForFile int) *List {
	return &List{IDs: ids, LoadFn: loader, WaitForFile: waitForFile}
}

func (l *List) Next(ctx context.Context) (*model.Image, error) {
	l.mu.Lock()
	if l.next >= len(l.IDs) {
		l.mu.Unlock()
		return nil, ErrDrained
	}
	id := l.IDs[l.next]
	l.next++
	l.mu.Unlock()

	return l.loadWithRetry(ctx, id)
}

func (l *List) loadWithRetry(ctx context.Context, id string) (*model.Image, error) {
	attempts := 0
	for {
		img, err := l.LoadFn.Load(ctx, id)
		if err == nil {
			return img, nil
		}
		if l.WaitForFile == 0 {
			return nil, err
		}
		if l.WaitForFile > 0 && attempts >= l.WaitForFile {
			return nil, err
		}
		attempts++
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Channel is a Source backed by a channel of already-decoded images, the
// shape the asynchronous pub/sub payload transport takes once the external
// transport layer has unmarshalled its length-prefixed frames (out of scope
// here; see the external-interfaces section this package implements
// against). Closing the channel signals drained.
type Channel struct {
	C <-chan *model.Image
}

// NewChannel wraps an existing channel as a Source.
func NewChannel(c <-chan *model.Image) *Channel {
	return &Channel{C: c}
}

func (c *Channel) Next(ctx context.Context) (*model.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case img, ok := <-c.C:
		if !ok {
			return nil, ErrDrained
		}
		return img, nil
	}
}
