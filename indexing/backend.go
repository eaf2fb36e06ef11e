// Package indexing drives one or more indexer backends against an image's
// peak list: it validates candidate cells against a reference cell and the
// observed peaks, retries with weaker peaks pruned, and can extract
// multiple lattices from the same image.
package indexing

import (
	"context"
	"time"

	"github.com/crystfel-go/indexamajig/model"
)

// Tolerances bound how far a candidate cell may differ from the reference
// and still be accepted: fractional for lengths, absolute (radians) for
// angles.
type Tolerances struct {
	FracA, FracB, FracC          float64
	AngleAlpha, AngleBeta, AngleGamma float64
}

// PriorInfo flags which prior information a backend can consume.
type PriorInfo struct {
	LatticeType bool
	FullCell    bool
}

// Handle is an opaque per-invocation token returned by Prepare and threaded
// through Index/Cleanup; backends may use it to stash compiled tolerances,
// temp-file paths, or a live subprocess handle.
type Handle interface{}

// Backend is the capability set every indexer must satisfy. Variants
// include internal methods and external tools that shell out to another
// program; both are expressed through this same interface so the driver
// never needs to know which kind it is talking to.
type Backend interface {
	Name() string
	Prior() PriorInfo
	Prepare(ctx context.Context, cell *model.UnitCell, tol Tolerances) (Handle, error)
	Index(ctx context.Context, img *model.Image, h Handle) ([]*model.UnitCell, error)
	Cleanup(h Handle)
}

// Timeout wraps a backend with a per-call wall-clock timeout; a backend
// that blows past it is treated as a recoverable failure for this image
// rather than fatal to the whole run.
func Timeout(b Backend, d time.Duration) Backend {
	return &timeoutBackend{inner: b, d: d}
}

type timeoutBackend struct {
	inner Backend
	d     time.Duration
}

func (t *timeoutBackend) Name() string      { return t.inner.Name() }
func (t *timeoutBackend) Prior() PriorInfo  { return t.inner.Prior() }

func (t *timeoutBackend) Prepare(ctx context.Context, cell *model.UnitCell, tol Tolerances) (Handle, error) {
	return t.inner.Prepare(ctx, cell, tol)
}

func (t *timeoutBackend) Cleanup(h Handle) { t.inner.Cleanup(h) }

func (t *timeoutBackend) Index(ctx context.Context, img *model.Image, h Handle) ([]*model.UnitCell, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	type result struct {
		cells []*model.UnitCell
		err   error
	}
	done := make(chan result, 1)
	go func() {
		cells, err := t.inner.Index(ctx, img, h)
		done <- result{cells, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.cells, r.err
	}
}
