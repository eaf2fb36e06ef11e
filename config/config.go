// Package config centralizes every setting the dispatcher, pipeline,
// indexing driver, prediction, and integration stages consult, mirroring
// the primary flags of the command-line surface this core sits behind.
package config

import (
	"fmt"
	"time"

	"github.com/crystfel-go/indexamajig/indexing"
	"github.com/crystfel-go/indexamajig/integration"
	"github.com/crystfel-go/indexamajig/peaksearch"
	"github.com/crystfel-go/indexamajig/prediction"
)

// Config holds the full set of run parameters. It is built once from
// parsed flags (out of scope here) and, once construction returns, is
// treated as immutable and shared read-only across every worker.
type Config struct {
	// Workers is -j <n>: the fixed worker count the dispatcher spawns.
	Workers int

	// MinPeaks is --min-peaks: images with fewer peaks are non-hits.
	MinPeaks int

	// PeakSearch selects and configures the peak search method
	// (--peaks=<method>). peaksearch.Config has no --peak-radius setting:
	// Revalidate always measures SNR over a fixed 7x7 box.
	PeakSearch peaksearch.Config

	// HighRes is --highres: the resolution cutoff (Angstrom^-1) applied
	// as a pixel mask before peak search. 0 disables it.
	HighRes float64

	// PushRes is --push-res: an additional resolution margin (Angstrom^-1)
	// added to HighRes specifically for the prediction stage, so that
	// reflections just beyond the peak-search cutoff are still predicted
	// and integrated (useful when peaks are searched conservatively but
	// weak reflections beyond that radius are still wanted in the stream).
	PushRes float64

	// IndexingMethods is --indexing=<list>: the ordered backend names to
	// try. Resolving names to indexing.Backend instances is the caller's
	// job (it needs the reference cell and any external-tool paths);
	// Config only carries the ordering and per-backend flags.
	IndexingMethods []string
	Tolerance       indexing.Tolerances // --tolerance=a,b,c,alpha,beta,gamma
	IndexingFlags   indexing.Flags

	Refine  prediction.RefineOptions
	Predict prediction.Options

	// Integration carries the three integration radii (--int-radius=
	// inn,mid,out), background/profile-fit settings, and the
	// use-saturated policy.
	Integration integration.Options

	// WaitForFile is --wait-for-file=<n>: retries at 1s spacing before a
	// missing file is counted as a load failure. -1 means retry forever.
	WaitForFile int

	// TempDir is --temp-dir=<path>: scratch space for external backends.
	TempDir string

	// StallTimeout bounds how long a worker may go without a heartbeat
	// before the dispatcher kills and respawns it.
	StallTimeout time.Duration

	// ReorderBufferSize bounds how many completed-but-not-yet-flushable
	// chunks the dispatcher holds while waiting for the next serial.
	ReorderBufferSize int

	// BackendTimeout bounds a single backend.Index call.
	BackendTimeout time.Duration

	// CommandLine and GeometryDigest are echoed verbatim into the stream
	// header.
	CommandLine    string
	GeometryDigest string

	// CopyFields names per-image metadata fields to echo into each chunk.
	CopyFields []string
}

// Default returns a Config with the same fallbacks the CLI surface
// documents for flags the user does not set.
func Default() Config {
	return Config{
		Workers:      1,
		MinPeaks:     0,
		WaitForFile:  0,
		TempDir:      "/tmp",
		StallTimeout: 30 * time.Second,
		ReorderBufferSize: 256,
		BackendTimeout:    60 * time.Second,
		IndexingFlags: indexing.Flags{
			Retry:         true,
			RetryRounds:   3,
			RetryDropFrac: 0.1,
			CheckPeaks:    true,
			MultiRadius:   4,
		},
		Integration: integration.Options{
			Radii:               integration.Radii{Inner: 4, Mid: 5, Outer: 7},
			MinBackgroundPixels: 6,
		},
	}
}

// Validate enforces the configuration-error invariants that must be caught
// before dispatch begins, rather than surfacing later as per-image
// failures.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be >= 1, got %d", c.Workers)
	}
	if c.MinPeaks < 0 {
		return fmt.Errorf("config: min-peaks must be >= 0, got %d", c.MinPeaks)
	}
	if len(c.IndexingMethods) == 0 {
		return fmt.Errorf("config: at least one indexing method is required")
	}
	r := c.Integration.Radii
	if r.Inner <= 0 || r.Mid < r.Inner || r.Outer <= r.Mid {
		return fmt.Errorf("config: integration radii must satisfy 0 < inner <= mid < outer, got %+v", r)
	}
	if c.StallTimeout <= 0 {
		return fmt.Errorf("config: stall timeout must be positive, got %v", c.StallTimeout)
	}
	if c.WaitForFile < -1 {
		return fmt.Errorf("config: wait-for-file must be >= -1, got %d", c.WaitForFile)
	}
	return nil
}
