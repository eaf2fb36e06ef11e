package model

import "time"

// Chunk is one image's record in the output stream: a header, an optional
// peak list, and zero or more crystal blocks. Chunks are append-only and
// are emitted in ascending Serial order by the dispatcher.
type Chunk struct {
	Filename string
	Event    string
	Serial   int64

	Wavelength float64
	IndexedBy  string // backend name, or "none"

	NumPeaks          int
	NumSaturatedPeaks int
	PhotonEnergyEV    float64

	// CopyFields carries metadata fields the caller asked to be echoed
	// verbatim into the chunk header (configured outside the core).
	CopyFields map[string]float64

	Peaks     *PeakList // nil if not requested
	Crystals  []*Crystal

	// Hit is false when peak search found fewer than min_peaks peaks; such
	// chunks carry no crystal blocks by construction.
	Hit bool

	// Failed marks an image that could not be processed (load failure or
	// worker crash); such chunks are still emitted so downstream tooling can
	// see a dense serial sequence, but never carry peaks or crystals.
	Failed bool

	// StageTiming and Produced are diagnostics only; they never affect
	// correctness or the emitted reflection data.
	StageTiming map[string]time.Duration
	Produced    time.Time
}

// CrystalCount returns the number of crystal blocks.
func (c *Chunk) CrystalCount() int { return len(c.Crystals) }
