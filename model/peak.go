package model

// Peak is one detected local maximum in an image.
type Peak struct {
	FS, SS     float64 // panel-relative pixel coordinates, half-pixel convention per source
	Panel      string
	Intensity  float64
	Background float64 // optional; 0 if not estimated
	HasBackground bool
	Resolution float64 // 1/d, Angstrom^-1; 0 if not computed
	SNR        float64
}

// PeakList is the ordered list of peaks found in one image, in detection
// sequence. It is replaced wholesale (never mutated element-wise from the
// outside) if peaks are revalidated or pruned during indexing retry/multi.
type PeakList struct {
	Peaks []Peak
}

// Len is a convenience accessor mirroring sort.Interface-style helpers used
// throughout the peak search and indexing packages.
func (pl *PeakList) Len() int {
	if pl == nil {
		return 0
	}
	return len(pl.Peaks)
}

// Clone returns a shallow copy with an independent backing slice, so callers
// can prune peaks without mutating a list another stage still holds.
func (pl *PeakList) Clone() *PeakList {
	if pl == nil {
		return &PeakList{}
	}
	cp := make([]Peak, len(pl.Peaks))
	copy(cp, pl.Peaks)
	return &PeakList{Peaks: cp}
}

// Without returns a new PeakList excluding the peaks whose indices are in
// remove (indices into pl.Peaks as it stood when remove was computed).
func (pl *PeakList) Without(remove map[int]bool) *PeakList {
	out := make([]Peak, 0, len(pl.Peaks))
	for i, p := range pl.Peaks {
		if !remove[i] {
			out = append(out, p)
		}
	}
	return &PeakList{Peaks: out}
}
