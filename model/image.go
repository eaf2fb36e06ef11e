package model

// Spectrum is a weighted sum of Gaussians in k = 1/lambda, used by
// partiality models that account for spectral bandwidth.
type Spectrum struct {
	K      []float64 // central k of each Gaussian component, 1/Angstrom
	Sigma  []float64 // width of each component
	Weight []float64 // relative weight, need not be normalized
}

// MeanK returns the weighted mean k across components, or 0 if empty.
func (s *Spectrum) MeanK() float64 {
	if len(s.K) == 0 {
		return 0
	}
	var num, den float64
	for i := range s.K {
		num += s.K[i] * s.Weight[i]
		den += s.Weight[i]
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Panel pixel data for one panel of one image.
type PanelData struct {
	Data [][]float64 // [ss][fs]
}

// Image is the set of per-panel pixel arrays for one snapshot, plus the
// metadata needed to interpret them. It is created by the loader at the
// start of the per-image pipeline and is owned exclusively by the worker
// that processes it.
type Image struct {
	Filename string
	Event    string
	Serial   int64

	Wavelength float64 // Angstrom
	Spectrum   *Spectrum

	Panels map[string]*PanelData // keyed by Geometry panel name

	// Metadata carries per-image scalar fields resolved by name, used to
	// satisfy Panel.ClenFrom / PhotonEnergyFrom and stream copy-fields.
	Metadata map[string]float64

	Peaks *PeakList
}

// Snapshot returns a deep copy of the pixel arrays, used to preserve raw
// pixel data across filtering so that integration always reads unfiltered
// values (see pipeline's restore stage).
func (img *Image) Snapshot() map[string]*PanelData {
	out := make(map[string]*PanelData, len(img.Panels))
	for name, pd := range img.Panels {
		rows := make([][]float64, len(pd.Data))
		for i, row := range pd.Data {
			cp := make([]float64, len(row))
			copy(cp, row)
			rows[i] = cp
		}
		out[name] = &PanelData{Data: rows}
	}
	return out
}

// Restore replaces the image's current panel data with a previously taken
// snapshot. Used to undo peak-search filtering before integration.
func (img *Image) Restore(snapshot map[string]*PanelData) {
	img.Panels = snapshot
}
