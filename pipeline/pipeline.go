// Package pipeline runs the full per-image processing sequence: optional
// pixel filtering, resolution masking, peak search, indexing, prediction
// refinement, and per-reflection integration, producing one output chunk.
// A Pipeline is built once and its Run method is called concurrently from
// many worker goroutines, one call per image; every argument that varies
// per image (the image itself, its resolution-masked geometry) is passed
// in rather than held on the struct, so the shared fields below must stay
// read-only after construction.
package pipeline

import (
	"context"
	"time"

	"github.com/crystfel-go/indexamajig/indexing"
	"github.com/crystfel-go/indexamajig/integration"
	"github.com/crystfel-go/indexamajig/metrics"
	"github.com/crystfel-go/indexamajig/model"
	"github.com/crystfel-go/indexamajig/peaksearch"
	"github.com/crystfel-go/indexamajig/prediction"
)

// Options bundles every per-run configuration knob the pipeline consults.
// It is built once at startup from the command-line/config layer and never
// modified afterward.
type Options struct {
	Filter FilterConfig

	HighRes float64 // Angstrom^-1; 0 disables the resolution mask

	PeakSearch peaksearch.Config
	MinPeaks   int

	Indexing indexing.Flags
	Refine   prediction.RefineOptions
	Predict  prediction.Options

	Integration integration.Options

	// CopyFieldNames lists the image-metadata fields to echo into each
	// chunk header verbatim.
	CopyFieldNames []string
}

// Pipeline holds everything shared, read-only, across concurrent Run calls.
type Pipeline struct {
	Geometry *model.Geometry
	Driver   *indexing.Driver
	Options  Options
	Metrics  metrics.Provider

	stageHist metrics.Histogram
	hitsCtr   metrics.Counter
	crystalsCtr metrics.Counter
}

// New builds a Pipeline, wiring the per-stage timing histogram and hit/
// crystal counters from provider. A nil provider falls back to a no-op one.
func New(geo *model.Geometry, driver *indexing.Driver, opts Options, provider metrics.Provider) *Pipeline {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	return &Pipeline{
		Geometry: geo,
		Driver:   driver,
		Options:  opts,
		Metrics:  provider,
		stageHist: provider.Histogram("pipeline_stage_seconds",
			metrics.WithDescription("wall time spent in each pipeline stage"),
			metrics.WithUnit("seconds")),
		hitsCtr:     provider.Counter("pipeline_hits_total", metrics.WithDescription("images whose peak search met min_peaks")),
		crystalsCtr: provider.Counter("pipeline_crystals_total", metrics.WithDescription("crystals accepted across all images")),
	}
}

// Run processes one image end to end and returns the chunk to be written to
// the stream, plus whether ctx was cancelled before processing finished (in
// which case the chunk is a partial record and the caller should still emit
// it so the stream's serial sequence stays dense). heartbeat, if non-nil, is
// called with the name of each stage as it starts (and again once per
// crystal at refine and once per reflection during integrate), so a caller watching for stalls sees liveness
// within a single Run call rather than only before and after the whole
// thing — a slow multi-crystal image must not look identical to a wedged one.
func (p *Pipeline) Run(ctx context.Context, img *model.Image, heartbeat func(stage string)) (*model.Chunk, bool) {
	if heartbeat == nil {
		heartbeat = func(string) {}
	}
	chunk := &model.Chunk{
		Filename:   img.Filename,
		Event:      img.Event,
		Serial:     img.Serial,
		Wavelength: img.Wavelength,
		IndexedBy:  "none",
		CopyFields: copyFields(img, p.Options.CopyFieldNames),
	}
	timing := make(map[string]time.Duration)
	chunk.StageTiming = timing

	if cancelled(ctx) {
		return chunk, true
	}

	snapshot := img.Snapshot()

	timed(timing, "filter", p.stageHist, heartbeat, func() {
		ApplyFilters(img, p.Options.Filter)
	})
	if cancelled(ctx) {
		img.Restore(snapshot)
		return chunk, true
	}

	geo := MaskResolution(p.Geometry, img.Wavelength, p.Options.HighRes)

	var peaks *model.PeakList
	var searchErr error
	timed(timing, "peaksearch", p.stageHist, heartbeat, func() {
		peaks, searchErr = peaksearch.Search(img, geo, p.Options.PeakSearch)
	})
	img.Restore(snapshot)
	if searchErr != nil {
		chunk.Failed = true
		return chunk, false
	}
	img.Peaks = peaks
	chunk.NumPeaks = peaks.Len()
	chunk.NumSaturatedPeaks = countSaturated(geo, peaks)
	chunk.Peaks = peaks

	if peaks.Len() < p.Options.MinPeaks {
		return chunk, false
	}
	chunk.Hit = true
	p.hitsCtr.Add(1)

	if cancelled(ctx) {
		return chunk, true
	}

	var crystals []*model.Crystal
	timed(timing, "indexing", p.stageHist, heartbeat, func() {
		crystals = p.Driver.Index(ctx, img, geo)
	})
	if len(crystals) > 0 {
		chunk.IndexedBy = crystals[0].IndexedBy
	}

	for _, crystal := range crystals {
		if cancelled(ctx) {
			return chunk, true
		}
		p.refineAndIntegrate(ctx, crystal, img, geo, snapshot, heartbeat)
		chunk.Crystals = append(chunk.Crystals, crystal)
		p.crystalsCtr.Add(1)
	}

	chunk.Produced = time.Now()
	return chunk, false
}

// refineAndIntegrate refines the crystal's orientation against its own
// predicted reflections and stores the refined rotation and profile radius
// on the crystal, then predicts again and integrates every reflection
// against the unfiltered pixel snapshot. That second prediction uses the
// crystal's unrotated cell and the configured prediction options; the
// refined parameters do not feed into it.
func (p *Pipeline) refineAndIntegrate(ctx context.Context, crystal *model.Crystal, img *model.Image, geo *model.Geometry, snapshot map[string]*model.PanelData, heartbeat func(stage string)) {
	heartbeat("refine")
	refineOpts := p.Options.Refine
	refineOpts.Geometry = geo
	refineOpts.Wavelength = img.Wavelength
	refineOpts.Spectrum = img.Spectrum
	refineOpts.Serial = img.Serial

	reference := crystal.Reflections
	if reference == nil {
		reference = prediction.Predict(crystal.Cell, geo, img.Wavelength, img.Spectrum, p.Options.Predict)
	}

	result, err := prediction.Refine(crystal.Cell, reference, refineOpts)
	if err == nil && result != nil {
		crystal.ProfileRadius = result.R
		crystal.RotX, crystal.RotY = result.RotX, result.RotY
	}

	predictOpts := p.Options.Predict
	refl := prediction.Predict(crystal.Cell, geo, img.Wavelength, img.Spectrum, predictOpts)

	var shared *integration.Profile
	if p.Options.Integration.ProfileFit {
		shared = integration.NewProfile()
	}

	heartbeat("integrate")
	for i := range refl.Reflections {
		if cancelled(ctx) {
			break
		}
		integration.Integrate(snapshot, geo, &refl.Reflections[i], p.Options.Integration, shared)
		heartbeat("integrate")
	}
	crystal.Reflections = refl
}

func copyFields(img *model.Image, names []string) map[string]float64 {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]float64, len(names))
	for _, name := range names {
		if v, ok := img.Metadata[name]; ok {
			out[name] = v
		}
	}
	return out
}

func countSaturated(geo *model.Geometry, peaks *model.PeakList) int {
	n := 0
	for _, pk := range peaks.Peaks {
		panel := geo.PanelByName(pk.Panel)
		if panel != nil && panel.IsSaturated(int(pk.FS), int(pk.SS)) {
			n++
		}
	}
	return n
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func timed(dst map[string]time.Duration, stage string, hist metrics.Histogram, heartbeat func(stage string), f func()) {
	heartbeat(stage)
	start := time.Now()
	f()
	elapsed := time.Since(start)
	dst[stage] = elapsed
	hist.Record(elapsed.Seconds())
}
