// Command indexamajig reads a list of diffraction images, indexes and
// integrates the hits, and writes an ordered stream of per-image results.
//
// Flag parsing here is intentionally minimal: the option surface of the
// real tool is an external concern (see the package-level Non-goals this
// binary implements against), so only the flags needed to drive the
// dispatcher end to end are wired. Everything below this file is a thin
// assembly of the config, imgsource, pipeline, and dispatcher packages.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/crystfel-go/indexamajig/config"
	"github.com/crystfel-go/indexamajig/dispatcher"
	"github.com/crystfel-go/indexamajig/imgsource"
	"github.com/crystfel-go/indexamajig/indexing"
	"github.com/crystfel-go/indexamajig/metrics"
	"github.com/crystfel-go/indexamajig/model"
	"github.com/crystfel-go/indexamajig/pipeline"
	"github.com/crystfel-go/indexamajig/prediction"
	"github.com/crystfel-go/indexamajig/stream"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("indexamajig: %v", err)
	}
}

func run() error {
	var (
		listPath    = flag.String("i", "", "path to a file listing one image path per line")
		geomPath    = flag.String("g", "", "geometry file")
		panelName   = flag.String("panel", "p0", "panel name for the raw image loader")
		width       = flag.Int("width", 0, "panel width in pixels, for the raw image loader")
		height      = flag.Int("height", 0, "panel height in pixels, for the raw image loader")
		outPath     = flag.String("o", "-", "output stream path, - for stdout")
		workers     = flag.Int("j", 1, "number of worker slots")
		minPeaks    = flag.Int("min-peaks", 10, "minimum peaks for a hit")
		indexMethod = flag.String("indexing", "vectorsearch", "comma-separated indexing backends to try in order")
		waitForFile = flag.Int("wait-for-file", 0, "retries (1s apart) before a missing file is a load failure; -1 waits forever")
		stallTime   = flag.Duration("stall-timeout", 30*time.Second, "heartbeat silence before a worker is respawned")
	)
	flag.Parse()

	if *listPath == "" || *geomPath == "" {
		return fmt.Errorf("both -i and -g are required")
	}

	geo, err := loadGeometry(*geomPath)
	if err != nil {
		return err
	}

	ids, err := readLines(*listPath)
	if err != nil {
		return err
	}

	cfg := config.Default()
	cfg.Workers = *workers
	cfg.MinPeaks = *minPeaks
	cfg.IndexingMethods = strings.Split(*indexMethod, ",")
	cfg.WaitForFile = *waitForFile
	cfg.StallTimeout = *stallTime
	cfg.GeometryDigest = geo.Digest
	cfg.CommandLine = strings.Join(os.Args, " ")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	driver, err := buildDriver(cfg, geo)
	if err != nil {
		return err
	}

	predictOpts := cfg.Predict
	predictOpts.HighRes = cfg.HighRes + cfg.PushRes

	provider := metrics.NewBasicProvider()
	pl := pipeline.New(geo, driver, pipeline.Options{
		Filter:         pipeline.FilterConfig{},
		HighRes:        cfg.HighRes,
		PeakSearch:     cfg.PeakSearch,
		MinPeaks:       cfg.MinPeaks,
		Indexing:       cfg.IndexingFlags,
		Refine:         cfg.Refine,
		Predict:        predictOpts,
		Integration:    cfg.Integration,
		CopyFieldNames: cfg.CopyFields,
	}, provider)

	if *width <= 0 || *height <= 0 {
		if len(geo.Panels) == 0 {
			return fmt.Errorf("geometry has no panels")
		}
		*width = geo.Panels[0].Width
		*height = geo.Panels[0].Height
	}
	loader := rawLoader{panel: *panelName, width: *width, height: *height}
	source := imgsource.NewList(ids, loader, cfg.WaitForFile)

	out, closeOut, err := openOutput(*outPath)
	if err != nil {
		return err
	}
	defer closeOut()

	writer := stream.New(out)
	if err := writer.WriteHeader(stream.Header{
		CommandLine:    cfg.CommandLine,
		GeometryDigest: cfg.GeometryDigest,
		IndexingList:   cfg.IndexingMethods,
	}); err != nil {
		return fmt.Errorf("writing stream header: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	totals, err := dispatcher.Run(ctx, source, pl, writer, dispatcher.Options{
		Workers:           cfg.Workers,
		StallTimeout:      cfg.StallTimeout,
		ReorderBufferSize: cfg.ReorderBufferSize,
	})
	log.Printf("processed %d images (%d hits, %d crystals) in %s",
		totals.Processed, totals.Hits, totals.Crystals, time.Since(start).Round(time.Millisecond))
	return err
}

// buildDriver resolves cfg.IndexingMethods to concrete backends. External
// tool paths for anything beyond the built-in backends are out of scope
// here; only vectorsearch (built in) is wired by name.
func buildDriver(cfg config.Config, geo *model.Geometry) (*indexing.Driver, error) {
	var backends []indexing.Backend
	for _, name := range cfg.IndexingMethods {
		switch strings.TrimSpace(name) {
		case "vectorsearch":
			backends = append(backends, indexing.NewVectorSearchBackend(geo))
		default:
			return nil, fmt.Errorf("unknown indexing method %q", name)
		}
	}
	return &indexing.Driver{
		Backends:   backends,
		Tolerances: cfg.Tolerance,
		Flags:      cfg.IndexingFlags,
		Predict: prediction.Options{
			HighRes: cfg.HighRes + cfg.PushRes,
			Model:   prediction.Unity{},
		},
	}, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ids = append(ids, line)
	}
	return ids, scanner.Err()
}

func openOutput(path string) (*os.File, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
