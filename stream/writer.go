// Package stream writes the append-only, line-oriented chunk format that is
// the sole output of the engine: one record per image, delimited, emitted
// strictly in ascending serial order.
package stream

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/crystfel-go/indexamajig/model"
)

// Header carries the fields that appear once, at the top of the stream,
// before any chunk.
type Header struct {
	CommandLine    string
	GeometryDigest string
	Cell           *model.UnitCell
	IndexingList   []string
}

// Writer serializes chunks to an underlying io.Writer. It is not
// goroutine-safe; the dispatcher owns the sink exclusively and workers hand
// it completed chunks rather than writing directly, so no locking is
// needed here.
type Writer struct {
	w      *bufio.Writer
	closer io.Closer
}

// New wraps w. If w also implements io.Closer, Close will close it too.
func New(w io.Writer) *Writer {
	wr := &Writer{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		wr.closer = c
	}
	return wr
}

// WriteHeader emits the one-time stream preamble. Must be called before
// any WriteChunk.
func (s *Writer) WriteHeader(h Header) error {
	fmt.Fprintf(s.w, "Command line: %s\n", h.CommandLine)
	fmt.Fprintf(s.w, "Geometry digest: %s\n", h.GeometryDigest)
	if h.Cell != nil {
		fmt.Fprintf(s.w, "Cell: %.4f %.4f %.4f %.4f %.4f %.4f %c\n",
			h.Cell.A, h.Cell.B, h.Cell.C, h.Cell.Alpha, h.Cell.Beta, h.Cell.Gamma, h.Cell.Centering)
	}
	for _, method := range h.IndexingList {
		fmt.Fprintf(s.w, "Indexing method: %s\n", method)
	}
	return s.w.Flush()
}

// WriteChunk serializes one chunk atomically: the full text for the chunk
// is built up front and written in one call to the underlying writer, so
// no other chunk's bytes can interleave with it even if the caller shares
// this Writer across goroutines for anything other than sequential calls.
func (s *Writer) WriteChunk(c *model.Chunk) error {
	var buf []byte
	buf = appendLine(buf, "----- Begin chunk -----")
	buf = appendf(buf, "Image filename: %s\n", c.Filename)
	buf = appendf(buf, "Event: %s\n", c.Event)
	buf = appendf(buf, "Image serial number: %d\n", c.Serial)
	indexedBy := c.IndexedBy
	if indexedBy == "" {
		indexedBy = "none"
	}
	buf = appendf(buf, "indexed_by = %s\n", indexedBy)
	buf = appendf(buf, "num_peaks = %d\n", c.NumPeaks)
	buf = appendf(buf, "num_saturated_peaks = %d\n", c.NumSaturatedPeaks)
	buf = appendf(buf, "photon_energy_eV = %.4f\n", c.PhotonEnergyEV)

	for _, k := range sortedKeys(c.CopyFields) {
		buf = appendf(buf, "%s = %g\n", k, c.CopyFields[k])
	}

	if c.Peaks != nil {
		buf = appendPeaks(buf, c.Peaks)
	}
	for _, cr := range c.Crystals {
		buf = appendCrystal(buf, cr)
	}

	buf = appendLine(buf, "----- End chunk -----")

	_, err := s.w.Write(buf)
	if err != nil {
		return fmt.Errorf("stream: write chunk %d: %w", c.Serial, err)
	}
	return s.w.Flush()
}

// Close flushes any buffered bytes and closes the underlying writer if it
// supports it.
func (s *Writer) Close() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func appendPeaks(buf []byte, peaks *model.PeakList) []byte {
	buf = appendLine(buf, "Peaks from peak search")
	buf = appendLine(buf, "  fs/px   ss/px (panel)  Intensity")
	for _, p := range peaks.Peaks {
		buf = appendf(buf, "%7.2f %7.2f %s %10.2f\n", p.FS, p.SS, p.Panel, p.Intensity)
	}
	buf = appendLine(buf, "End of peak list")
	return buf
}

func appendCrystal(buf []byte, cr *model.Crystal) []byte {
	buf = appendLine(buf, "--- Begin crystal")
	if cr.Cell != nil {
		buf = appendf(buf, "Cell parameters %.4f %.4f %.4f nm, %.4f %.4f %.4f deg\n",
			cr.Cell.A/10, cr.Cell.B/10, cr.Cell.C/10,
			degrees(cr.Cell.Alpha), degrees(cr.Cell.Beta), degrees(cr.Cell.Gamma))
		buf = appendf(buf, "Centering %c\n", cr.Cell.Centering)
	}
	buf = appendf(buf, "profile_radius = %g nm^-1\n", cr.ProfileRadius*10)
	buf = appendf(buf, "OSF = %g\n", cr.OSF)
	buf = appendf(buf, "Indexed by: %s\n", cr.IndexedBy)
	buf = appendf(buf, "num_saturated_reflections = %d\n", cr.NumSaturated())

	buf = appendLine(buf, "Reflections measured after indexing")
	buf = appendLine(buf, "   h    k    l          I    sigma(I)   fs/px   ss/px panel")
	if cr.Reflections != nil {
		for _, r := range cr.Reflections.Reflections {
			buf = appendf(buf, "%4d %4d %4d %10.2f %10.2f %7.2f %7.2f %s\n",
				r.Index.H, r.Index.K, r.Index.L, r.Intensity, r.ESD, r.FS, r.SS, r.Panel)
		}
	}
	buf = appendLine(buf, "End of reflections")
	buf = appendLine(buf, "--- End crystal")
	return buf
}

func degrees(rad float64) float64 { return rad * 180 / 3.14159265358979323846 }

func appendLine(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, '\n')
}

func appendf(buf []byte, format string, args ...interface{}) []byte {
	return append(buf, []byte(fmt.Sprintf(format, args...))...)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
