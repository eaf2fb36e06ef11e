package stream

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crystfel-go/indexamajig/model"
)

func TestWriter_ChunkIsDelimitedAndOrdered(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	require.NoError(t, w.WriteHeader(Header{CommandLine: "indexamajig -g geom.geom", GeometryDigest: "abc123"}))

	require.NoError(t, w.WriteChunk(&model.Chunk{Filename: "run1.h5", Serial: 0, IndexedBy: "none"}))
	require.NoError(t, w.WriteChunk(&model.Chunk{Filename: "run1.h5", Serial: 1, IndexedBy: "vectorsearch"}))
	require.NoError(t, w.Close())

	out := buf.String()
	begins := strings.Count(out, "----- Begin chunk -----")
	ends := strings.Count(out, "----- End chunk -----")
	require.Equal(t, 2, begins)
	require.Equal(t, 2, ends)

	firstBegin := strings.Index(out, "Image serial number: 0")
	secondBegin := strings.Index(out, "Image serial number: 1")
	require.Greater(t, secondBegin, firstBegin, "serial 1 must follow serial 0 in the emitted stream")
}

func TestWriter_ChunkIncludesPeaksAndCrystal(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	cell, err := model.NewFromParameters(79, 79, 38, 1.5707963267948966, 1.5707963267948966, 1.5707963267948966, model.LatticeTetragonal, model.CenteringP)
	require.NoError(t, err)

	chunk := &model.Chunk{
		Filename:  "run2.h5",
		Serial:    7,
		IndexedBy: "vectorsearch",
		NumPeaks:  2,
		Peaks: &model.PeakList{Peaks: []model.Peak{
			{FS: 10, SS: 20, Panel: "p0", Intensity: 123.4},
			{FS: 30, SS: 40, Panel: "p0", Intensity: 567.8},
		}},
		Crystals: []*model.Crystal{{
			Cell:        cell,
			IndexedBy:   "vectorsearch",
			Reflections: &model.ReflectionList{Reflections: []model.Reflection{{Index: model.MillerIndex{H: 1, K: 0, L: 0}, Intensity: 99.5, Panel: "p0"}}},
		}},
	}
	require.NoError(t, w.WriteChunk(chunk))
	require.NoError(t, w.Close())

	out := buf.String()
	require.Contains(t, out, "--- Begin crystal")
	require.Contains(t, out, "--- End crystal")
	require.Contains(t, out, "Centering P")
	require.Contains(t, out, "End of peak list")
	require.Contains(t, out, "   1    0    0")
}

func TestWriter_NonHitChunkHasNoCrystalBlock(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)
	require.NoError(t, w.WriteChunk(&model.Chunk{Filename: "run3.h5", Serial: 0, IndexedBy: "none", Hit: false}))
	require.NoError(t, w.Close())

	require.NotContains(t, buf.String(), "--- Begin crystal")
}
