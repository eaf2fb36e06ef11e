package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/crystfel-go/indexamajig/model"
)

// rawLoader reads a minimal flat binary frame format: an 8-byte
// little-endian wavelength (Angstrom) followed by width*height
// little-endian float64 pixel values for a single panel, in [ss][fs]
// order. Real detector formats (HDF5, CBF) are external readers, out of
// scope here; this is enough to exercise the rest of the pipeline against
// real files on disk.
type rawLoader struct {
	panel  string
	width  int
	height int
}

func (l rawLoader) Load(ctx context.Context, id string) (*model.Image, error) {
	f, err := os.Open(id)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var wavelengthBits uint64
	if err := binary.Read(r, binary.LittleEndian, &wavelengthBits); err != nil {
		return nil, fmt.Errorf("rawimage: %s: reading wavelength: %w", id, err)
	}

	rows := make([][]float64, l.height)
	for y := 0; y < l.height; y++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		row := make([]float64, l.width)
		for x := 0; x < l.width; x++ {
			var bits uint64
			if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
				return nil, fmt.Errorf("rawimage: %s: pixel (%d,%d): %w", id, x, y, err)
			}
			row[x] = math.Float64frombits(bits)
		}
		rows[y] = row
	}

	return &model.Image{
		Filename:   id,
		Wavelength: math.Float64frombits(wavelengthBits),
		Panels:     map[string]*model.PanelData{l.panel: {Data: rows}},
	}, nil
}
