package peaksearch

import (
	"fmt"

	"github.com/crystfel-go/indexamajig/model"
)

// searchPreparedListHDF5 returns a precomputed peak table read from the
// image file by the loader. The HDF5 container format itself is an external
// collaborator (see Non-goals); the core's contract is simply that the
// loader has already populated img.Peaks before this stage runs.
func searchPreparedListHDF5(img *model.Image) (*model.PeakList, error) {
	if img.Peaks == nil {
		return nil, fmt.Errorf("peaksearch: hdf5 prepared list requested but loader did not populate one")
	}
	return img.Peaks.Clone(), nil
}

// searchPreparedListCXI is identical to the HDF5 prepared-list path except
// that the loader is expected to have resolved the per-event slice of a
// CXI-style stacked 2-D peak table before handing the image to this stage.
func searchPreparedListCXI(img *model.Image) (*model.PeakList, error) {
	if img.Peaks == nil {
		return nil, fmt.Errorf("peaksearch: cxi prepared list requested but loader did not populate one")
	}
	return img.Peaks.Clone(), nil
}
