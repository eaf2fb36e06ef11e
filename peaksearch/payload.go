package peaksearch

import (
	"fmt"

	"github.com/crystfel-go/indexamajig/model"
)

// searchPayload extracts the peak list carried directly in the in-memory
// message payload (the pub/sub transport path, see Non-goals for the wire
// format). As with the prepared-list methods, the loader is responsible for
// having already attached it to the image.
func searchPayload(img *model.Image) (*model.PeakList, error) {
	if img.Peaks == nil {
		return nil, fmt.Errorf("peaksearch: payload method requested but no peaks were attached to the image")
	}
	return img.Peaks.Clone(), nil
}
