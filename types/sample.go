package types

import (
	"errors"
	"fmt"
)

// Box is a bounding box: [ymin, xmin, ymax, xmax]
// Coordinates are either all normalized or all pixel units, consistently across a dataset
type Box [4]float32

// Sample is a single training unit - an encoded image together with its labelled boxes
type Sample struct {
	Id string
	// Image is the compressed image bytes
	Image []byte
	// Format is the compression format of Image, e.g. "jpeg" or "png"
	Format string
	Height int
	Width  int

	Boxes   []Box
	Classes []int32
}

// Validate checks the Sample invariants
func (s *Sample) Validate() error {
	if s.Id == "" {
		return errors.New("sample id is required")
	}
	if len(s.Image) == 0 {
		return fmt.Errorf("sample %s has no image data", s.Id)
	}
	if len(s.Boxes) != len(s.Classes) {
		return fmt.Errorf("sample %s has %d boxes but %d classes", s.Id, len(s.Boxes), len(s.Classes))
	}
	return nil
}
