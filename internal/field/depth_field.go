package field

import (
	"fmt"

	"github.com/banshee-data/discfield/internal/depth"
)

// DepthField holds one distance reading per region pixel. Readings are stored
// column-major (x outer, y inner), matching the detection scan order. Zero
// means the sensor had no valid reading.
type DepthField struct {
	Region Region
	Values []float32
}

// NewDepthField allocates a zeroed field sized to r.
func NewDepthField(r Region) *DepthField {
	return &DepthField{Region: r, Values: make([]float32, r.Len())}
}

// Index returns the storage index of region-local pixel (x, y).
func (f *DepthField) Index(x, y int) int {
	return x*f.Region.Height() + y
}

// At returns the reading at region-local pixel (x, y).
func (f *DepthField) At(x, y int) float32 {
	return f.Values[f.Index(x, y)]
}

// Capture reads every region pixel from frame into a new field.
func Capture(frame depth.Frame, r Region) *DepthField {
	f := NewDepthField(r)
	f.CaptureFrom(frame)
	return f
}

// CaptureFrom overwrites f with the readings from frame, reusing storage.
func (f *DepthField) CaptureFrom(frame depth.Frame) {
	r := f.Region
	w, h := r.Width(), r.Height()
	if len(f.Values) != w*h {
		f.Values = make([]float32, w*h)
	}
	i := 0
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			f.Values[i] = frame.DistanceAt(r.TopLeft.X+x, r.TopLeft.Y+y)
			i++
		}
	}
}

// Clone returns a deep copy.
func (f *DepthField) Clone() *DepthField {
	out := &DepthField{Region: f.Region, Values: make([]float32, len(f.Values))}
	copy(out.Values, f.Values)
	return out
}

// Compatible reports ErrFieldMismatch when f and o cannot be compared.
func (f *DepthField) Compatible(o *DepthField) error {
	if f == nil || o == nil {
		return fmt.Errorf("%w: missing field", ErrFieldMismatch)
	}
	if f.Region != o.Region || len(f.Values) != len(o.Values) {
		return fmt.Errorf("%w: %v vs %v", ErrFieldMismatch, f.Region, o.Region)
	}
	return nil
}

// ValidCount returns the number of non-zero readings.
func (f *DepthField) ValidCount() int {
	n := 0
	for _, v := range f.Values {
		if v != 0 {
			n++
		}
	}
	return n
}
