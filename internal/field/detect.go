package field

import "sync"

// DefaultNoiseMargin is the distance, in sensor units, a reading must come
// closer than baseline before the pixel is flagged.
const DefaultNoiseMargin = 0.01

// Closer is the flag predicate. Either reading being zero means no valid
// data, which never flags.
func Closer(baseline, live, margin float32) bool {
	return baseline != 0 && live != 0 && live+margin < baseline
}

// Detect returns the region-local pixels whose live reading is closer than
// baseline by more than margin, in scan order (x outer, y inner).
func Detect(baseline, live *DepthField, margin float32) ([]Point, error) {
	if err := baseline.Compatible(live); err != nil {
		return nil, err
	}
	return detectColumns(baseline, live, margin, 0, baseline.Region.Width(), nil), nil
}

// DetectParallel splits the scan into column bands handled by up to workers
// goroutines and merges the bands in scan order, so the result equals Detect.
func DetectParallel(baseline, live *DepthField, margin float32, workers int) ([]Point, error) {
	if err := baseline.Compatible(live); err != nil {
		return nil, err
	}
	w := baseline.Region.Width()
	if workers > w {
		workers = w
	}
	if workers <= 1 {
		return detectColumns(baseline, live, margin, 0, w, nil), nil
	}

	bands := make([][]Point, workers)
	step := (w + workers - 1) / workers
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		lo := i * step
		hi := min(lo+step, w)
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(i, lo, hi int) {
			defer wg.Done()
			bands[i] = detectColumns(baseline, live, margin, lo, hi, nil)
		}(i, lo, hi)
	}
	wg.Wait()

	var out []Point
	for _, b := range bands {
		out = append(out, b...)
	}
	return out, nil
}

func detectColumns(baseline, live *DepthField, margin float32, x0, x1 int, out []Point) []Point {
	h := baseline.Region.Height()
	for x := x0; x < x1; x++ {
		base := x * h
		for y := 0; y < h; y++ {
			if Closer(baseline.Values[base+y], live.Values[base+y], margin) {
				out = append(out, Point{X: x, Y: y})
			}
		}
	}
	return out
}
