package field

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
)

// CalibrationSnapshot is a persisted calibration: the region and the baseline
// captured over it.
type CalibrationSnapshot struct {
	Region   Region
	Baseline []float32
}

// SnapshotOf copies the region and baseline into a snapshot.
func SnapshotOf(baseline *DepthField) *CalibrationSnapshot {
	values := make([]float32, len(baseline.Values))
	copy(values, baseline.Values)
	return &CalibrationSnapshot{Region: baseline.Region, Baseline: values}
}

// Field rebuilds the baseline field, validating the stored shape.
func (s *CalibrationSnapshot) Field() (*DepthField, error) {
	if err := s.Region.Validate(); err != nil {
		return nil, err
	}
	if len(s.Baseline) != s.Region.Len() {
		return nil, fmt.Errorf("%w: baseline holds %d readings, region has %d pixels",
			ErrFieldMismatch, len(s.Baseline), s.Region.Len())
	}
	values := make([]float32, len(s.Baseline))
	copy(values, s.Baseline)
	return &DepthField{Region: s.Region, Values: values}, nil
}

// EncodeBaseline compresses baseline readings using gob encoding and gzip.
func EncodeBaseline(values []float32) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(values); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBaseline reverses EncodeBaseline.
func DecodeBaseline(blob []byte) ([]float32, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty baseline blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var values []float32
	if err := gob.NewDecoder(gz).Decode(&values); err != nil {
		return nil, fmt.Errorf("failed to decode baseline: %w", err)
	}
	return values, nil
}
