package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/discfield/internal/field"
)

// ErrNoCalibration is returned when no calibration has been stored.
var ErrNoCalibration = errors.New("no stored calibration")

// CalibrationRecord describes a stored calibration without its baseline.
type CalibrationRecord struct {
	ID         int64        `json:"id"`
	Region     field.Region `json:"region"`
	PixelCount int          `json:"pixel_count"`
	ValidCount int          `json:"valid_count"`
	CreatedAt  time.Time    `json:"created_at"`
}

// SaveCalibration stores a region and its baseline, returning the new row id.
func (db *DB) SaveCalibration(snap *field.CalibrationSnapshot) (int64, error) {
	if err := snap.Region.Validate(); err != nil {
		return 0, err
	}
	blob, err := field.EncodeBaseline(snap.Baseline)
	if err != nil {
		return 0, fmt.Errorf("failed to encode baseline: %w", err)
	}
	valid := 0
	for _, v := range snap.Baseline {
		if v != 0 {
			valid++
		}
	}

	r := snap.Region
	res, err := db.Exec(`
		INSERT INTO calibrations (
			top_left_x, top_left_y, bottom_right_x, bottom_right_y,
			pixel_count, valid_count, baseline_blob
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.TopLeft.X, r.TopLeft.Y, r.BottomRight.X, r.BottomRight.Y,
		len(snap.Baseline), valid, blob,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert calibration: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get calibration id: %w", err)
	}
	return id, nil
}

// LatestCalibration loads the most recent calibration with its baseline.
func (db *DB) LatestCalibration(ctx context.Context) (*CalibrationRecord, *field.CalibrationSnapshot, error) {
	var (
		rec  CalibrationRecord
		blob []byte
		ts   float64
	)
	err := db.QueryRowContext(ctx, `
		SELECT calibration_id, top_left_x, top_left_y, bottom_right_x, bottom_right_y,
			pixel_count, valid_count, baseline_blob, created_at
		FROM calibrations
		ORDER BY calibration_id DESC
		LIMIT 1`,
	).Scan(
		&rec.ID,
		&rec.Region.TopLeft.X, &rec.Region.TopLeft.Y,
		&rec.Region.BottomRight.X, &rec.Region.BottomRight.Y,
		&rec.PixelCount, &rec.ValidCount, &blob, &ts,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNoCalibration
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load calibration: %w", err)
	}
	rec.CreatedAt = unixFloat(ts)

	values, err := field.DecodeBaseline(blob)
	if err != nil {
		return nil, nil, fmt.Errorf("calibration %d: %w", rec.ID, err)
	}
	return &rec, &field.CalibrationSnapshot{Region: rec.Region, Baseline: values}, nil
}

// ListCalibrations returns up to limit calibrations, newest first.
func (db *DB) ListCalibrations(ctx context.Context, limit int) ([]CalibrationRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT calibration_id, top_left_x, top_left_y, bottom_right_x, bottom_right_y,
			pixel_count, valid_count, created_at
		FROM calibrations
		ORDER BY calibration_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []CalibrationRecord{}
	for rows.Next() {
		var (
			rec CalibrationRecord
			ts  float64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Region.TopLeft.X, &rec.Region.TopLeft.Y,
			&rec.Region.BottomRight.X, &rec.Region.BottomRight.Y,
			&rec.PixelCount, &rec.ValidCount, &ts,
		); err != nil {
			return nil, err
		}
		rec.CreatedAt = unixFloat(ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func unixFloat(ts float64) time.Time {
	sec := int64(ts)
	return time.Unix(sec, int64((ts-float64(sec))*1e9)).UTC()
}
