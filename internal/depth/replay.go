package depth

import (
	"compress/gzip"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// FileExtension is the extension used for depth recordings.
const FileExtension = ".dfrec"

// recordingHeader leads every recording stream.
type recordingHeader struct {
	Version int
	Width   int
	Height  int
}

const recordingVersion = 1

// Recorder writes depth frames to a gzip-compressed gob stream.
type Recorder struct {
	mu     sync.Mutex
	w      io.WriteCloser
	gz     *gzip.Writer
	enc    *gob.Encoder
	width  int
	height int
	count  int
	closed bool
}

// NewRecorder starts a recording of width x height frames on w. Close flushes
// the stream and closes w.
func NewRecorder(w io.WriteCloser, width, height int) (*Recorder, error) {
	gz := gzip.NewWriter(w)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(recordingHeader{Version: recordingVersion, Width: width, Height: height}); err != nil {
		gz.Close()
		return nil, fmt.Errorf("failed to write recording header: %w", err)
	}
	return &Recorder{w: w, gz: gz, enc: enc, width: width, height: height}, nil
}

// CreateRecording creates path and returns a Recorder writing to it.
func CreateRecording(path string, width, height int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	r, err := NewRecorder(f, width, height)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Record appends one frame.
func (r *Recorder) Record(g *Grid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recorder is closed")
	}
	if g.Width != r.width || g.Height != r.height {
		return fmt.Errorf("frame is %dx%d, recording is %dx%d", g.Width, g.Height, r.width, r.height)
	}
	if err := r.enc.Encode(g.Values); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	r.count++
	return nil
}

// Count reports the number of frames written.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close flushes and closes the recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.gz.Close(); err != nil {
		r.w.Close()
		return err
	}
	return r.w.Close()
}

// RecordingSource passes frames through from an inner source and records a
// copy of each.
type RecordingSource struct {
	Source
	rec *Recorder
}

// NewRecordingSource tees src into rec. Closing it closes both.
func NewRecordingSource(src Source, rec *Recorder) *RecordingSource {
	return &RecordingSource{Source: src, rec: rec}
}

// BeginFrame implements Source.
func (s *RecordingSource) BeginFrame(ctx context.Context) (Frame, error) {
	f, err := s.Source.BeginFrame(ctx)
	if err != nil {
		return nil, err
	}
	w, h := s.Source.Size()
	if err := s.rec.Record(Snapshot(f, w, h)); err != nil {
		log.Printf("failed to record depth frame: %v", err)
	}
	return f, nil
}

// Close implements Source.
func (s *RecordingSource) Close() error {
	recErr := s.rec.Close()
	if err := s.Source.Close(); err != nil {
		return err
	}
	return recErr
}

// ReplaySource serves frames from a recording, wrapping around at the end.
type ReplaySource struct {
	mu     sync.Mutex
	width  int
	height int
	frames []*Grid
	pos    int
	closed bool
}

// ReadRecording decodes a full recording stream.
func ReadRecording(r io.Reader) (*ReplaySource, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	dec := gob.NewDecoder(gz)
	var hdr recordingHeader
	if err := dec.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("failed to decode recording header: %w", err)
	}
	if hdr.Version != recordingVersion {
		return nil, fmt.Errorf("unsupported recording version %d", hdr.Version)
	}
	if hdr.Width <= 0 || hdr.Height <= 0 {
		return nil, fmt.Errorf("invalid recording size %dx%d", hdr.Width, hdr.Height)
	}

	src := &ReplaySource{width: hdr.Width, height: hdr.Height}
	for {
		var values []float32
		if err := dec.Decode(&values); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode frame %d: %w", len(src.frames), err)
		}
		if len(values) != hdr.Width*hdr.Height {
			return nil, fmt.Errorf("frame %d has %d readings, want %d", len(src.frames), len(values), hdr.Width*hdr.Height)
		}
		src.frames = append(src.frames, &Grid{Width: hdr.Width, Height: hdr.Height, Values: values})
	}
	if len(src.frames) == 0 {
		return nil, fmt.Errorf("recording holds no frames")
	}
	return src, nil
}

// OpenReplay loads the recording at path.
func OpenReplay(path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()
	return ReadRecording(f)
}

// Len reports the number of frames in the recording.
func (s *ReplaySource) Len() int { return len(s.frames) }

// Size implements Source.
func (s *ReplaySource) Size() (int, int) { return s.width, s.height }

// BeginFrame implements Source.
func (s *ReplaySource) BeginFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	g := s.frames[s.pos]
	s.pos = (s.pos + 1) % len(s.frames)
	return g, nil
}

// Close implements Source.
func (s *ReplaySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
