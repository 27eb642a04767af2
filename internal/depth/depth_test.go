package depth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// blockingSource never produces a frame; it waits for ctx.
type blockingSource struct{}

func (blockingSource) BeginFrame(ctx context.Context) (Frame, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (blockingSource) Size() (int, int) { return 4, 4 }
func (blockingSource) Close() error     { return nil }

// countingFrame records releases.
type countingFrame struct {
	*Grid
	released *int
}

func (f countingFrame) Release() { *f.released++ }

type countingSource struct {
	released int
}

func (s *countingSource) BeginFrame(context.Context) (Frame, error) {
	return countingFrame{Grid: NewGrid(2, 2), released: &s.released}, nil
}
func (s *countingSource) Size() (int, int) { return 2, 2 }
func (s *countingSource) Close() error     { return nil }

func TestGrid(t *testing.T) {
	t.Parallel()

	g := NewGrid(3, 2)
	g.Fill(1.5)
	g.Set(2, 1, 0.25)
	g.Set(9, 9, 7) // ignored

	assert.Equal(t, float32(1.5), g.DistanceAt(0, 0))
	assert.Equal(t, float32(0.25), g.DistanceAt(2, 1))
	assert.Equal(t, float32(0), g.DistanceAt(-1, 0), "out of range reads invalid")
	assert.Equal(t, float32(0), g.DistanceAt(3, 0), "out of range reads invalid")

	c := g.Clone()
	c.Set(0, 0, 9)
	assert.Equal(t, float32(1.5), g.DistanceAt(0, 0), "clone must not alias")
}

func TestSyntheticSource_ScriptAndDead(t *testing.T) {
	t.Parallel()

	src := NewSyntheticSource(10, 10, 2.0)
	src.SetDead(0, 0)
	src.Enqueue(&Disc{X: 5, Y: 5, Radius: 1, Distance: 1.0}, nil)

	ctx := context.Background()
	f1, err := src.BeginFrame(ctx)
	require.NoError(t, err)
	defer f1.Release()
	assert.Equal(t, float32(0), f1.DistanceAt(0, 0))
	assert.Equal(t, float32(1.0), f1.DistanceAt(5, 5))
	assert.Equal(t, float32(1.0), f1.DistanceAt(6, 5))
	assert.Equal(t, float32(2.0), f1.DistanceAt(6, 6), "corner outside radius")

	f2, err := src.BeginFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(2.0), f2.DistanceAt(5, 5), "nil entry is an empty field")

	// script exhausted without loop: empty field
	f3, err := src.BeginFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(2.0), f3.DistanceAt(5, 5))
	assert.Equal(t, 3, src.Frames())
}

func TestSyntheticSource_LoopFailClose(t *testing.T) {
	t.Parallel()

	src := NewSyntheticSource(8, 8, 2.0)
	src.SetLoop(true)
	src.Enqueue(&Disc{X: 1, Y: 1, Distance: 1}, &Disc{X: 6, Y: 6, Distance: 1})
	ctx := context.Background()

	var hits []float32
	for i := 0; i < 4; i++ {
		f, err := src.BeginFrame(ctx)
		require.NoError(t, err)
		hits = append(hits, f.DistanceAt(1, 1))
	}
	assert.Equal(t, []float32{1, 2, 1, 2}, hits)

	src.FailNext(1)
	_, err := src.BeginFrame(ctx)
	assert.ErrorIs(t, err, ErrDropout)
	_, err = src.BeginFrame(ctx)
	assert.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = src.BeginFrame(cctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, src.Close())
	_, err = src.BeginFrame(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestThrowScript(t *testing.T) {
	t.Parallel()

	s := ThrowScript(0, 0, 30, 60, 4, 2, 0.5, 2)
	require.Len(t, s, 6)
	assert.Equal(t, 0, s[0].X)
	assert.Equal(t, 10, s[1].X)
	assert.Equal(t, 20, s[1].Y)
	assert.Equal(t, 30, s[3].X)
	assert.Equal(t, 60, s[3].Y)
	assert.Nil(t, s[4])
	assert.Nil(t, s[5])
}

func TestRecordAndReplay(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	rec, err := NewRecorder(nopWriteCloser{&buf}, 4, 3)
	require.NoError(t, err)

	a := NewGrid(4, 3)
	a.Fill(1)
	b := NewGrid(4, 3)
	b.Fill(2)
	b.Set(3, 2, 0)
	require.NoError(t, rec.Record(a))
	require.NoError(t, rec.Record(b))
	assert.Error(t, rec.Record(NewGrid(2, 2)), "size mismatch is rejected")
	assert.Equal(t, 2, rec.Count())
	require.NoError(t, rec.Close())
	assert.Error(t, rec.Record(a), "closed recorder rejects frames")

	src, err := ReadRecording(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())
	w, h := src.Size()
	assert.Equal(t, 4, w)
	assert.Equal(t, 3, h)

	ctx := context.Background()
	var got []float32
	for i := 0; i < 3; i++ {
		f, err := src.BeginFrame(ctx)
		require.NoError(t, err)
		got = append(got, f.DistanceAt(3, 2))
		f.Release()
	}
	assert.Equal(t, []float32{1, 0, 1}, got, "replay wraps around")
}

func TestReadRecording_Invalid(t *testing.T) {
	t.Parallel()

	_, err := ReadRecording(bytes.NewReader([]byte("not gzip")))
	assert.ErrorContains(t, err, "failed to create gzip reader")

	var buf bytes.Buffer
	rec, err := NewRecorder(nopWriteCloser{&buf}, 2, 2)
	require.NoError(t, err)
	require.NoError(t, rec.Close())
	_, err = ReadRecording(&buf)
	assert.ErrorContains(t, err, "no frames")
}

func TestRecordingSource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "throw"+FileExtension)
	rec, err := CreateRecording(path, 6, 6)
	require.NoError(t, err)

	inner := NewSyntheticSource(6, 6, 3)
	inner.Enqueue(&Disc{X: 2, Y: 2, Distance: 1})
	src := NewRecordingSource(inner, rec)

	f, err := src.BeginFrame(context.Background())
	require.NoError(t, err)
	f.Release()
	require.NoError(t, src.Close())

	replay, err := OpenReplay(path)
	require.NoError(t, err)
	require.Equal(t, 1, replay.Len())
	rf, err := replay.BeginFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float32(1), rf.DistanceAt(2, 2))
	assert.Equal(t, float32(3), rf.DistanceAt(5, 5))
}

func TestWithTimeout(t *testing.T) {
	t.Parallel()

	src := WithTimeout(blockingSource{}, 20*time.Millisecond)
	_, err := src.BeginFrame(context.Background())
	assert.ErrorIs(t, err, ErrFrameTimeout)

	// parent cancellation is reported as such, not as a timeout
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.BeginFrame(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrFrameTimeout))

	inner := NewSyntheticSource(2, 2, 1)
	assert.Same(t, Source(inner), WithTimeout(inner, 0))
}

func TestWithFrameReleases(t *testing.T) {
	t.Parallel()

	src := &countingSource{}
	boom := errors.New("boom")
	err := WithFrame(context.Background(), src, func(Frame) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, src.released)

	assert.Panics(t, func() {
		_ = WithFrame(context.Background(), src, func(Frame) error { panic("scan failed") })
	})
	assert.Equal(t, 2, src.released, "frame released on panic")
}

func TestReadDistance(t *testing.T) {
	t.Parallel()

	src := NewSyntheticSource(4, 4, 1.25)
	d, err := ReadDistance(context.Background(), src, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, float32(1.25), d)

	_, err = ReadDistance(context.Background(), src, 4, 0)
	assert.Error(t, err)
}
