package depth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type timeoutSource struct {
	Source
	timeout time.Duration
}

// WithTimeout bounds every BeginFrame on src by d. The inner source must
// honour context cancellation. A non-positive d returns src unchanged.
func WithTimeout(src Source, d time.Duration) Source {
	if d <= 0 {
		return src
	}
	return &timeoutSource{Source: src, timeout: d}
}

func (t *timeoutSource) BeginFrame(ctx context.Context) (Frame, error) {
	fctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	f, err := t.Source.BeginFrame(fctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w after %v", ErrFrameTimeout, t.timeout)
	}
	return f, err
}
