package responder

import (
	"context"
	"time"

	"github.com/danmuck/pructl/internal/rpmsg"
)

// Source is the channel surface the loop needs. Both channel styles adapt
// to it.
type Source interface {
	Path() string
	Shape() rpmsg.Shape
	// Next returns (nil, false, nil) when timeout elapses first. A negative
	// timeout waits for a message.
	Next(ctx context.Context, timeout time.Duration) ([]byte, bool, error)
	Reply(ctx context.Context, p []byte) (int, error)
	Close() error
}

// cancelSlice bounds how long a blocking read runs before ctx is checked.
const cancelSlice = 250 * time.Millisecond

type blockingSource struct {
	*rpmsg.Channel
}

// Blocking adapts a blocking channel. The read itself cannot be
// interrupted, so with a cancellable ctx untimed waits run in slices of
// cancelSlice.
//
// Slicing only bounds the readiness wait. Once the channel is readable a
// LineNotification holding a partial line blocks until the rest of the line
// arrives, past both timeout and ctx. Use Async when that matters.
func Blocking(ch *rpmsg.Channel) Source {
	return blockingSource{ch}
}

func (s blockingSource) Next(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if ctx.Done() == nil {
		return s.ReadMessageTimeout(timeout)
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		slice := cancelSlice
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left < slice {
				slice = max(left, 0)
			}
		}
		msg, ok, err := s.ReadMessageTimeout(slice)
		if err != nil || ok {
			return msg, ok, err
		}
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, false, nil
		}
	}
}

func (s blockingSource) Reply(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.Send(p)
}

type asyncSource struct {
	*rpmsg.AsyncChannel
}

func Async(ch *rpmsg.AsyncChannel) Source {
	return asyncSource{ch}
}

func (s asyncSource) Next(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	return s.ReadMessageTimeout(ctx, timeout)
}

func (s asyncSource) Reply(ctx context.Context, p []byte) (int, error) {
	return s.Send(ctx, p)
}
