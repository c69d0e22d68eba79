// Package responder runs the host side of a request/acknowledge exchange:
// read a message, show it, and optionally answer on the same endpoint.
package responder

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/danmuck/pructl/internal/observability"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// Timeout bounds each wait. Negative waits forever.
	Timeout time.Duration
	// Ack is sent after each message on endpoints that accept writes.
	Ack []byte
	// Display is "auto", "text" or "hex".
	Display string
	// MaxMessages stops the loop after that many messages. Zero is
	// unlimited.
	MaxMessages int
	Out         io.Writer
}

// Status is a point-in-time view of a running loop.
type Status struct {
	Endpoint    string    `json:"endpoint"`
	Shape       string    `json:"shape"`
	Running     bool      `json:"running"`
	Received    int       `json:"received"`
	Acked       int       `json:"acked"`
	Timeouts    int       `json:"timeouts"`
	Restarts    int       `json:"restarts"`
	LastMessage string    `json:"last_message,omitempty"`
	LastAt      time.Time `json:"last_at"`
	LastError   string    `json:"last_error,omitempty"`
}

type Responder struct {
	src  Source
	opts Options

	mu     sync.Mutex
	status Status
}

func New(src Source, opts Options) *Responder {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Responder{
		src:  src,
		opts: opts,
		status: Status{
			Endpoint: src.Path(),
			Shape:    src.Shape().String(),
		},
	}
}

func (r *Responder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Responder) update(fn func(*Status)) {
	r.mu.Lock()
	fn(&r.status)
	r.mu.Unlock()
}

// Run loops until ctx ends, MaxMessages is reached, or the source fails.
// Cancellation and end of stream return nil.
func (r *Responder) Run(ctx context.Context) error {
	path := r.src.Path()
	shape := r.src.Shape()
	r.update(func(s *Status) { s.Running = true })
	defer r.update(func(s *Status) { s.Running = false })

	log.Info().
		Str("endpoint", path).
		Str("shape", shape.String()).
		Dur("timeout", r.opts.Timeout).
		Msg("responder.Run start")

	for received := 0; r.opts.MaxMessages == 0 || received < r.opts.MaxMessages; {
		start := time.Now()
		msg, ok, err := r.src.Next(ctx, r.opts.Timeout)
		observability.RecordReadWait(path, time.Since(start), err == nil && !ok)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Str("endpoint", path).Msg("responder.Run stopped")
				return nil
			}
			observability.RecordMessageError(path, observability.DirectionRx)
			r.update(func(s *Status) { s.LastError = err.Error() })
			return fmt.Errorf("responder: read %s: %w", path, err)
		}
		if !ok {
			r.update(func(s *Status) { s.Timeouts++ })
			log.Debug().Str("endpoint", path).Msg("responder.Run no message before timeout")
			continue
		}
		if len(msg) == 0 {
			log.Info().Str("endpoint", path).Msg("responder.Run end of stream")
			return nil
		}

		received++
		text := Render(msg, r.opts.Display)
		observability.RecordMessage(path, shape.String(), observability.DirectionRx, len(msg))
		r.update(func(s *Status) {
			s.Received++
			s.LastMessage = text
			s.LastAt = time.Now()
		})
		if _, err := fmt.Fprintln(r.opts.Out, text); err != nil {
			return fmt.Errorf("responder: display: %w", err)
		}

		if len(r.opts.Ack) == 0 || !shape.CanSend() {
			continue
		}
		n, err := r.src.Reply(ctx, r.opts.Ack)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			observability.RecordMessageError(path, observability.DirectionTx)
			r.update(func(s *Status) { s.LastError = err.Error() })
			return fmt.Errorf("responder: ack %s: %w", path, err)
		}
		if n == 0 {
			log.Warn().Str("endpoint", path).Msg("responder.Run ack not accepted")
			continue
		}
		observability.RecordMessage(path, shape.String(), observability.DirectionTx, n)
		r.update(func(s *Status) { s.Acked++ })
	}
	log.Info().Str("endpoint", path).Int("max", r.opts.MaxMessages).Msg("responder.Run message limit reached")
	return nil
}
