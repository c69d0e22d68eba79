package responder

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Backoff spaces reopen attempts after a source fails.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	// MaxAttempts stops after that many consecutive failures. Zero retries
	// until ctx ends.
	MaxAttempts int
}

func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// Delay returns the wait before attempt n (1-based).
func (b Backoff) Delay(n int) time.Duration {
	if n <= 1 || b.InitialDelay <= 0 {
		return max(b.InitialDelay, 0)
	}
	mult := max(b.Multiplier, 1.0)
	delay := float64(b.InitialDelay) * math.Pow(mult, float64(n-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}

// Opener resolves and opens a fresh source.
type Opener func(ctx context.Context) (Source, error)

// Supervisor reopens the source and restarts the loop when either fails,
// e.g. while the coprocessor reboots and its endpoint disappears.
type Supervisor struct {
	Open    Opener
	Options Options
	Backoff Backoff

	mu       sync.Mutex
	current  *Responder
	restarts int
	lastErr  string
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Status
	if s.current != nil {
		st = s.current.Status()
	}
	st.Restarts = s.restarts
	if st.LastError == "" {
		st.LastError = s.lastErr
	}
	return st
}

// Run returns nil once a loop ends cleanly (ctx, limit or end of stream)
// and the last error once MaxAttempts consecutive attempts have failed.
func (s *Supervisor) Run(ctx context.Context) error {
	failures := 0
	for {
		received, err := s.runOnce(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		if received > 0 {
			failures = 0
		}
		failures++
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
		if s.Backoff.MaxAttempts > 0 && failures >= s.Backoff.MaxAttempts {
			return err
		}

		delay := s.Backoff.Delay(failures)
		log.Warn().Err(err).Int("attempt", failures).Dur("delay", delay).Msg("responder.Supervisor.Run retrying")
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
	}
}

func (s *Supervisor) runOnce(ctx context.Context) (int, error) {
	src, err := s.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	r := New(src, s.Options)
	s.mu.Lock()
	s.current = r
	s.mu.Unlock()
	err = r.Run(ctx)
	return r.Status().Received, err
}
