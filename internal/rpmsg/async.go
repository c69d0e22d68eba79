package rpmsg

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ReadinessState is the transient position of an AsyncChannel in its
// current call.
type ReadinessState int32

const (
	NotRegistered ReadinessState = iota
	AwaitingReadable
	Ready
	AwaitingWritable
)

func (s ReadinessState) String() string {
	switch s {
	case NotRegistered:
		return "not-registered"
	case AwaitingReadable:
		return "awaiting-readable"
	case Ready:
		return "ready"
	case AwaitingWritable:
		return "awaiting-writable"
	default:
		return "unknown"
	}
}

// AsyncChannel is an event-driven handle. Reads and sends suspend the
// calling goroutine on descriptor readiness and never spin. One goroutine
// drives a handle at a time; State may be read from anywhere.
type AsyncChannel struct {
	path   string
	shape  Shape
	rd     Readiness
	dec    *decoder
	buf    []byte
	state  atomic.Int32
	closed atomic.Bool
}

// OpenAsync opens ep non-blocking and registers it with the runtime poller.
func OpenAsync(ep Endpoint) (*AsyncChannel, error) {
	fd, err := openFD(ep.Path, ep.Shape, true)
	if err != nil {
		return nil, err
	}
	rd, err := newPollFD(fd, ep.Path)
	if err != nil {
		return nil, ioErr("register", ep.Path, err)
	}
	log.Debug().
		Str("path", ep.Path).
		Stringer("shape", ep.Shape).
		Bool("pollable", rd.pollable).
		Msg("rpmsg.AsyncChannel.Open")
	return NewAsyncChannel(ep.Path, ep.Shape, rd), nil
}

func OpenFirstAsync() (*AsyncChannel, error) {
	ep, err := DefaultLocator.ResolveFirst()
	if err != nil {
		return nil, err
	}
	return OpenAsync(ep)
}

func OpenCoreAsync(i int) (*AsyncChannel, error) {
	ep, err := DefaultLocator.ResolveIndex(i)
	if err != nil {
		return nil, err
	}
	return OpenAsync(ep)
}

func OpenCoreByPathAsync(p string) (*AsyncChannel, error) {
	ep, err := DefaultLocator.ResolvePath(p)
	if err != nil {
		return nil, err
	}
	return OpenAsync(ep)
}

// NewAsyncChannel drives an already registered readiness capability.
func NewAsyncChannel(path string, shape Shape, rd Readiness) *AsyncChannel {
	c := &AsyncChannel{
		path:  path,
		shape: shape,
		rd:    rd,
		dec:   newDecoder(shape),
		buf:   make([]byte, MaxMessageSize),
	}
	c.state.Store(int32(Ready))
	return c
}

func (c *AsyncChannel) Path() string {
	return c.path
}

func (c *AsyncChannel) Shape() Shape {
	return c.shape
}

func (c *AsyncChannel) State() ReadinessState {
	return ReadinessState(c.state.Load())
}

func (c *AsyncChannel) setState(s ReadinessState) {
	if !c.closed.Load() {
		c.state.Store(int32(s))
	}
}

// ReadMessage suspends until a message is available. Framing matches
// Channel.ReadMessage.
func (c *AsyncChannel) ReadMessage(ctx context.Context) ([]byte, error) {
	return c.read(ctx)
}

// ReadMessageTimeout races readiness against a timer of d that covers the
// whole call. ok is false when the timer won; no read was performed and
// nothing was consumed. A negative d (NoTimeout) disables the timer.
func (c *AsyncChannel) ReadMessageTimeout(ctx context.Context, d time.Duration) (msg []byte, ok bool, err error) {
	if d < 0 {
		msg, err = c.read(ctx)
		return msg, err == nil, err
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	msg, err = c.read(tctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	return msg, true, nil
}

func (c *AsyncChannel) read(ctx context.Context) ([]byte, error) {
	if msg, ok := c.dec.next(); ok {
		return msg, nil
	}
	for {
		c.setState(AwaitingReadable)
		err := c.rd.AwaitReadable(ctx)
		c.setState(Ready)
		if err != nil {
			return nil, c.waitErr("await readable", err)
		}

		n, err := c.rd.TryRead(c.buf)
		if errors.Is(err, ErrWouldBlock) {
			// Stale readiness; the next await parks until a fresh edge.
			log.Trace().Str("path", c.path).Msg("rpmsg.AsyncChannel.read spurious readiness")
			continue
		}
		if err != nil {
			return nil, ioErr("read", c.path, err)
		}
		if msg, ok := c.dec.feed(c.buf[:n]); ok {
			return msg, nil
		}
	}
}

// Send suspends until writable and issues one non-blocking write. A
// would-block after the writable signal returns (0, nil): nothing was sent
// this call.
func (c *AsyncChannel) Send(ctx context.Context, p []byte) (int, error) {
	if !c.shape.CanSend() {
		return 0, ErrUnsupported
	}
	c.setState(AwaitingWritable)
	err := c.rd.AwaitWritable(ctx)
	c.setState(Ready)
	if err != nil {
		return 0, c.waitErr("await writable", err)
	}
	n, err := c.rd.TryWrite(p)
	if errors.Is(err, ErrWouldBlock) {
		log.Debug().Str("path", c.path).Int("len", len(p)).Msg("rpmsg.AsyncChannel.Send would block")
		return 0, nil
	}
	if err != nil {
		return 0, ioErr("write", c.path, err)
	}
	return n, nil
}

func (c *AsyncChannel) waitErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return ioErr(op, c.path, err)
}

// Close releases the descriptor. It is idempotent and never fails.
func (c *AsyncChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.state.Store(int32(NotRegistered))
	if err := c.rd.Close(); err != nil {
		log.Warn().Str("path", c.path).Err(err).Msg("rpmsg.AsyncChannel.Close")
	}
	return nil
}
