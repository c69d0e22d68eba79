package rpmsg

import (
	"errors"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// NoTimeout makes ReadMessageTimeout wait as long as ReadMessage would.
const NoTimeout time.Duration = -1

// Channel is a blocking handle on one endpoint. Reads and writes block the
// calling thread; callers serialize access.
type Channel struct {
	path  string
	shape Shape
	file  *os.File
	fd    int
	dec   *decoder
	buf   []byte
}

// Open opens the raw device /dev/<name> read+write.
func Open(name string) (*Channel, error) {
	return OpenEndpoint(DefaultLocator.RawEndpoint(name))
}

// OpenFirst opens the first endpoint DefaultLocator resolves.
func OpenFirst() (*Channel, error) {
	ep, err := DefaultLocator.ResolveFirst()
	if err != nil {
		return nil, err
	}
	return OpenEndpoint(ep)
}

// OpenCore opens the uevent stream of core i.
func OpenCore(i int) (*Channel, error) {
	ep, err := DefaultLocator.ResolveIndex(i)
	if err != nil {
		return nil, err
	}
	return OpenEndpoint(ep)
}

// OpenCoreByPath opens an arbitrary uevent path.
func OpenCoreByPath(p string) (*Channel, error) {
	ep, err := DefaultLocator.ResolvePath(p)
	if err != nil {
		return nil, err
	}
	return OpenEndpoint(ep)
}

// OpenEndpoint opens ep with a blocking descriptor: read-only for
// LineNotification, read+write for RawByteStream.
func OpenEndpoint(ep Endpoint) (*Channel, error) {
	fd, err := openFD(ep.Path, ep.Shape, false)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", ep.Path).Stringer("shape", ep.Shape).Msg("rpmsg.Channel.Open")
	return &Channel{
		path:  ep.Path,
		shape: ep.Shape,
		file:  os.NewFile(uintptr(fd), ep.Path),
		fd:    fd,
		dec:   newDecoder(ep.Shape),
		buf:   make([]byte, MaxMessageSize),
	}, nil
}

func openFD(path string, shape Shape, nonblock bool) (int, error) {
	flags := unix.O_CLOEXEC | unix.O_NOCTTY
	if shape.CanSend() {
		flags |= unix.O_RDWR
	} else {
		flags |= unix.O_RDONLY
	}
	if nonblock {
		flags |= unix.O_NONBLOCK
	}
	for {
		fd, err := unix.Open(path, flags, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, ioErr("open", path, err)
		}
		return fd, nil
	}
}

func (c *Channel) Path() string {
	return c.path
}

func (c *Channel) Shape() Shape {
	return c.shape
}

// ReadMessage blocks until one message is available. LineNotification
// returns one full line with its terminator; RawByteStream returns the
// bytes of a single read. An empty message means end of stream.
func (c *Channel) ReadMessage() ([]byte, error) {
	if msg, ok := c.dec.next(); ok {
		return msg, nil
	}
	for {
		n, err := c.readOnce()
		if err != nil {
			return nil, err
		}
		if msg, ok := c.dec.feed(c.buf[:n]); ok {
			return msg, nil
		}
	}
}

func (c *Channel) readOnce() (int, error) {
	for {
		n, err := unix.Read(c.fd, c.buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, ioErr("read", c.path, err)
		}
		return n, nil
	}
}

// ReadMessageTimeout waits up to d for the endpoint to become readable and
// then reads as ReadMessage does. ok is false when d elapsed first; that is
// not an error. A negative d (NoTimeout) waits forever.
//
// d bounds only the readiness wait. Once readable, a LineNotification whose
// line arrives in pieces blocks in ReadMessage until the terminator shows up.
func (c *Channel) ReadMessageTimeout(d time.Duration) (msg []byte, ok bool, err error) {
	if c.file == nil {
		return nil, false, ioErr("poll", c.path, os.ErrClosed)
	}
	if d < 0 || c.dec.ready() {
		msg, err = c.ReadMessage()
		return msg, err == nil, err
	}
	readable, err := pollReadable(c.fd, d)
	if err != nil {
		return nil, false, ioErr("poll", c.path, err)
	}
	if !readable {
		return nil, false, nil
	}
	msg, err = c.ReadMessage()
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// pollReadable waits at most d for POLLIN (or hangup/error) on fd.
func pollReadable(fd int, d time.Duration) (bool, error) {
	deadline := time.Now().Add(d)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, pollMillis(time.Until(deadline)))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			return false, unix.EBADF
		}
		return n > 0, nil
	}
}

// pollMillis rounds up so a poll never returns before d has elapsed.
func pollMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

// Send issues exactly one write(2) and returns what it accepted. Callers
// compare n with len(p); there is no internal retry.
func (c *Channel) Send(p []byte) (int, error) {
	if !c.shape.CanSend() {
		return 0, ErrUnsupported
	}
	for {
		n, err := unix.Write(c.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, ioErr("write", c.path, err)
		}
		return n, nil
	}
}

// Close releases the descriptor. It is idempotent and never fails.
func (c *Channel) Close() error {
	if c.file == nil {
		return nil
	}
	if err := c.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		log.Warn().Str("path", c.path).Err(err).Msg("rpmsg.Channel.Close")
	}
	c.file = nil
	c.fd = -1
	return nil
}
