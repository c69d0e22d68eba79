package rpmsg

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Readiness is the non-blocking descriptor capability AsyncChannel drives.
// Await* suspend the calling goroutine until the descriptor is likely ready
// or ctx ends (returning ctx's error). Try* perform exactly one non-blocking
// operation and report ErrWouldBlock when nothing could be transferred.
type Readiness interface {
	AwaitReadable(ctx context.Context) error
	AwaitWritable(ctx context.Context) error
	TryRead(p []byte) (int, error)
	TryWrite(p []byte) (int, error)
	Close() error
}

var aLongTimeAgo = time.Unix(1, 0)

// pollFD parks on the Go runtime network poller. Descriptors the poller
// refuses (regular files) are treated as always ready, as poll(2) does.
type pollFD struct {
	file     *os.File
	rc       syscall.RawConn
	pollable bool
}

// newPollFD takes ownership of a descriptor opened with O_NONBLOCK.
func newPollFD(fd int, path string) (*pollFD, error) {
	f := os.NewFile(uintptr(fd), path)
	rc, err := f.SyscallConn()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	pollable := !errors.Is(f.SetDeadline(time.Time{}), os.ErrNoDeadline)
	return &pollFD{file: f, rc: rc, pollable: pollable}, nil
}

func (p *pollFD) AwaitReadable(ctx context.Context) error {
	return p.await(ctx, unix.POLLIN, p.file.SetReadDeadline, p.rc.Read)
}

func (p *pollFD) AwaitWritable(ctx context.Context) error {
	return p.await(ctx, unix.POLLOUT, p.file.SetWriteDeadline, p.rc.Write)
}

func (p *pollFD) await(
	ctx context.Context,
	events int16,
	setDeadline func(time.Time) error,
	wait func(func(fd uintptr) bool) error,
) error {
	if !p.pollable {
		if err := ctx.Err(); errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		// An already expired timer still lets ready data win, like a
		// zero-timeout poll(2).
		ready := false
		if errors.Is(err, context.DeadlineExceeded) {
			_ = p.rc.Control(func(fd uintptr) {
				ready = probe(int(fd), events)
			})
		}
		if ready {
			return nil
		}
		return err
	}

	deadline, _ := ctx.Deadline()
	if err := setDeadline(deadline); err != nil {
		return err
	}
	expired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = setDeadline(aLongTimeAgo)
		close(expired)
	})

	// The poller is edge-triggered and RawConn resets its ready flag before
	// the first callback, so probe the level before parking.
	err := wait(func(fd uintptr) bool {
		return probe(int(fd), events)
	})

	if !stop() {
		<-expired
	}
	_ = setDeadline(time.Time{})

	if errors.Is(err, os.ErrDeadlineExceeded) {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return context.DeadlineExceeded
	}
	return err
}

// probe is a zero-timeout poll(2). Errors report ready so the following
// Try* call surfaces them.
func probe(fd int, events int16) bool {
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		return err != nil || n > 0
	}
}

func (p *pollFD) TryRead(b []byte) (int, error) {
	return p.try(b, unix.Read)
}

func (p *pollFD) TryWrite(b []byte) (int, error) {
	return p.try(b, unix.Write)
}

func (p *pollFD) try(b []byte, op func(int, []byte) (int, error)) (n int, err error) {
	cerr := p.rc.Control(func(fd uintptr) {
		for {
			n, err = op(int(fd), b)
			if err != unix.EINTR {
				return
			}
		}
	})
	if cerr != nil {
		return 0, cerr
	}
	if err == unix.EAGAIN {
		return 0, ErrWouldBlock
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close wakes any parked waiter with os.ErrClosed.
func (p *pollFD) Close() error {
	return p.file.Close()
}
