package rpmsg

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("rpmsg: no endpoint found")
	// ErrUnsupported is returned by Send on LineNotification handles.
	ErrUnsupported = fmt.Errorf("rpmsg: send on notification endpoint: %w", errors.ErrUnsupported)
	// ErrWouldBlock is reported by Readiness.TryRead/TryWrite when the
	// descriptor had nothing to give at that instant.
	ErrWouldBlock = errors.New("rpmsg: operation would block")
)

// IOError wraps an underlying OS failure with the operation and path.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("rpmsg: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("rpmsg: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}
