package rpmsg

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// newFIFO creates a named pipe and opens a peer end read+write so neither
// side blocks in open and the pipe never reports hangup.
func newFIFO(t *testing.T) (string, *os.File) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rpmsg_pru30")
	if err := unix.Mkfifo(path, 0o600); err != nil {
		t.Fatalf("mkfifo: %v", err)
	}
	peer, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open fifo peer: %v", err)
	}
	t.Cleanup(func() { _ = peer.Close() })
	return path, peer
}

func writeString(t *testing.T, w *os.File, s string) {
	t.Helper()
	if _, err := w.WriteString(s); err != nil {
		t.Fatalf("write %q: %v", s, err)
	}
}

// writeLater writes s after d and returns a channel closed once done.
func writeLater(t *testing.T, w *os.File, d time.Duration, s string) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(d)
		if _, err := w.WriteString(s); err != nil {
			t.Errorf("delayed write %q: %v", s, err)
		}
	}()
	return done
}

func readPeer(t *testing.T, r *os.File, n int) string {
	t.Helper()
	if err := r.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("peer deadline: %v", err)
	}
	buf := make([]byte, n)
	got, err := r.Read(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	return string(buf[:got])
}

// fakeReadiness scripts TryRead/TryWrite outcomes. A nil read entry is a
// spurious would-block.
type fakeReadiness struct {
	mu            sync.Mutex
	reads         [][]byte
	blockReadable bool
	writeWouldBlk bool
	written       []byte
	awaitReadable int
	awaitWritable int
	tryReads      int
	tryWrites     int
	closed        int
	onAwait       func()
}

func (f *fakeReadiness) AwaitReadable(ctx context.Context) error {
	f.mu.Lock()
	f.awaitReadable++
	block := f.blockReadable
	hook := f.onAwait
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if !block {
		return ctx.Err()
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeReadiness) AwaitWritable(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awaitWritable++
	return ctx.Err()
}

func (f *fakeReadiness) TryRead(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tryReads++
	if len(f.reads) == 0 {
		return 0, nil
	}
	next := f.reads[0]
	f.reads = f.reads[1:]
	if next == nil {
		return 0, ErrWouldBlock
	}
	return copy(p, next), nil
}

func (f *fakeReadiness) TryWrite(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tryWrites++
	if f.writeWouldBlk {
		return 0, ErrWouldBlock
	}
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakeReadiness) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeReadiness) counts() (awaitR, awaitW, tryR, tryW int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.awaitReadable, f.awaitWritable, f.tryReads, f.tryWrites
}
