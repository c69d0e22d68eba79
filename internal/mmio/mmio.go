// Package mmio maps a physical address window through /dev/mem so the host
// can inspect or poke PRU data memory next to the rpmsg channels.
//
// Ownership boundary:
// - a Window owns one mapping and unmaps it on Close
// - offsets are relative to the requested base, never to the page boundary
package mmio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// DevMem is the physical memory device.
const DevMem = "/dev/mem"

// AM335x PRU-ICSS layout.
const (
	PRUSSBase    uint64 = 0x4A300000
	PRUSSSize    uint64 = 0x20000
	PRU0DRAMBase uint64 = 0x4A310000
	PRU0DRAMSize uint64 = 0x2000
	PRU1DRAMBase uint64 = 0x4A320000
	PRU1DRAMSize uint64 = 0x2000
)

var (
	ErrOutOfRange = errors.New("mmio: access outside window")
	ErrClosed     = errors.New("mmio: window closed")
)

// Window is a mapped range [Base, Base+Size).
type Window struct {
	mu   sync.Mutex
	path string
	base uint64
	size uint64
	page []byte
	data []byte
}

func Map(base, size uint64) (*Window, error) {
	return MapFile(DevMem, base, size)
}

func MapPRUSS() (*Window, error) {
	return Map(PRUSSBase, PRUSSSize)
}

func MapPRU0DRAM() (*Window, error) {
	return Map(PRU0DRAMBase, PRU0DRAMSize)
}

func MapPRU1DRAM() (*Window, error) {
	return Map(PRU1DRAMBase, PRU1DRAMSize)
}

// MapFile maps [base, base+size) of path shared and read-write. base need
// not be page aligned.
func MapFile(path string, base, size uint64) (*Window, error) {
	if size == 0 {
		return nil, fmt.Errorf("mmio: map %s: zero size", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio: open %s: %w", path, err)
	}
	defer f.Close()

	pageSize := uint64(os.Getpagesize())
	aligned := base &^ (pageSize - 1)
	delta := base - aligned
	length := delta + size

	page, err := unix.Mmap(int(f.Fd()), int64(aligned), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmio: mmap %s base=%#x size=%#x: %w", path, base, size, err)
	}
	log.Debug().Str("path", path).Uint64("base", base).Uint64("size", size).Msg("mmio.MapFile")
	return &Window{
		path: path,
		base: base,
		size: size,
		page: page,
		data: page[delta : delta+size],
	}, nil
}

func (w *Window) Base() uint64 {
	return w.base
}

func (w *Window) Size() uint64 {
	return w.size
}

func (w *Window) check(off uint64) error {
	if w.data == nil {
		return ErrClosed
	}
	if off%4 != 0 || off > w.size || w.size-off < 4 {
		return fmt.Errorf("%w: offset=%#x size=%#x", ErrOutOfRange, off, w.size)
	}
	return nil
}

// ReadU32 reads the little-endian word at off bytes into the window.
func (w *Window) ReadU32(off uint64) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.check(off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(w.data[off : off+4]), nil
}

func (w *Window) WriteU32(off uint64, v uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.check(off); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(w.data[off:off+4], v)
	return nil
}

// Close unmaps the window. Later calls are no-ops.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.page == nil {
		return nil
	}
	err := unix.Munmap(w.page)
	w.page, w.data = nil, nil
	if err != nil {
		return fmt.Errorf("mmio: munmap %s: %w", w.path, err)
	}
	return nil
}
