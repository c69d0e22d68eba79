// Package remoteproc drives the kernel remoteproc sysfs interface: reading
// and writing the small per-processor attribute files that start, stop and
// load firmware into a coprocessor. It shares no state with package rpmsg.
package remoteproc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SysClassDir lists one directory per remote processor.
const SysClassDir = "/sys/class/remoteproc"

var (
	ErrNotFound     = errors.New("remoteproc: processor not found")
	ErrInvalidState = errors.New("remoteproc: invalid state")
)

// State is the trimmed content of the state attribute. Values the kernel
// adds later are kept verbatim.
type State string

const (
	StateOffline   State = "offline"
	StateBooting   State = "booting"
	StateRunning   State = "running"
	StateOnline    State = "online"
	StateSuspended State = "suspended"
	StateCrashed   State = "crashed"
	StateAttached  State = "attached"
	StateDetached  State = "detached"
)

func ParseState(raw string) State {
	return State(strings.TrimSpace(raw))
}

// Known reports whether s is one of the states above.
func (s State) Known() bool {
	switch s {
	case StateOffline, StateBooting, StateRunning, StateOnline,
		StateSuspended, StateCrashed, StateAttached, StateDetached:
		return true
	}
	return false
}

// Up reports whether the processor is executing firmware.
func (s State) Up() bool {
	return s == StateRunning || s == StateOnline || s == StateAttached
}

// Controller locates remote processors. Root prefixes SysClassDir; the zero
// value inspects the host.
type Controller struct {
	Root string
}

var DefaultController = Controller{}

func (c Controller) dir() string {
	if c.Root == "" {
		return SysClassDir
	}
	return filepath.Join(c.Root, SysClassDir)
}

// List returns processor names (remoteproc0, ...). A host without the
// remoteproc class yields an empty list.
func (c Controller) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("remoteproc: list %s: %w", c.dir(), err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out, nil
}

// Open returns a handle for an existing processor.
func (c Controller) Open(name string) (*Proc, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsRune(name, filepath.Separator) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	path := filepath.Join(c.dir(), name)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return &Proc{name: name, path: path}, nil
}

// Open uses DefaultController.
func Open(name string) (*Proc, error) {
	return DefaultController.Open(name)
}

// List uses DefaultController.
func List() ([]string, error) {
	return DefaultController.List()
}

// Proc is one remote processor's sysfs directory.
type Proc struct {
	name string
	path string
}

func (p *Proc) Name() string {
	return p.name
}

func (p *Proc) Path() string {
	return p.path
}

func (p *Proc) readAttr(attr string) (string, error) {
	data, err := os.ReadFile(filepath.Join(p.path, attr))
	if err != nil {
		return "", fmt.Errorf("remoteproc: read %s/%s: %w", p.name, attr, err)
	}
	return string(data), nil
}

func (p *Proc) writeAttr(attr, value string) error {
	f, err := os.OpenFile(filepath.Join(p.path, attr), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("remoteproc: open %s/%s: %w", p.name, attr, err)
	}
	if _, err := f.WriteString(value); err != nil {
		_ = f.Close()
		return fmt.Errorf("remoteproc: write %s/%s=%q: %w", p.name, attr, value, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("remoteproc: close %s/%s: %w", p.name, attr, err)
	}
	log.Debug().Str("proc", p.name).Str("attr", attr).Str("value", value).Msg("remoteproc.Proc.writeAttr")
	return nil
}

func (p *Proc) State() (State, error) {
	raw, err := p.readAttr("state")
	if err != nil {
		return "", err
	}
	s := ParseState(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty state for %s", ErrInvalidState, p.name)
	}
	return s, nil
}

// Firmware returns the firmware file name the kernel loads on start.
func (p *Proc) Firmware() (string, error) {
	raw, err := p.readAttr("firmware")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// SetFirmware selects the firmware file (relative to /lib/firmware). The
// kernel only accepts it while the processor is offline.
func (p *Proc) SetFirmware(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("remoteproc: empty firmware name for %s", p.name)
	}
	return p.writeAttr("firmware", name)
}

func (p *Proc) Start() error {
	return p.writeAttr("state", "start")
}

func (p *Proc) Stop() error {
	return p.writeAttr("state", "stop")
}

// Detach releases a processor the kernel attached to without stopping it.
func (p *Proc) Detach() error {
	return p.writeAttr("state", "detach")
}

// WaitState polls the state attribute every interval until it equals want
// or ctx ends. want must be a Known state.
func (p *Proc) WaitState(ctx context.Context, want State, interval time.Duration) (State, error) {
	if !want.Known() {
		return "", fmt.Errorf("%w: cannot wait for %q", ErrInvalidState, want)
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		got, err := p.State()
		if err != nil {
			return "", err
		}
		if got == want {
			return got, nil
		}
		if got == StateCrashed {
			return got, fmt.Errorf("%w: %s crashed while waiting for %s", ErrInvalidState, p.name, want)
		}
		select {
		case <-ctx.Done():
			return got, ctx.Err()
		case <-ticker.C:
		}
	}
}
