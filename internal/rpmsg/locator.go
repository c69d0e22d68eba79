package rpmsg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// RawDeviceDir holds the rpmsg character devices.
	RawDeviceDir = "/dev"
	// RawDevicePrefix filters RawDeviceDir entries (rpmsg0, rpmsg_pru30, ...).
	RawDevicePrefix = "rpmsg"
)

// Index order is the contract for ResolveIndex and OpenCore.
var knownNotificationPaths = [...]string{
	"/dev/remoteproc/pruss-core0/uevent",
	"/dev/remoteproc/pruss-core1/uevent",
}

// KnownNotificationPaths returns the well-known per-core uevent paths in
// core order.
func KnownNotificationPaths() []string {
	out := make([]string, len(knownNotificationPaths))
	copy(out, knownNotificationPaths[:])
	return out
}

// Endpoint is a discovered, classified, not yet opened messaging endpoint.
type Endpoint struct {
	Path  string
	Shape Shape
}

// Locator maps naming conventions and well-known paths to endpoints.
// Root prefixes every path it derives; the zero value inspects the host.
type Locator struct {
	Root string
}

var DefaultLocator = Locator{}

func (l Locator) join(p string) string {
	if l.Root == "" {
		return p
	}
	return filepath.Join(l.Root, p)
}

// DeviceDir is the directory enumerated for raw endpoints.
func (l Locator) DeviceDir() string {
	return l.join(RawDeviceDir)
}

// ListRawEndpoints returns the sorted rpmsg device names. A missing device
// directory yields an empty list.
func (l Locator) ListRawEndpoints() ([]string, error) {
	dir := l.DeviceDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, ioErr("list", dir, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), RawDevicePrefix) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// RawEndpoint classifies a raw device name without touching the filesystem.
func (l Locator) RawEndpoint(name string) Endpoint {
	return Endpoint{Path: filepath.Join(l.DeviceDir(), name), Shape: RawByteStream}
}

// ResolveFirst prefers the first existing uevent path and falls back to the
// first raw device.
func (l Locator) ResolveFirst() (Endpoint, error) {
	for i := range knownNotificationPaths {
		if ep, err := l.ResolveIndex(i); err == nil {
			return ep, nil
		}
	}
	names, err := l.ListRawEndpoints()
	if err != nil {
		return Endpoint{}, err
	}
	if len(names) == 0 {
		return Endpoint{}, ErrNotFound
	}
	ep := l.RawEndpoint(names[0])
	log.Debug().Str("path", ep.Path).Msg("rpmsg.Locator.ResolveFirst fallback to raw endpoint")
	return ep, nil
}

// ResolveIndex resolves the i-th well-known uevent path. Out of range and
// missing on this host both report ErrNotFound.
func (l Locator) ResolveIndex(i int) (Endpoint, error) {
	if i < 0 || i >= len(knownNotificationPaths) {
		return Endpoint{}, ErrNotFound
	}
	return l.resolveNotification(l.join(knownNotificationPaths[i]))
}

// ResolvePath treats an arbitrary existing path as a uevent stream. The
// path is used as given, not joined with Root.
func (l Locator) ResolvePath(p string) (Endpoint, error) {
	return l.resolveNotification(p)
}

func (l Locator) resolveNotification(p string) (Endpoint, error) {
	if _, err := os.Stat(p); err != nil {
		return Endpoint{}, ErrNotFound
	}
	return Endpoint{Path: p, Shape: LineNotification}, nil
}
