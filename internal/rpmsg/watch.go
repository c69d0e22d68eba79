package rpmsg

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

func (l Locator) firstRaw() (Endpoint, error) {
	names, err := l.ListRawEndpoints()
	if err != nil {
		return Endpoint{}, err
	}
	if len(names) == 0 {
		return Endpoint{}, ErrNotFound
	}
	return l.RawEndpoint(names[0]), nil
}

// AwaitRawEndpoint returns the first raw endpoint, waiting for the kernel to
// create one when none exists yet. The rpmsg device shows up some time after
// the remote processor reports online.
func (l Locator) AwaitRawEndpoint(ctx context.Context) (Endpoint, error) {
	if ep, err := l.firstRaw(); !errors.Is(err, ErrNotFound) {
		return ep, err
	}

	dir := l.DeviceDir()
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return Endpoint{}, ioErr("watch", dir, err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return Endpoint{}, ioErr("watch", dir, err)
	}

	// The device may have appeared between the listing and arming the watch.
	if ep, err := l.firstRaw(); !errors.Is(err, ErrNotFound) {
		return ep, err
	}
	log.Debug().Str("dir", dir).Msg("rpmsg.Locator.AwaitRawEndpoint waiting")

	for {
		select {
		case <-ctx.Done():
			return Endpoint{}, ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return Endpoint{}, ErrNotFound
			}
			name := filepath.Base(ev.Name)
			if !ev.Has(fsnotify.Create) || !strings.HasPrefix(name, RawDevicePrefix) {
				continue
			}
			ep := l.RawEndpoint(name)
			log.Info().Str("path", ep.Path).Msg("rpmsg.Locator.AwaitRawEndpoint appeared")
			return ep, nil
		case err, ok := <-w.Errors:
			if !ok {
				return Endpoint{}, ErrNotFound
			}
			return Endpoint{}, ioErr("watch", dir, err)
		}
	}
}
