package rpmsg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/pructl/internal/testutil/testlog"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestListRawEndpointsMissingDirIsEmpty(t *testing.T) {
	testlog.Start(t)
	loc := Locator{Root: t.TempDir()}
	names, err := loc.ListRawEndpoints()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if names == nil || len(names) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", names)
	}
}

func TestListRawEndpointsFiltersAndSorts(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	for _, name := range []string{"rpmsg_pru31", "tty0", "rpmsg0", "mem", "rpmsg_pru30"} {
		touch(t, filepath.Join(root, "dev", name))
	}
	names, err := Locator{Root: root}.ListRawEndpoints()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"rpmsg0", "rpmsg_pru30", "rpmsg_pru31"}
	if len(names) != len(want) {
		t.Fatalf("unexpected names: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names[%d]=%q want %q (all=%v)", i, names[i], want[i], names)
		}
	}
}

func TestListRawEndpointsEnumerationFailureIsIOError(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	touch(t, filepath.Join(root, "dev"))

	_, err := Locator{Root: root}.ListRawEndpoints()
	var ioe *IOError
	if !errors.As(err, &ioe) {
		t.Fatalf("expected *IOError, got %T %v", err, err)
	}
	if ioe.Op != "list" {
		t.Fatalf("unexpected op: %q", ioe.Op)
	}
}

func TestKnownNotificationPathsOrderAndCopy(t *testing.T) {
	paths := KnownNotificationPaths()
	if len(paths) != 2 {
		t.Fatalf("unexpected table: %v", paths)
	}
	if paths[0] != "/dev/remoteproc/pruss-core0/uevent" || paths[1] != "/dev/remoteproc/pruss-core1/uevent" {
		t.Fatalf("unexpected order: %v", paths)
	}
	paths[0] = "/tmp/mutated"
	if KnownNotificationPaths()[0] == "/tmp/mutated" {
		t.Fatalf("table must not be mutable through the returned slice")
	}
}

func TestResolveIndexNotFoundCases(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	touch(t, filepath.Join(root, "dev/remoteproc/pruss-core1/uevent"))
	loc := Locator{Root: root}

	for _, i := range []int{-1, 0, 2, 99} {
		if _, err := loc.ResolveIndex(i); !errors.Is(err, ErrNotFound) {
			t.Fatalf("index %d: expected ErrNotFound, got %v", i, err)
		}
	}
	ep, err := loc.ResolveIndex(1)
	if err != nil {
		t.Fatalf("index 1: %v", err)
	}
	if ep.Shape != LineNotification || ep.Path != filepath.Join(root, "dev/remoteproc/pruss-core1/uevent") {
		t.Fatalf("unexpected endpoint: %+v", ep)
	}
}

func TestResolveFirstOrder(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	loc := Locator{Root: root}

	if _, err := loc.ResolveFirst(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty host: expected ErrNotFound, got %v", err)
	}

	touch(t, filepath.Join(root, "dev/rpmsg_pru31"))
	touch(t, filepath.Join(root, "dev/rpmsg_pru30"))
	ep, err := loc.ResolveFirst()
	if err != nil {
		t.Fatalf("raw fallback: %v", err)
	}
	if ep.Shape != RawByteStream || filepath.Base(ep.Path) != "rpmsg_pru30" {
		t.Fatalf("unexpected raw fallback: %+v", ep)
	}

	touch(t, filepath.Join(root, "dev/remoteproc/pruss-core1/uevent"))
	ep, err = loc.ResolveFirst()
	if err != nil {
		t.Fatalf("notification preferred: %v", err)
	}
	if ep.Shape != LineNotification || filepath.Base(filepath.Dir(ep.Path)) != "pruss-core1" {
		t.Fatalf("expected core1 uevent, got %+v", ep)
	}

	touch(t, filepath.Join(root, "dev/remoteproc/pruss-core0/uevent"))
	ep, _ = loc.ResolveFirst()
	if filepath.Base(filepath.Dir(ep.Path)) != "pruss-core0" {
		t.Fatalf("expected core0 to win, got %+v", ep)
	}
}

func TestResolvePath(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "uevent")
	if _, err := DefaultLocator.ResolvePath(path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	touch(t, path)
	ep, err := Locator{Root: "/ignored"}.ResolvePath(path)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ep.Path != path || ep.Shape != LineNotification {
		t.Fatalf("unexpected endpoint: %+v", ep)
	}
}

func TestAwaitRawEndpointHotplug(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	loc := Locator{Root: root}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(50 * time.Millisecond)
		for _, name := range []string{"tty1", "rpmsg_pru30"} {
			if err := os.WriteFile(filepath.Join(root, "dev", name), nil, 0o644); err != nil {
				t.Errorf("create %s: %v", name, err)
			}
		}
	}()

	ep, err := loc.AwaitRawEndpoint(ctx)
	<-done
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if ep.Shape != RawByteStream || filepath.Base(ep.Path) != "rpmsg_pru30" {
		t.Fatalf("unexpected endpoint: %+v", ep)
	}
}

func TestAwaitRawEndpointExistingAndCancelled(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	loc := Locator{Root: root}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := loc.AwaitRawEndpoint(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	touch(t, filepath.Join(root, "dev", "rpmsg0"))
	ep, err := loc.AwaitRawEndpoint(context.Background())
	if err != nil || filepath.Base(ep.Path) != "rpmsg0" {
		t.Fatalf("existing endpoint: ep=%+v err=%v", ep, err)
	}
}
