package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/pructl/internal/auth"
	"github.com/danmuck/pructl/internal/remoteproc"
	"github.com/danmuck/pructl/internal/responder"
	"github.com/danmuck/pructl/internal/rpmsg"
	"github.com/danmuck/pructl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

type fixedStatus responder.Status

func (f fixedStatus) Status() responder.Status { return responder.Status(f) }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const testToken = "s3cret"

func newTestServer(t *testing.T, status StatusSource) (*Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "/dev/rpmsg_pru30"), "")
	writeFile(t, filepath.Join(root, "/dev/remoteproc/pruss-core1/uevent"), "")
	writeFile(t, filepath.Join(root, remoteproc.SysClassDir, "remoteproc1/state"), "offline\n")
	writeFile(t, filepath.Join(root, remoteproc.SysClassDir, "remoteproc1/firmware"), "am335x-pru0-fw\n")

	s := New(Options{
		Name:      "server-test",
		Version:   "9.9.9",
		Addr:      "127.0.0.1:0",
		Locator:   rpmsg.Locator{Root: root},
		Procs:     remoteproc.Controller{Root: root},
		Responder: status,
		Auth:      auth.StaticToken{Token: testToken},
	})
	return s, root
}

func do(t *testing.T, s *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	var out map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v body=%s", method, path, err, rr.Body.String())
		}
	}
	return rr.Code, out
}

func TestHealthAndMetrics(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestServer(t, nil)

	code, body := do(t, s, http.MethodGet, "/health", "")
	if code != http.StatusOK || body["status"] != "ok" || body["name"] != "server-test" || body["version"] != "9.9.9" {
		t.Fatalf("unexpected health %d %#v", code, body)
	}

	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "pructl_http_requests_total") {
		t.Fatalf("metrics missing http series: %d", rr.Code)
	}
}

func TestEndpoints(t *testing.T) {
	testlog.Start(t)
	s, root := newTestServer(t, nil)

	code, body := do(t, s, http.MethodGet, "/endpoints", "")
	if code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	list, _ := body["endpoints"].([]any)
	if len(list) != 3 {
		t.Fatalf("expected 2 notification + 1 raw endpoint, got %#v", body)
	}
	core0 := list[0].(map[string]any)
	core1 := list[1].(map[string]any)
	raw := list[2].(map[string]any)
	if core0["present"] != false || core1["present"] != true || core1["shape"] != "uevent" {
		t.Fatalf("unexpected notification entries %#v %#v", core0, core1)
	}
	if raw["path"] != filepath.Join(root, "/dev/rpmsg_pru30") || raw["shape"] != "raw" || raw["core"] != float64(-1) {
		t.Fatalf("unexpected raw entry %#v", raw)
	}
}

func TestRemoteprocRoutes(t *testing.T) {
	testlog.Start(t)
	s, root := newTestServer(t, nil)

	code, body := do(t, s, http.MethodGet, "/remoteproc", "")
	procs, _ := body["remoteproc"].([]any)
	if code != http.StatusOK || len(procs) != 1 {
		t.Fatalf("unexpected list %d %#v", code, body)
	}

	code, body = do(t, s, http.MethodGet, "/remoteproc/remoteproc1", "")
	if code != http.StatusOK || body["state"] != "offline" || body["up"] != false || body["firmware"] != "am335x-pru0-fw" {
		t.Fatalf("unexpected proc %d %#v", code, body)
	}

	if code, _ := do(t, s, http.MethodGet, "/remoteproc/remoteproc7", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing proc, got %d", code)
	}
	if code, _ := do(t, s, http.MethodPost, "/remoteproc/remoteproc1/reboot", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", code)
	}

	code, body = do(t, s, http.MethodPost, "/remoteproc/remoteproc1/firmware", `{"firmware":"echo-fw"}`)
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("firmware: %d %#v", code, body)
	}
	if code, _ := do(t, s, http.MethodPost, "/remoteproc/remoteproc1/firmware", `{}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing firmware, got %d", code)
	}

	code, _ = do(t, s, http.MethodPost, "/remoteproc/remoteproc1/start", "")
	if code != http.StatusOK {
		t.Fatalf("start: %d", code)
	}
	state, err := os.ReadFile(filepath.Join(root, remoteproc.SysClassDir, "remoteproc1/state"))
	if err != nil || string(state) != "start" {
		t.Fatalf("state attr=%q err=%v", state, err)
	}
	fw, err := os.ReadFile(filepath.Join(root, remoteproc.SysClassDir, "remoteproc1/firmware"))
	if err != nil || string(fw) != "echo-fw" {
		t.Fatalf("firmware attr=%q err=%v", fw, err)
	}
}

func TestResponderRoute(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestServer(t, nil)
	if code, _ := do(t, s, http.MethodGet, "/responder", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 without responder, got %d", code)
	}

	s, _ = newTestServer(t, fixedStatus{
		Endpoint: "/dev/rpmsg_pru30",
		Shape:    "raw",
		Running:  true,
		Received: 3,
		LastAt:   time.Unix(0, 0).UTC(),
	})
	code, body := do(t, s, http.MethodGet, "/responder", "")
	if code != http.StatusOK || body["received"] != float64(3) || body["running"] != true {
		t.Fatalf("unexpected responder status %d %#v", code, body)
	}
}

func TestLifecycleRequiresToken(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestServer(t, nil)

	post := func(s *Server, path, header string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		s.HTTPRouter().ServeHTTP(rr, req)
		return rr.Code
	}

	if code := post(s, "/remoteproc/remoteproc1/start", ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code := post(s, "/remoteproc/remoteproc1/start", "Bearer wrong"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", code)
	}
	if code := post(s, "/remoteproc/remoteproc1/stop", "Bearer "+testToken); code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
}

func TestControlRoutesDisabledWithoutToken(t *testing.T) {
	testlog.Start(t)
	_, root := newTestServer(t, nil)
	bare := New(Options{
		Name:    "server-test",
		Procs:   remoteproc.Controller{Root: root},
		Locator: rpmsg.Locator{Root: root},
	})

	for _, action := range []string{"start", "stop", "detach", "firmware"} {
		req := httptest.NewRequest(http.MethodPost, "/remoteproc/remoteproc1/"+action, strings.NewReader(`{"firmware":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		bare.HTTPRouter().ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404 without control token, got %d", action, rr.Code)
		}
	}
	state, err := os.ReadFile(filepath.Join(root, remoteproc.SysClassDir, "remoteproc1/state"))
	if err != nil || string(state) != "offline\n" {
		t.Fatalf("state attr changed: %q err=%v", state, err)
	}
	if code, _ := do(t, bare, http.MethodGet, "/remoteproc/remoteproc1", ""); code != http.StatusOK {
		t.Fatalf("reads must stay open, got %d", code)
	}
}
