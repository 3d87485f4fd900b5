package routes

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/any-hub/vod-cache/internal/download"
	"github.com/any-hub/vod-cache/internal/library"
)

type fakeQueue []download.JobInfo

func (q fakeQueue) Snapshot() []download.JobInfo { return q }

type fakeSync struct {
	summary library.Summary
	ok      bool
}

func (s fakeSync) LastSummary() (library.Summary, bool) { return s.summary, s.ok }

func TestStatusReportsQueueAndSync(t *testing.T) {
	app := fiber.New()
	RegisterDiagnostics(app, Diagnostics{
		Queue: fakeQueue{{ID: "job-1", URL: "http://origin/a.mkv", Offset: 42, ExpectedSize: 100}},
		Sync:  fakeSync{ok: true, summary: library.Summary{Source: "file", Movies: 3, FinishedAt: time.Now()}},
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if payload.QueueDepth != 1 || payload.Queue[0].ID != "job-1" || payload.Queue[0].Offset != 42 {
		t.Fatalf("unexpected queue payload: %+v", payload)
	}
	if payload.LastSync == nil || payload.LastSync.Movies != 3 {
		t.Fatalf("unexpected sync payload: %+v", payload.LastSync)
	}
	if payload.Version == "" {
		t.Fatalf("expected version in status")
	}
}

func TestStatusWithoutSyncer(t *testing.T) {
	app := fiber.New()
	RegisterDiagnostics(app, Diagnostics{Queue: fakeQueue{}})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"last_sync":null`) {
		t.Fatalf("expected null last_sync, got %s", string(body))
	}
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "vod_cache_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	app := fiber.New()
	RegisterDiagnostics(app, Diagnostics{Gatherer: reg})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/-/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "vod_cache_test_total 3") {
		t.Fatalf("expected counter in metrics output, got %s", string(body))
	}
}

func TestPlaylistEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxied.m3u")
	app := fiber.New()
	RegisterDiagnostics(app, Diagnostics{PlaylistPath: path})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/-/playlist.m3u", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 before first sync, got %d", resp.StatusCode)
	}

	content := "#EXTM3U\n#EXTINF:-1 , Movie\nhttp://127.0.0.1:5000/abc\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}
	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/-/playlist.m3u", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != content {
		t.Fatalf("unexpected playlist response %d %q", resp.StatusCode, string(body))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/x-mpegurl" {
		t.Fatalf("unexpected content type %q", ct)
	}
}
