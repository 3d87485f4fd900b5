package library

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jamesnetherton/m3u"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/vod-cache/internal/config"
	"github.com/any-hub/vod-cache/internal/playlist"
	"github.com/any-hub/vod-cache/internal/proxy"
)

const samplePlaylist = `#EXTM3U
#EXTINF:-1 tvg-name="The Matrix (1999)" group-title="Movies",The Matrix (1999)
http://iptv.example.com/movie/1001.mkv
#EXTINF:-1 tvg-name="Breaking Bad S01 E02" group-title="Series",Breaking Bad S01 E02
http://iptv.example.com/series/2002.mp4
#EXTINF:-1 tvg-name="News 24" group-title="Live TV",News 24
http://iptv.example.com/live/3001.ts
`

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testClassifier(t *testing.T) *playlist.Classifier {
	t.Helper()
	classifier, err := playlist.NewClassifier(config.ClassifyConfig{
		Skip:    []string{`group-title="Live`},
		Season:  []string{`(?i)\bS(\d{1,2})(?:\s*E\d{1,3})?\b`},
		Episode: []string{`(?i)\bS\d{1,2}\s*E(\d{1,3})\b`},
	})
	if err != nil {
		t.Fatalf("classifier init failed: %v", err)
	}
	return classifier
}

func newTestLayout(t *testing.T) Layout {
	t.Helper()
	layout := Layout{Root: t.TempDir()}
	if err := layout.Prepare(); err != nil {
		t.Fatalf("prepare layout: %v", err)
	}
	return layout
}

func TestLayoutClearKeepsCache(t *testing.T) {
	layout := newTestLayout(t)
	stale := filepath.Join(layout.MovieDir(), "Old", "Old.strm")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cached := filepath.Join(layout.CacheDir(), "abc.mkv")
	if err := os.WriteFile(cached, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := layout.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale strm should be removed")
	}
	if _, err := os.Stat(layout.MovieDir()); err != nil {
		t.Fatalf("movie dir should be recreated: %v", err)
	}
	if _, err := os.Stat(cached); err != nil {
		t.Fatalf("cache must survive clear: %v", err)
	}
}

func TestStrmBuilderWritesProxyURLs(t *testing.T) {
	layout := newTestLayout(t)
	builder := NewStrmBuilder(layout, "http://192.168.1.20:5000/", 2)

	entries := []playlist.Entry{
		{Name: "The Matrix", GroupName: "The Matrix", ItemType: playlist.Movie, URL: "http://origin/1001.mkv"},
		{Name: "Show S01 E01", GroupName: "Show", ItemType: playlist.TVShow, Season: "01", URL: "http://origin/2001.mp4"},
		{Name: "Show S01 E01", GroupName: "Show", ItemType: playlist.TVShow, Season: "01", URL: "http://origin/2001-dup.mp4"},
		{Name: "AC/DC Live", GroupName: "AC DC Live", ItemType: playlist.Movie, URL: "http://origin/1002.mkv"},
	}
	summary, err := builder.Build(context.Background(), entries)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if summary.Movies != 2 || summary.TVShows != 1 || summary.Duplicates != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	data, err := os.ReadFile(filepath.Join(layout.TVShowDir(), "Show", "Show S01 E01.strm"))
	if err != nil {
		t.Fatalf("read strm: %v", err)
	}
	want := "http://192.168.1.20:5000/" + proxy.EncodeToken("http://origin/2001.mp4")
	if string(data) != want {
		t.Fatalf("expected %s, got %s", want, string(data))
	}

	if _, err := os.Stat(filepath.Join(layout.MovieDir(), "AC DC Live", "AC DC Live.strm")); err != nil {
		t.Fatalf("slash in name should be replaced: %v", err)
	}
}

func TestWritePlaylistRewritesURLs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxied.m3u")
	entries := []playlist.Entry{
		{Name: "The Matrix", Length: -1, URL: "http://origin/1001.mkv", Tags: map[string]string{"group-title": "Movies", "tvg-name": "The Matrix"}},
	}
	if err := WritePlaylist(path, entries, "http://127.0.0.1:5000"); err != nil {
		t.Fatalf("write playlist: %v", err)
	}

	parsed, err := m3u.Parse(path)
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if len(parsed.Tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(parsed.Tracks))
	}
	track := parsed.Tracks[0]
	if track.URI != "http://127.0.0.1:5000/"+proxy.EncodeToken("http://origin/1001.mkv") {
		t.Fatalf("unexpected uri %s", track.URI)
	}
	if track.Name != "The Matrix" {
		t.Fatalf("unexpected name %q", track.Name)
	}
	if len(track.Tags) != 2 || track.Tags[0].Name != "group-title" {
		t.Fatalf("unexpected tags %+v", track.Tags)
	}
}

func newTestConfig(source config.SourceConfig) *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000, PublicHost: "127.0.0.1"},
		Source: source,
	}
}

func TestSyncerSyncOnceFromHTTPSource(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(samplePlaylist))
	}))
	defer upstream.Close()

	layout := newTestLayout(t)
	cfg := newTestConfig(config.SourceConfig{PlaylistURL: upstream.URL + "/get.php"})
	builder := NewStrmBuilder(layout, cfg.BaseURL(), 4)
	syncer := NewSyncer(cfg, layout, testClassifier(t), builder, upstream.Client(), quietLogger())

	if _, ok := syncer.LastSummary(); ok {
		t.Fatalf("no summary expected before the first sync")
	}

	summary, err := syncer.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if summary.Movies != 1 || summary.TVShows != 1 || summary.Skipped != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Source != "http" {
		t.Fatalf("expected http source, got %s", summary.Source)
	}

	if _, err := os.Stat(layout.PlaylistFile()); err != nil {
		t.Fatalf("downloaded playlist missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(layout.TVShowDir(), "Breaking Bad", "Breaking Bad S01 E02.strm")); err != nil {
		t.Fatalf("tvshow strm missing: %v", err)
	}
	proxied, err := os.ReadFile(layout.ProxiedPlaylist())
	if err != nil {
		t.Fatalf("proxied playlist missing: %v", err)
	}
	if strings.Contains(string(proxied), "iptv.example.com") {
		t.Fatalf("proxied playlist should not expose origin URLs")
	}

	last, ok := syncer.LastSummary()
	if !ok || last.Movies != 1 {
		t.Fatalf("last summary not recorded: %+v", last)
	}
}

func TestSyncerKeepsLibraryWhenParseFails(t *testing.T) {
	layout := newTestLayout(t)
	playlistPath := filepath.Join(t.TempDir(), "broken.m3u")
	if err := os.WriteFile(playlistPath, []byte("not a playlist\n"), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}
	existing := filepath.Join(layout.MovieDir(), "Kept", "Kept.strm")
	if err := os.MkdirAll(filepath.Dir(existing), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(existing, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg := newTestConfig(config.SourceConfig{PlaylistFile: playlistPath})
	syncer := NewSyncer(cfg, layout, testClassifier(t), NewStrmBuilder(layout, cfg.BaseURL(), 1), nil, quietLogger())

	if _, err := syncer.SyncOnce(context.Background()); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := os.Stat(existing); err != nil {
		t.Fatalf("library should be kept on parse failure: %v", err)
	}
	last, ok := syncer.LastSummary()
	if !ok || last.Error == "" {
		t.Fatalf("failed sync should be recorded with an error: %+v", last)
	}
}

func TestSyncerRejectsMissingOrAmbiguousSource(t *testing.T) {
	layout := newTestLayout(t)
	cases := map[string]config.SourceConfig{
		"none": {},
		"both": {PlaylistFile: "/tmp/a.m3u", PlaylistURL: "http://example.com/a.m3u"},
	}
	for name, source := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := newTestConfig(source)
			syncer := NewSyncer(cfg, layout, testClassifier(t), NewStrmBuilder(layout, cfg.BaseURL(), 1), nil, quietLogger())
			if _, err := syncer.SyncOnce(context.Background()); err == nil {
				t.Fatalf("expected source error")
			}
		})
	}
}

func TestSyncerRunSyncsImmediately(t *testing.T) {
	layout := newTestLayout(t)
	playlistPath := filepath.Join(t.TempDir(), "list.m3u")
	if err := os.WriteFile(playlistPath, []byte(samplePlaylist), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}
	cfg := newTestConfig(config.SourceConfig{PlaylistFile: playlistPath, SyncInterval: config.Duration(time.Hour)})
	syncer := NewSyncer(cfg, layout, testClassifier(t), NewStrmBuilder(layout, cfg.BaseURL(), 1), nil, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- syncer.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := syncer.LastSummary(); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	summary, ok := syncer.LastSummary()
	if !ok || summary.Movies != 1 || summary.TVShows != 1 {
		t.Fatalf("expected an immediate sync, got %+v (ok=%v)", summary, ok)
	}
}
