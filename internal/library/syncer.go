package library

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/vod-cache/internal/config"
	"github.com/any-hub/vod-cache/internal/logging"
	"github.com/any-hub/vod-cache/internal/metrics"
	"github.com/any-hub/vod-cache/internal/playlist"
)

const defaultSyncInterval = 6 * time.Hour

var (
	errNoSource        = errors.New("no playlist source configured")
	errAmbiguousSource = errors.New("playlist source must be either a file or a URL")
)

// Summary 记录一次同步的结果，供日志与 /-/status 输出。
type Summary struct {
	Source     string    `json:"source"`
	Movies     int       `json:"movies"`
	TVShows    int       `json:"tvshows"`
	Skipped    int       `json:"skipped"`
	Duplicates int       `json:"duplicates"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// Syncer 周期性地拉取播放列表并重建 .strm 目录。
type Syncer struct {
	source     config.SourceConfig
	userAgent  string
	layout     Layout
	classifier *playlist.Classifier
	builder    *StrmBuilder
	client     *http.Client
	logger     *logrus.Logger

	runMu sync.Mutex

	mu   sync.RWMutex
	last *Summary
}

func NewSyncer(cfg *config.Config, layout Layout, classifier *playlist.Classifier, builder *StrmBuilder, client *http.Client, logger *logrus.Logger) *Syncer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Syncer{
		source:     cfg.Source,
		userAgent:  cfg.Global.UserAgent,
		layout:     layout,
		classifier: classifier,
		builder:    builder,
		client:     client,
		logger:     logger,
	}
}

// Enabled 表示是否配置了播放列表来源。
func (s *Syncer) Enabled() bool {
	return s.source.Enabled()
}

// SyncOnce 执行一次完整同步：拉取（HTTP 来源）、解析、清空并重建媒体目录、输出代理播放列表。
// 解析失败时保留上一次的目录内容。
func (s *Syncer) SyncOnce(ctx context.Context) (Summary, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	summary := Summary{Source: s.source.Kind(), StartedAt: time.Now()}
	err := s.sync(ctx, &summary)
	summary.FinishedAt = time.Now()
	if err != nil {
		summary.Error = err.Error()
	}
	s.record(summary)
	metrics.SyncDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
	return summary, err
}

func (s *Syncer) sync(ctx context.Context, summary *Summary) error {
	file := strings.TrimSpace(s.source.PlaylistFile)
	remote := strings.TrimSpace(s.source.PlaylistURL)
	switch {
	case file != "" && remote != "":
		return errAmbiguousSource
	case file == "" && remote == "":
		return errNoSource
	}

	path := file
	if remote != "" {
		path = s.layout.PlaylistFile()
		if err := playlist.Fetch(ctx, s.client, remote, path, s.userAgent); err != nil {
			return err
		}
	}

	entries, skipped, err := playlist.Load(path, s.classifier)
	if err != nil {
		return err
	}
	summary.Skipped = skipped

	if err := s.layout.Clear(); err != nil {
		return err
	}
	built, err := s.builder.Build(ctx, entries)
	summary.Movies = built.Movies
	summary.TVShows = built.TVShows
	summary.Duplicates = built.Duplicates
	if err != nil {
		return err
	}

	if err := WritePlaylist(s.layout.ProxiedPlaylist(), entries, s.builder.BaseURL()); err != nil {
		return err
	}

	metrics.SyncEntries.WithLabelValues(playlist.Movie.String()).Set(float64(summary.Movies))
	metrics.SyncEntries.WithLabelValues(playlist.TVShow.String()).Set(float64(summary.TVShows))
	return nil
}

// Run 启动后立即同步一次，之后每隔 SyncInterval 同步；单次失败只记录日志。
func (s *Syncer) Run(ctx context.Context) error {
	if !s.source.Enabled() {
		return nil
	}
	interval := s.source.SyncInterval.DurationValue()
	if interval <= 0 {
		interval = defaultSyncInterval
	}

	s.syncAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.syncAndLog(ctx)
		}
	}
}

func (s *Syncer) syncAndLog(ctx context.Context) {
	summary, err := s.SyncOnce(ctx)
	fields := logrus.Fields{
		"action":      "sync",
		"source":      summary.Source,
		"movies":      summary.Movies,
		"tvshows":     summary.TVShows,
		"skipped":     summary.Skipped,
		"duplicates":  summary.Duplicates,
		"duration_ms": summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.Component(s.logger, "syncer").WithError(err).WithFields(fields).Error("playlist_sync_failed")
		return
	}
	logging.Component(s.logger, "syncer").WithFields(fields).Info("playlist_synced")
}

func (s *Syncer) record(summary Summary) {
	s.mu.Lock()
	s.last = &summary
	s.mu.Unlock()
}

// LastSummary 返回最近一次同步结果；尚未同步时第二个返回值为 false。
func (s *Syncer) LastSummary() (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Summary{}, false
	}
	return *s.last, true
}
