package routes

import (
	"errors"
	"io/fs"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/vod-cache/internal/download"
	"github.com/any-hub/vod-cache/internal/library"
	"github.com/any-hub/vod-cache/internal/version"
)

// QueueSource 提供下载队列快照。
type QueueSource interface {
	Snapshot() []download.JobInfo
}

// SyncSource 提供最近一次播放列表同步结果。
type SyncSource interface {
	LastSummary() (library.Summary, bool)
}

// Diagnostics 汇总 /-/ 下各诊断接口依赖的组件，nil 字段对应的接口不注册。
type Diagnostics struct {
	Queue        QueueSource
	Sync         SyncSource
	Gatherer     prometheus.Gatherer
	PlaylistPath string
}

type statusPayload struct {
	Version    string             `json:"version"`
	QueueDepth int                `json:"queue_depth"`
	Queue      []download.JobInfo `json:"queue"`
	LastSync   *library.Summary   `json:"last_sync"`
}

// RegisterDiagnostics 暴露 /-/status、/-/metrics 与 /-/playlist.m3u。
func RegisterDiagnostics(app *fiber.App, diag Diagnostics) {
	if app == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(encodeStatus(diag))
	})

	if diag.Gatherer != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(diag.Gatherer, promhttp.HandlerOpts{})))
	}

	if diag.PlaylistPath != "" {
		app.Get("/-/playlist.m3u", func(c fiber.Ctx) error {
			f, err := os.Open(diag.PlaylistPath)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "playlist_not_ready"})
				}
				return err
			}
			info, err := f.Stat()
			if err != nil {
				f.Close()
				return err
			}
			c.Set(fiber.HeaderContentType, "audio/x-mpegurl")
			return c.SendStream(f, int(info.Size()))
		})
	}
}

func encodeStatus(diag Diagnostics) statusPayload {
	payload := statusPayload{
		Version: version.Full(),
		Queue:   []download.JobInfo{},
	}
	if diag.Queue != nil {
		payload.Queue = diag.Queue.Snapshot()
		payload.QueueDepth = len(payload.Queue)
	}
	if diag.Sync != nil {
		if summary, ok := diag.Sync.LastSummary(); ok {
			payload.LastSync = &summary
		}
	}
	return payload
}
