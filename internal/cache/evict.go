package cache

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/vod-cache/internal/metrics"
)

// Evictor 在每次请求结束后把最终文件数量压回上限，按访问时间保留最近使用的文件。
type Evictor struct {
	store   *Store
	ceiling int
	logger  *logrus.Logger

	mu sync.Mutex
}

// NewEvictor 创建淘汰器；ceiling <= 0 表示不限制数量。
func NewEvictor(store *Store, ceiling int, logger *logrus.Logger) *Evictor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Evictor{store: store, ceiling: ceiling, logger: logger}
}

// Run 执行一次淘汰并返回删除的文件数。所有错误只记录日志，不向调用方传播。
func (e *Evictor) Run() int {
	if e == nil || e.store == nil || e.ceiling <= 0 {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	files, err := e.store.List()
	if err != nil {
		metrics.EvictionErrorsTotal.Inc()
		e.logger.WithError(err).WithField("action", "evict").Warn("cache_list_failed")
		return 0
	}
	if len(files) <= e.ceiling {
		return 0
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].AccessTime.After(files[j].AccessTime)
	})

	removed := 0
	for _, file := range files[e.ceiling:] {
		if e.store.Leased(file.Path) {
			e.logger.WithFields(logrus.Fields{
				"action": "evict",
				"file":   file.Name,
			}).Debug("cache_evict_skipped_leased")
			continue
		}
		if err := e.store.Remove(file.Path); err != nil {
			metrics.EvictionErrorsTotal.Inc()
			e.logger.WithError(err).WithFields(logrus.Fields{
				"action": "evict",
				"file":   file.Name,
			}).Warn("cache_evict_failed")
			continue
		}
		removed++
		metrics.EvictionsTotal.Inc()
		e.logger.WithFields(logrus.Fields{
			"action":      "evict",
			"file":        file.Name,
			"size_bytes":  file.SizeBytes,
			"last_access": file.AccessTime,
		}).Info("cache_evicted")
	}
	return removed
}
