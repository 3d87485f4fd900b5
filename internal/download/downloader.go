package download

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/any-hub/vod-cache/internal/logging"
	"github.com/any-hub/vod-cache/internal/metrics"
)

const (
	defaultTick           = time.Second
	defaultPoll           = time.Second
	defaultFairnessWindow = 30 * time.Second
	defaultRetryBackoff   = 5 * time.Second
	defaultMaxRetries     = 3
	defaultChunkSize      = 64 * 1024
)

// Options 控制调度节奏、重试与单次读取大小。时长与分块大小为零时使用默认值，
// MaxRetries 为负数时取默认值 3。
type Options struct {
	Tick           time.Duration
	Poll           time.Duration
	FairnessWindow time.Duration
	RetryBackoff   time.Duration
	MaxRetries     int
	ChunkSize      int
	// RateLimit 为全局下载速率上限（字节/秒），0 表示不限速。
	RateLimit int64
	UserAgent string
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = defaultTick
	}
	if o.Poll <= 0 {
		o.Poll = defaultPoll
	}
	if o.FairnessWindow <= 0 {
		o.FairnessWindow = defaultFairnessWindow
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = defaultRetryBackoff
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	return o
}

// Downloader 是进程内唯一的下载队列，同一时刻最多只有一个传输在运行。
type Downloader struct {
	client  *http.Client
	logger  *logrus.Logger
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time

	mu   sync.Mutex
	jobs []*Job
}

// New 创建下载器；调用方负责以 Run 启动调度循环。
func New(client *http.Client, logger *logrus.Logger, opts Options) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opts = opts.withDefaults()

	d := &Downloader{
		client: client,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateLimit
		if burst < int64(opts.ChunkSize) {
			burst = int64(opts.ChunkSize)
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), int(burst))
	}
	return d
}

// Enqueue 为 url 创建从 0 开始的下载任务。
func (d *Downloader) Enqueue(url, dest string, onDone Callback) *Job {
	return d.EnqueueFrom(url, dest, 0, onDone)
}

// EnqueueFrom 创建从 offset 续传的任务，并通知其它所有任务在下一个分块边界让出，
// 使最新的请求尽快得到服务。同一目标文件已有任务时直接返回已有任务。
func (d *Downloader) EnqueueFrom(url, dest string, offset int64, onDone Callback) *Job {
	if offset < 0 {
		offset = 0
	}

	d.mu.Lock()
	for _, existing := range d.jobs {
		if existing.Dest == dest {
			d.mu.Unlock()
			return existing
		}
	}
	job := &Job{
		ID:           ksuid.New().String(),
		URL:          url,
		Dest:         dest,
		onDone:       onDone,
		offset:       offset,
		expectedSize: -1,
		createdAt:    d.now(),
	}
	for _, existing := range d.jobs {
		existing.abort.Store(true)
	}
	d.jobs = append(d.jobs, job)
	depth := len(d.jobs)
	d.mu.Unlock()

	metrics.QueueJobs.Set(float64(depth))
	d.logger.WithFields(logging.JobFields(job.ID, url, offset, 0)).
		WithFields(logrus.Fields{"action": "enqueue", "queue_depth": depth}).
		Info("download_enqueued")
	return job
}

// IsInProgress 判断 url 是否仍有任务在队列中（包括运行中、等待重试与完成回调执行中）。
func (d *Downloader) IsInProgress(url string) bool {
	return d.find(url) != nil
}

// ExpectedSize 返回已知的远端总大小；尚未收到响应头或远端未声明时返回 false。
func (d *Downloader) ExpectedSize(url string) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, job := range d.jobs {
		if job.URL == url && job.expectedSize >= 0 {
			return job.expectedSize, true
		}
	}
	return 0, false
}

// Snapshot 返回队列中全部任务的只读副本。
func (d *Downloader) Snapshot() []JobInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]JobInfo, 0, len(d.jobs))
	for _, job := range d.jobs {
		out = append(out, job.info())
	}
	return out
}

// Run 驱动调度循环直到 ctx 结束。每个 tick 选出 lastRun 最早且已过重试时间的任务，
// 在监督下执行一次传输。
func (d *Downloader) Run(ctx context.Context) error {
	logging.Component(d.logger, "downloader").WithFields(logrus.Fields{
		"action":          "downloader_start",
		"tick":            d.opts.Tick.String(),
		"fairness_window": d.opts.FairnessWindow.String(),
		"rate_limit":      d.opts.RateLimit,
	}).Info("downloader_started")

	ticker := time.NewTicker(d.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Component(d.logger, "downloader").WithField("action", "downloader_stop").Info("downloader_stopped")
			return nil
		case <-ticker.C:
		}

		job := d.next()
		if job == nil {
			continue
		}
		result := d.supervise(ctx, job)
		d.settle(job, result)
	}
}

func (d *Downloader) find(url string) *Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, job := range d.jobs {
		if job.URL == url {
			return job
		}
	}
	return nil
}

// next 选出下一个可运行任务并标记为运行中。
func (d *Downloader) next() *Job {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var picked *Job
	for _, job := range d.jobs {
		if !job.nextRetry.IsZero() && now.Before(job.nextRetry) {
			continue
		}
		if picked == nil || job.lastRun.Before(picked.lastRun) {
			picked = job
		}
	}
	if picked == nil {
		return nil
	}
	picked.abort.Store(false)
	picked.lastRun = now
	picked.running = true
	return picked
}

// supervise 在后台执行传输，并按 Poll 周期检查公平窗口：
// 队列中还有其它任务且当前传输已运行超过窗口时，要求其让出。
func (d *Downloader) supervise(ctx context.Context, job *Job) transferResult {
	done := make(chan transferResult, 1)
	go func() {
		done <- d.transfer(ctx, job)
	}()

	started := d.now()
	poll := time.NewTicker(d.opts.Poll)
	defer poll.Stop()

	for {
		select {
		case result := <-done:
			return result
		case <-poll.C:
			if job.abort.Load() {
				continue
			}
			if d.queueLen() >= 2 && d.now().Sub(started) >= d.opts.FairnessWindow {
				job.abort.Store(true)
				d.logger.WithFields(d.jobFields(job)).
					WithField("action", "fairness").
					Info("download_yield_requested")
			}
		}
	}
}

// settle 根据传输结果更新任务状态；终态任务先回调再出队。
func (d *Downloader) settle(job *Job, result transferResult) {
	d.mu.Lock()
	job.running = false
	status := StatusCompleted
	switch result.outcome {
	case outcomeAborted:
		status = StatusSuspended
		job.retries++
		job.nextRetry = d.now().Add(d.opts.RetryBackoff)
	case outcomeError:
		job.retries++
		if job.retries > d.opts.MaxRetries {
			status = StatusFailed
		} else {
			status = StatusSuspended
			job.nextRetry = d.now().Add(d.opts.RetryBackoff)
		}
	}
	fields := logging.JobFields(job.ID, job.URL, job.offset, job.retries)
	d.mu.Unlock()

	metrics.DownloadsTotal.WithLabelValues(status.String()).Inc()
	entry := d.logger.WithFields(fields).WithFields(logrus.Fields{
		"action": "download",
		"status": status.String(),
	})
	if result.err != nil {
		entry = entry.WithError(result.err)
	}

	switch status {
	case StatusSuspended:
		if result.outcome == outcomeAborted {
			entry.Info("download_suspended")
		} else {
			entry.Warn("download_retry_scheduled")
		}
		return
	case StatusCompleted:
		entry.Info("download_completed")
	case StatusFailed:
		entry.Error("download_failed")
	}

	if job.onDone != nil {
		job.onDone(job, status)
	}
	d.remove(job)
}

func (d *Downloader) remove(job *Job) {
	d.mu.Lock()
	for i, existing := range d.jobs {
		if existing == job {
			d.jobs = append(d.jobs[:i], d.jobs[i+1:]...)
			break
		}
	}
	depth := len(d.jobs)
	d.mu.Unlock()
	metrics.QueueJobs.Set(float64(depth))
}

func (d *Downloader) queueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

func (d *Downloader) jobFields(job *Job) logrus.Fields {
	d.mu.Lock()
	defer d.mu.Unlock()
	return logging.JobFields(job.ID, job.URL, job.offset, job.retries)
}
