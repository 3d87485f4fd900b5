package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/vod-cache/internal/cache"
	"github.com/any-hub/vod-cache/internal/download"
	"github.com/any-hub/vod-cache/internal/logging"
	"github.com/any-hub/vod-cache/internal/metrics"
	"github.com/any-hub/vod-cache/internal/server"
)

const (
	cacheStatusHit     = "HIT"
	cacheStatusFilling = "FILLING"
	cacheStatusMiss    = "MISS"
)

var (
	errFetchStartTimeout = errors.New("fetch start timeout")
	errClientGone        = errors.New("client closed connection")
	errOrphaned          = errors.New("temp file stalled without download job")
	errStreamIdle        = errors.New("no new data within stream idle timeout")
)

// Fetcher 是 Handler 依赖的下载队列能力，*download.Downloader 即可满足。
type Fetcher interface {
	Enqueue(url, dest string, onDone download.Callback) *download.Job
	EnqueueFrom(url, dest string, offset int64, onDone download.Callback) *download.Job
	IsInProgress(url string) bool
	ExpectedSize(url string) (int64, bool)
}

// Options 控制等待与流式读取节奏。
type Options struct {
	// FetchStartTimeout 为等待首个字节落盘的上限。
	FetchStartTimeout time.Duration
	WaitInterval      time.Duration
	// StreamRetryDelay 为读到增长中文件末尾后的等待时间。
	StreamRetryDelay time.Duration
	// StreamIdleTimeout 为游标无进展时保持连接的上限，超时后结束本次响应，下载任务不受影响。
	StreamIdleTimeout time.Duration
	ReadBufferSize    int
}

func (o Options) withDefaults() Options {
	if o.FetchStartTimeout <= 0 {
		o.FetchStartTimeout = 15 * time.Second
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 200 * time.Millisecond
	}
	if o.StreamRetryDelay <= 0 {
		o.StreamRetryDelay = 2 * time.Second
	}
	if o.StreamIdleTimeout <= 0 {
		o.StreamIdleTimeout = 2 * time.Minute
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 256 * 1024
	}
	return o
}

// Handler 把 /<token> 请求映射到磁盘缓存：命中直接读，未命中交给下载队列并边下边播。
type Handler struct {
	store      *cache.Store
	downloader Fetcher
	evictor    *cache.Evictor
	logger     *logrus.Logger
	opts       Options

	admission singleflight.Group
}

// NewHandler constructs a media handler sharing the store, download queue and evictor.
func NewHandler(store *cache.Store, downloader Fetcher, evictor *cache.Evictor, logger *logrus.Logger, opts Options) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		store:      store,
		downloader: downloader,
		evictor:    evictor,
		logger:     logger,
		opts:       opts.withDefaults(),
	}
}

// requestLog 汇总一次请求的日志与指标字段，流式输出结束后在写入 goroutine 中落盘。
type requestLog struct {
	requestID   string
	method      string
	rangeHeader string
	fingerprint string
	cacheState  string
	status      int
	started     time.Time
}

// Handle 执行令牌解析、Range 校验、缓存准入与流式输出。
func (h *Handler) Handle(c fiber.Ctx) error {
	rec := requestLog{
		requestID:   server.RequestID(c),
		method:      c.Method(),
		rangeHeader: strings.TrimSpace(string(c.Request().Header.Peek(fiber.HeaderRange))),
		started:     time.Now(),
	}

	rawURL, err := DecodeToken(tokenFromPath(string(c.Request().URI().Path())))
	if err != nil {
		rec.status = fiber.StatusBadRequest
		h.logResult(rec, 0, err)
		return writeError(c, rec.status, "invalid_token")
	}

	var requested *byteRange
	if rec.rangeHeader != "" {
		parsed, err := parseRange(rec.rangeHeader)
		if err != nil {
			rec.status = fiber.StatusRequestedRangeNotSatisfiable
			h.logResult(rec, 0, err)
			return writeError(c, rec.status, "range_not_satisfiable")
		}
		requested = &parsed
	}

	entry := h.store.Entry(rawURL)
	rec.fingerprint = entry.Fingerprint

	cacheState, err := h.admit(entry)
	rec.cacheState = cacheState
	if err != nil {
		rec.status = fiber.StatusGatewayTimeout
		h.logResult(rec, 0, err)
		return writeError(c, rec.status, "fetch_start_timeout")
	}

	release := h.store.Acquire(entry.Final)
	if cacheState == cacheStatusHit {
		_ = h.store.Touch(entry.Final)
	}

	total := h.totalSize(entry)

	c.Set(fiber.HeaderContentType, contentTypeFor(rawURL))
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set("X-Cache-Status", cacheState)

	start, end := int64(0), int64(-1)
	contentLength := total
	rec.status = fiber.StatusOK
	if requested != nil {
		var ok bool
		start, end, ok = requested.resolve(total)
		if !ok {
			if total >= 0 {
				c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes */%d", total))
			} else {
				c.Set(fiber.HeaderContentRange, "bytes */*")
			}
			rec.status = fiber.StatusRequestedRangeNotSatisfiable
			h.finish(rec, release, 0, errInvalidRange)
			return c.SendStatus(rec.status)
		}
		rec.status = fiber.StatusPartialContent
		switch {
		case total >= 0:
			c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes %d-%d/%d", start, end, total))
			contentLength = end - start + 1
		case end >= 0:
			c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes %d-%d/*", start, end))
			contentLength = -1
		default:
			c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes %d-*/*", start))
			contentLength = -1
		}
	}
	c.Status(rec.status)

	if rec.method == fiber.MethodHead {
		if contentLength >= 0 {
			c.Response().Header.SetContentLength(int(contentLength))
		}
		c.Response().SkipBody = true
		h.finish(rec, release, 0, nil)
		return nil
	}

	source := cache.NewPartialSource(entry)
	source.Seek(start)
	alive := peerAlive(c.RequestCtx().Conn())
	if err := c.SendStreamWriter(func(w *bufio.Writer) {
		sent, streamErr := h.pump(w, source, entry, end, alive)
		h.finish(rec, release, sent, streamErr)
	}); err != nil {
		h.finish(rec, release, 0, err)
		return err
	}
	if contentLength >= 0 {
		c.Response().Header.SetContentLength(int(contentLength))
	}
	return nil
}

// admit 确保 URL 对应的缓存文件存在或正在下载，同一指纹的并发请求只执行一次。
func (h *Handler) admit(entry cache.Entry) (string, error) {
	value, err, _ := h.admission.Do(entry.Fingerprint, func() (any, error) {
		return h.admitOnce(entry)
	})
	state, _ := value.(string)
	if state == "" {
		state = cacheStatusMiss
	}
	return state, err
}

func (h *Handler) admitOnce(entry cache.Entry) (string, error) {
	switch h.store.State(entry) {
	case cache.StateFinal:
		return cacheStatusHit, nil
	case cache.StateFilling:
		if h.downloader.IsInProgress(entry.URL) {
			return cacheStatusFilling, nil
		}
		size, err := h.store.Size(entry.Temp)
		if err == nil {
			job := h.downloader.EnqueueFrom(entry.URL, entry.Temp, size, h.completion(entry))
			h.logger.WithFields(logging.JobFields(job.ID, entry.URL, size, 0)).
				WithField("action", "admit").
				Info("cache_orphan_resumed")
			return cacheStatusFilling, nil
		}
		if h.store.State(entry) == cache.StateFinal {
			return cacheStatusHit, nil
		}
	}

	if !h.downloader.IsInProgress(entry.URL) {
		h.downloader.Enqueue(entry.URL, entry.Temp, h.completion(entry))
	}
	if err := h.waitForData(entry); err != nil {
		return cacheStatusMiss, err
	}
	return cacheStatusMiss, nil
}

// waitForData 先休眠再检查，直到 temp 或 final 文件出现。超时后任务仍留在队列中。
func (h *Handler) waitForData(entry cache.Entry) error {
	deadline := time.Now().Add(h.opts.FetchStartTimeout)
	for {
		time.Sleep(h.opts.WaitInterval)
		if h.store.State(entry) != cache.StateAbsent {
			return nil
		}
		if !time.Now().Before(deadline) {
			return errFetchStartTimeout
		}
	}
}

// completion 在下载终态时落盘或清理临时文件。
func (h *Handler) completion(entry cache.Entry) download.Callback {
	return func(job *download.Job, status download.Status) {
		fields := logrus.Fields{
			"action":      "finalize",
			"fingerprint": entry.Fingerprint,
			"job_id":      job.ID,
		}
		switch status {
		case download.StatusCompleted:
			if err := h.store.Finalize(entry); err != nil {
				h.logger.WithError(err).WithFields(fields).Error("cache_finalize_failed")
				return
			}
			h.logger.WithFields(fields).Info("cache_finalized")
		case download.StatusFailed:
			if err := h.store.Discard(entry); err != nil {
				h.logger.WithError(err).WithFields(fields).Warn("cache_discard_failed")
				return
			}
			h.logger.WithFields(fields).Info("cache_discarded")
		}
	}
}

// totalSize 最终文件以磁盘大小为准；下载中的条目取任务声明的总长度，未知时返回 -1。
func (h *Handler) totalSize(entry cache.Entry) int64 {
	if h.store.State(entry) == cache.StateFinal {
		if size, err := h.store.Size(entry.Final); err == nil {
			return size
		}
	}
	if size, ok := h.downloader.ExpectedSize(entry.URL); ok {
		return size
	}
	return -1
}

// pump 把缓存内容写给客户端，end 为闭区间终点（-1 表示读到文件结束）。
// 写入 goroutine 与请求上下文分离，这里不能再访问 fiber.Ctx；
// 等待新数据期间每轮都通过 alive 检查客户端是否已断开。
func (h *Handler) pump(w *bufio.Writer, source *cache.PartialSource, entry cache.Entry, end int64, alive func() bool) (int64, error) {
	buf := make([]byte, h.opts.ReadBufferSize)
	var sent int64
	idle := 0
	lastProgress := time.Now()

	for {
		chunk := buf
		if end >= 0 {
			remain := end - source.Cursor() + 1
			if remain <= 0 {
				return sent, nil
			}
			if remain < int64(len(chunk)) {
				chunk = chunk[:remain]
			}
		}

		n, err := source.Read(chunk)
		if n > 0 {
			idle = 0
			lastProgress = time.Now()
			if _, werr := w.Write(chunk[:n]); werr != nil {
				return sent, errClientGone
			}
			if ferr := w.Flush(); ferr != nil {
				return sent, errClientGone
			}
			sent += int64(n)
			continue
		}

		switch {
		case errors.Is(err, cache.ErrNotReady):
			if !alive() {
				return sent, errClientGone
			}
			if time.Since(lastProgress) >= h.opts.StreamIdleTimeout {
				return sent, errStreamIdle
			}
			if h.downloader.IsInProgress(entry.URL) {
				idle = 0
			} else {
				idle++
				if idle >= 2 {
					return sent, errOrphaned
				}
			}
			time.Sleep(h.opts.StreamRetryDelay)
		case errors.Is(err, io.EOF):
			// 读到最终文件末尾时刷新访问时间。
			_ = source.Touch()
			return sent, nil
		case err == nil:
			continue
		default:
			return sent, err
		}
	}
}

// finish 释放读租约、触发淘汰，并记录指标与日志。
func (h *Handler) finish(rec requestLog, release func(), sent int64, err error) {
	release()
	if h.evictor != nil {
		h.evictor.Run()
	}
	h.logResult(rec, sent, err)
}

func (h *Handler) logResult(rec requestLog, sent int64, err error) {
	metrics.RequestsTotal.WithLabelValues(rec.method, strconv.Itoa(rec.status), strings.ToLower(rec.cacheState)).Inc()
	if sent > 0 {
		metrics.BytesServedTotal.Add(float64(sent))
	}

	fields := logging.RequestFields(rec.fingerprint, rec.method, rec.cacheState, rec.rangeHeader)
	fields["action"] = "proxy"
	fields["status"] = rec.status
	fields["bytes"] = sent
	fields["elapsed_ms"] = time.Since(rec.started).Milliseconds()
	if rec.requestID != "" {
		fields["request_id"] = rec.requestID
	}

	switch {
	case err == nil:
		h.logger.WithFields(fields).Info("proxy_complete")
	case errors.Is(err, errClientGone):
		fields["client_closed"] = true
		h.logger.WithFields(fields).Info("proxy_complete")
	default:
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("proxy_failed")
	}
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

// tokenFromPath 取路径的第一段作为令牌，后续段落（如附加的文件名）忽略。
func tokenFromPath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if idx := strings.IndexByte(p, '/'); idx >= 0 {
		p = p[:idx]
	}
	return p
}
