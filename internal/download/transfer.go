package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/vod-cache/internal/metrics"
)

type outcome int

const (
	outcomeDone outcome = iota
	outcomeAborted
	outcomeError
)

type transferResult struct {
	outcome outcome
	err     error
}

// StatusError 表示上游返回了无法继续传输的状态码。
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.Code)
}

// RangeMismatchError 表示上游 206 响应的起点与请求的续传偏移量不一致。
type RangeMismatchError struct {
	Want int64
	Got  int64
}

func (e *RangeMismatchError) Error() string {
	return fmt.Sprintf("upstream range starts at %d, want %d", e.Got, e.Want)
}

// transfer 从任务当前偏移量续传，直到读完、被中止或出错。
// 目标文件只在收到 2xx 响应后才创建，偏移量为 0 时截断重写。
func (d *Downloader) transfer(ctx context.Context, job *Job) transferResult {
	offset := d.offsetOf(job)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return transferResult{outcome: outcomeError, err: err}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	req.Header.Set("Accept-Encoding", "identity")
	if d.opts.UserAgent != "" {
		req.Header.Set("User-Agent", d.opts.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return transferResult{outcome: outcomeAborted}
		}
		return transferResult{outcome: outcomeError, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 {
		// 本地已有全部字节：上游以 */total 回应，total 等于偏移量。
		if total, ok := contentRangeTotal(resp.Header.Get("Content-Range")); ok && total == offset {
			d.setExpected(job, total)
			return transferResult{outcome: outcomeDone}
		}
		return transferResult{outcome: outcomeError, err: &StatusError{Code: resp.StatusCode}}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return transferResult{outcome: outcomeError, err: &StatusError{Code: resp.StatusCode}}
	}

	if resp.StatusCode == http.StatusPartialContent {
		// 206 的起点必须与本地偏移量一致，否则写入位置错位。
		if start, ok := contentRangeStart(resp.Header.Get("Content-Range")); ok && start != offset {
			return transferResult{outcome: outcomeError, err: &RangeMismatchError{Want: offset, Got: start}}
		}
	}
	if resp.StatusCode != http.StatusPartialContent && offset > 0 {
		// 上游忽略 Range，从头重新写入。
		offset = 0
		d.advance(job, 0)
	}
	expected := expectedSize(resp, offset)
	d.setExpected(job, expected)

	file, err := openDestination(job.Dest, offset)
	if err != nil {
		return transferResult{outcome: outcomeError, err: err}
	}
	defer file.Close()

	buf := make([]byte, d.opts.ChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return transferResult{outcome: outcomeError, err: err}
			}
			offset += int64(n)
			d.advance(job, offset)
			metrics.DownloadBytesTotal.Add(float64(n))
			if d.limiter != nil {
				if err := d.limiter.WaitN(ctx, n); err != nil {
					return transferResult{outcome: outcomeAborted}
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			if expected >= 0 && offset < expected {
				return transferResult{outcome: outcomeError, err: io.ErrUnexpectedEOF}
			}
			return transferResult{outcome: outcomeDone}
		}
		if job.abort.Load() || ctx.Err() != nil {
			return transferResult{outcome: outcomeAborted}
		}
		if readErr != nil {
			return transferResult{outcome: outcomeError, err: readErr}
		}
	}
}

func openDestination(path string, offset int64) (*os.File, error) {
	if offset == 0 {
		return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// expectedSize 优先使用 Content-Range 中的总长度，其次为 offset + Content-Length。
func expectedSize(resp *http.Response, offset int64) int64 {
	if resp.StatusCode == http.StatusPartialContent {
		if total, ok := contentRangeTotal(resp.Header.Get("Content-Range")); ok {
			return total
		}
		if resp.ContentLength >= 0 {
			return offset + resp.ContentLength
		}
		return -1
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	return -1
}

// contentRangeTotal 解析 "bytes a-b/total" 或 "bytes */total" 中的 total。
func contentRangeTotal(header string) (int64, bool) {
	header = strings.TrimSpace(header)
	idx := strings.LastIndexByte(header, '/')
	if idx < 0 || idx == len(header)-1 {
		return 0, false
	}
	raw := header[idx+1:]
	if raw == "*" {
		return 0, false
	}
	total, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || total < 0 {
		return 0, false
	}
	return total, true
}

// contentRangeStart 解析 "bytes a-b/total" 中的 a；"bytes */total" 没有起点。
func contentRangeStart(header string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, false
	}
	first, _, ok := strings.Cut(strings.TrimSpace(rest), "-")
	if !ok {
		return 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, false
	}
	return start, true
}

func (d *Downloader) offsetOf(job *Job) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return job.offset
}

// advance 记录新的偏移量；有进展即清零重试计数。
func (d *Downloader) advance(job *Job, offset int64) {
	d.mu.Lock()
	job.offset = offset
	if offset > 0 {
		job.retries = 0
		job.nextRetry = time.Time{}
	}
	d.mu.Unlock()
}

func (d *Downloader) setExpected(job *Job, size int64) {
	d.mu.Lock()
	job.expectedSize = size
	d.mu.Unlock()
}
