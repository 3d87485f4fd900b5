package download

import (
	"sync/atomic"
	"time"
)

// Status 是一次传输结束后的结果。
type Status int

const (
	// StatusSuspended 表示传输被中止或遇到可重试错误，任务保留在队列中等待续传。
	StatusSuspended Status = iota
	// StatusCompleted 表示远端内容已完整写入目标文件。
	StatusCompleted
	// StatusFailed 表示重试次数超过上限，任务被移出队列。
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "suspended"
	}
}

// Callback 在任务到达终态（完成或失败）时调用，不在持锁状态下执行。
type Callback func(job *Job, status Status)

// Job 是一个可重试、可续传的下载单元，对应一个目标文件。
// 除 abort 外的可变字段只在持有 Downloader.mu 时读写。
type Job struct {
	ID   string
	URL  string
	Dest string

	onDone Callback
	abort  atomic.Bool

	offset       int64
	expectedSize int64
	lastRun      time.Time
	nextRetry    time.Time
	retries      int
	running      bool
	createdAt    time.Time
}

// Abort 请求传输在下一个分块边界停止，保留已写入的数据。
func (j *Job) Abort() {
	j.abort.Store(true)
}

// AbortRequested 返回中止标记的当前值。
func (j *Job) AbortRequested() bool {
	return j.abort.Load()
}

// JobInfo 是任务的只读快照，供诊断接口输出。
type JobInfo struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Dest         string     `json:"dest"`
	Offset       int64      `json:"offset"`
	ExpectedSize int64      `json:"expected_size"`
	Retries      int        `json:"retries"`
	Running      bool       `json:"running"`
	Aborting     bool       `json:"aborting"`
	CreatedAt    time.Time  `json:"created_at"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	NextRetry    *time.Time `json:"next_retry,omitempty"`
}

func (j *Job) info() JobInfo {
	info := JobInfo{
		ID:           j.ID,
		URL:          j.URL,
		Dest:         j.Dest,
		Offset:       j.offset,
		ExpectedSize: j.expectedSize,
		Retries:      j.retries,
		Running:      j.running,
		Aborting:     j.abort.Load(),
		CreatedAt:    j.createdAt,
	}
	if !j.lastRun.IsZero() {
		lastRun := j.lastRun
		info.LastRun = &lastRun
	}
	if !j.nextRetry.IsZero() {
		nextRetry := j.nextRetry
		info.NextRetry = &nextRetry
	}
	return info
}
