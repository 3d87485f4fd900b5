package cache

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"time"
)

// PartialSource 为单个请求提供对 final/temp 文件对的统一读取视图。
// 每次 Read 都会重新判断当前存在的是哪一个文件，因此文件在读取过程中
// 被重命名为最终文件也不影响游标。实例不可在多个 goroutine 间共享。
type PartialSource struct {
	entry  Entry
	cursor int64
}

// NewPartialSource 创建游标位于 0 的读取器。
func NewPartialSource(entry Entry) *PartialSource {
	return &PartialSource{entry: entry}
}

// Seek 设置下一次读取的起点，只在开始流式输出前调用。
func (p *PartialSource) Seek(offset int64) {
	if offset < 0 {
		offset = 0
	}
	p.cursor = offset
}

// Cursor 返回已经读到的位置。
func (p *PartialSource) Cursor() int64 {
	return p.cursor
}

// Read 打开当前可用的文件、定位到游标、读取后立即关闭句柄。
//   - 最终文件读到 0 字节：返回 io.EOF，读取结束；
//   - 临时文件读到 0 字节：返回 ErrNotReady，调用方应等待后重试；
//   - 两者都不存在：返回 ErrNotFound。
func (p *PartialSource) Read(buf []byte) (int, error) {
	for attempt := 0; attempt < 2; attempt++ {
		n, err := p.readOnce(buf)
		if errors.Is(err, errVanished) {
			// temp 在 Stat 与 Open 之间被重命名，重新判断一次。
			continue
		}
		return n, err
	}
	return 0, ErrNotFound
}

var errVanished = errors.New("cache file vanished")

func (p *PartialSource) readOnce(buf []byte) (int, error) {
	path, final, err := p.resolve()
	if err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, errVanished
		}
		return 0, err
	}
	defer f.Close()

	if _, err := f.Seek(p.cursor, io.SeekStart); err != nil {
		return 0, err
	}

	n, err := f.Read(buf)
	if n > 0 {
		p.cursor += int64(n)
		return n, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	if final {
		return 0, io.EOF
	}
	return 0, ErrNotReady
}

func (p *PartialSource) resolve() (string, bool, error) {
	if isRegular(p.entry.Final) {
		return p.entry.Final, true, nil
	}
	if isRegular(p.entry.Temp) {
		return p.entry.Temp, false, nil
	}
	return "", false, ErrNotFound
}

// Touch 刷新当前所读文件的访问时间。
func (p *PartialSource) Touch() error {
	path, _, err := p.resolve()
	if err != nil {
		return err
	}
	now := time.Now()
	return os.Chtimes(path, now, now)
}
