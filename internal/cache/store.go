package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"strings"
	"time"
)

// TempSuffix 标记下载中的临时文件，Evictor 与 List 永远跳过这类文件。
const TempSuffix = ".tmp"

const maxExtensionLen = 8

// ErrNotFound 表示缓存文件（最终文件与临时文件）都不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrNotReady 表示临时文件暂时没有新数据，调用方应稍后重试而不是结束读取。
var ErrNotReady = errors.New("cache entry has no new data yet")

// State 描述缓存条目的物理状态。
type State int

const (
	StateAbsent State = iota
	StateFilling
	StateFinal
)

func (s State) String() string {
	switch s {
	case StateFilling:
		return "filling"
	case StateFinal:
		return "final"
	default:
		return "absent"
	}
}

// Entry 定位一个缓存条目：同一 URL 永远映射到同一对 final/temp 路径。
type Entry struct {
	URL         string
	Fingerprint string
	Final       string
	Temp        string
}

// FileInfo 是 List 返回的最终文件描述，AccessTime 作为淘汰排序依据。
type FileInfo struct {
	Path       string
	Name       string
	SizeBytes  int64
	AccessTime time.Time
}

// Fingerprint 返回 URL 的 SHA-1 十六进制摘要，跨进程、跨重启保持稳定。
func Fingerprint(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// FileName 由指纹与原始扩展名组成缓存文件名，例如 "<sha1>.mkv"。
func FileName(rawURL string) string {
	return Fingerprint(rawURL) + extension(rawURL)
}

// extension 仅保留 [a-z0-9] 且不超过 8 个字符的扩展名，保证文件名安全。
func extension(rawURL string) string {
	p := rawURL
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		p = parsed.Path
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	if ext == "" || len(ext) > maxExtensionLen {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return "." + ext
}
