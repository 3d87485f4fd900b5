// Package library turns a classified playlist into a media-server friendly
// tree of .strm files plus a rewritten playlist whose URLs point back at the
// local cache proxy.
package library

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout 描述存储根目录下的固定结构。
type Layout struct {
	Root string
}

func (l Layout) CacheDir() string        { return filepath.Join(l.Root, "cache") }
func (l Layout) MovieDir() string        { return filepath.Join(l.Root, "movie") }
func (l Layout) TVShowDir() string       { return filepath.Join(l.Root, "tvshow") }
func (l Layout) PlaylistFile() string    { return filepath.Join(l.Root, "playlist.m3u") }
func (l Layout) ProxiedPlaylist() string { return filepath.Join(l.Root, "proxied.m3u") }

// Prepare 创建缓存与媒体目录。
func (l Layout) Prepare() error {
	for _, dir := range []string{l.Root, l.CacheDir(), l.MovieDir(), l.TVShowDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Clear 清空电影与剧集目录，缓存目录不受影响。
func (l Layout) Clear() error {
	for _, dir := range []string{l.MovieDir(), l.TVShowDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clear %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
