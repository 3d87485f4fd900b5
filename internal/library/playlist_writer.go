package library

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jamesnetherton/m3u"

	"github.com/any-hub/vod-cache/internal/playlist"
)

// WritePlaylist 输出指向本地代理的播放列表，整体写入临时文件后替换。
func WritePlaylist(path string, entries []playlist.Entry, baseURL string) error {
	out := m3u.Playlist{Tracks: make([]m3u.Track, 0, len(entries))}
	for _, entry := range entries {
		out.Tracks = append(out.Tracks, m3u.Track{
			Name:   entry.Name,
			Length: entry.Length,
			URI:    proxyURL(baseURL, entry.URL),
			Tags:   entry.SortedTags(),
		})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	writeErr := m3u.MarshallInto(out, bufio.NewWriter(tmp))
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write proxied playlist: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
