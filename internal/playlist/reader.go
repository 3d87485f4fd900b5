package playlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jamesnetherton/m3u"
)

// Load 解析本地 m3u 文件并分类，跳过的条目不出现在结果中。
func Load(path string, classifier *Classifier) ([]Entry, int, error) {
	parsed, err := m3u.Parse(path)
	if err != nil {
		return nil, 0, fmt.Errorf("parse playlist %s: %w", path, err)
	}

	entries := make([]Entry, 0, len(parsed.Tracks))
	skipped := 0
	for _, track := range parsed.Tracks {
		entry, ok := classifier.Classify(track)
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	return entries, skipped, nil
}

// Fetch 下载远端播放列表到 dest，写入临时文件后重命名，避免解析到半截内容。
func Fetch(ctx context.Context, client *http.Client, rawURL, dest, userAgent string) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch playlist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("fetch playlist: upstream status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write playlist: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
