package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/any-hub/vod-cache/internal/playlist"
	"github.com/any-hub/vod-cache/internal/proxy"
)

const defaultWriteConcurrency = 16

// StrmBuilder 为每个条目写出 .strm 文件，内容为指向本地代理的地址。
type StrmBuilder struct {
	layout      Layout
	baseURL     string
	concurrency int
}

func NewStrmBuilder(layout Layout, baseURL string, concurrency int) *StrmBuilder {
	if concurrency <= 0 {
		concurrency = defaultWriteConcurrency
	}
	return &StrmBuilder{
		layout:      layout,
		baseURL:     strings.TrimRight(baseURL, "/"),
		concurrency: concurrency,
	}
}

// BaseURL 返回 .strm 内容使用的代理地址前缀。
func (b *StrmBuilder) BaseURL() string {
	return b.baseURL
}

func proxyURL(baseURL, rawURL string) string {
	return strings.TrimRight(baseURL, "/") + "/" + proxy.EncodeToken(rawURL)
}

// Build 并发写出全部 .strm 文件。同一路径只写一次，其余计为重复。
func (b *StrmBuilder) Build(ctx context.Context, entries []playlist.Entry) (Summary, error) {
	var (
		summary Summary
		movies  atomic.Int64
		shows   atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		target := b.targetPath(entry)
		if _, dup := seen[target]; dup {
			summary.Duplicates++
			continue
		}
		seen[target] = struct{}{}

		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := b.write(target, entry.URL); err != nil {
				return err
			}
			if entry.ItemType == playlist.TVShow {
				shows.Add(1)
			} else {
				movies.Add(1)
			}
			return nil
		})
	}

	err := g.Wait()
	summary.Movies = int(movies.Load())
	summary.TVShows = int(shows.Load())
	if err == nil {
		err = ctx.Err()
	}
	return summary, err
}

func (b *StrmBuilder) targetPath(entry playlist.Entry) string {
	base := b.layout.MovieDir()
	if entry.ItemType == playlist.TVShow {
		base = b.layout.TVShowDir()
	}
	name := strings.ReplaceAll(entry.Name, "/", " ") + ".strm"
	return filepath.Join(base, entry.GroupName, name)
}

func (b *StrmBuilder) write(target, rawURL string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}
	if err := os.WriteFile(target, []byte(proxyURL(b.baseURL, rawURL)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}
