package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxCacheItems < 0 {
		return newFieldError("Global.MaxCacheItems", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.RequestRate < 0 {
		return newFieldError("Global.RequestRate", "不能为负数")
	}
	if strings.ContainsAny(g.PublicHost, "/ ") {
		return newFieldError("Global.PublicHost", "不允许包含路径或空格")
	}

	if err := c.Download.validate(); err != nil {
		return err
	}
	if err := c.Source.validate(); err != nil {
		return err
	}
	return c.Classify.validate()
}

func (d DownloadConfig) validate() error {
	durations := []struct {
		field string
		value Duration
	}{
		{"Download.Tick", d.Tick},
		{"Download.Poll", d.Poll},
		{"Download.FairnessWindow", d.FairnessWindow},
		{"Download.RetryBackoff", d.RetryBackoff},
		{"Download.FetchStartTimeout", d.FetchStartTimeout},
		{"Download.StreamRetryDelay", d.StreamRetryDelay},
		{"Download.StreamIdleTimeout", d.StreamIdleTimeout},
	}
	for _, item := range durations {
		if item.value.DurationValue() <= 0 {
			return newFieldError(item.field, "必须大于 0")
		}
	}
	if d.MaxRetries < 0 {
		return newFieldError("Download.MaxRetries", "不能为负数")
	}
	if d.ChunkSize < 1024 {
		return newFieldError("Download.ChunkSize", "不能小于 1024")
	}
	if d.RateLimit < 0 {
		return newFieldError("Download.RateLimit", "不能为负数")
	}
	if d.RateLimit > 0 && d.RateLimit < int64(d.ChunkSize) {
		return newFieldError("Download.RateLimit", "不能小于 ChunkSize")
	}
	return nil
}

func (s SourceConfig) validate() error {
	if s.PlaylistFile != "" && s.PlaylistURL != "" {
		return newFieldError("Source.PlaylistFile/PlaylistURL", "只能二选一")
	}
	if s.PlaylistURL != "" {
		if err := validateUpstream(s.PlaylistURL); err != nil {
			return fmt.Errorf("Source.PlaylistURL: %w", err)
		}
	}
	if s.Enabled() && s.SyncInterval.DurationValue() <= 0 {
		return newFieldError("Source.SyncInterval", "必须大于 0")
	}
	return nil
}

func (c ClassifyConfig) validate() error {
	groups := []struct {
		field    string
		patterns []string
	}{
		{"Classify.Skip", c.Skip},
		{"Classify.GroupStrip", c.GroupStrip},
		{"Classify.Season", c.Season},
		{"Classify.Episode", c.Episode},
	}
	for _, group := range groups {
		for idx, pattern := range group.patterns {
			if _, err := regexp.Compile(pattern); err != nil {
				return newFieldError(listField(group.field, idx), fmt.Sprintf("正则无效: %v", err))
			}
		}
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
