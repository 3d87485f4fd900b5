package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 默认的剧集识别规则，匹配 "S01"、"E02" 以及 "S01E02" 这类常见写法。
var (
	defaultSeasonPatterns  = []string{`(?i)\bS(\d{1,2})(?:\s*E\d{1,3})?\b`}
	defaultEpisodePatterns = []string{`(?i)\bS\d{1,2}\s*E(\d{1,3})\b`, `(?i)\bE(\d{1,3})\b`}
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyDownloadDefaults(&cfg.Download)
	applySourceDefaults(&cfg.Source)
	applyClassifyDefaults(&cfg.Classify)

	if err := expandPaths(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析存储目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("PublicHost", "127.0.0.1")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("MaxCacheItems", 20)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("RequestRate", 0)
	v.SetDefault("RequestBurst", 20)

	v.SetDefault("Download.Tick", "1s")
	v.SetDefault("Download.Poll", "1s")
	v.SetDefault("Download.FairnessWindow", "30s")
	v.SetDefault("Download.RetryBackoff", "5s")
	v.SetDefault("Download.MaxRetries", 3)
	v.SetDefault("Download.ChunkSize", 64*1024)
	v.SetDefault("Download.RateLimit", 0)
	v.SetDefault("Download.FetchStartTimeout", "15s")
	v.SetDefault("Download.StreamRetryDelay", "2s")
	v.SetDefault("Download.StreamIdleTimeout", "2m")

	v.SetDefault("Source.SyncInterval", "6h")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.PublicHost) == "" {
		g.PublicHost = "127.0.0.1"
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.RequestBurst <= 0 {
		g.RequestBurst = 20
	}
}

func applyDownloadDefaults(d *DownloadConfig) {
	if d.Tick.DurationValue() == 0 {
		d.Tick = Duration(time.Second)
	}
	if d.Poll.DurationValue() == 0 {
		d.Poll = Duration(time.Second)
	}
	if d.FairnessWindow.DurationValue() == 0 {
		d.FairnessWindow = Duration(30 * time.Second)
	}
	if d.RetryBackoff.DurationValue() == 0 {
		d.RetryBackoff = Duration(5 * time.Second)
	}
	if d.ChunkSize == 0 {
		d.ChunkSize = 64 * 1024
	}
	if d.FetchStartTimeout.DurationValue() == 0 {
		d.FetchStartTimeout = Duration(15 * time.Second)
	}
	if d.StreamRetryDelay.DurationValue() == 0 {
		d.StreamRetryDelay = Duration(2 * time.Second)
	}
	if d.StreamIdleTimeout.DurationValue() == 0 {
		d.StreamIdleTimeout = Duration(2 * time.Minute)
	}
}

func applySourceDefaults(s *SourceConfig) {
	s.PlaylistFile = strings.TrimSpace(s.PlaylistFile)
	s.PlaylistURL = strings.TrimSpace(s.PlaylistURL)
	if s.SyncInterval.DurationValue() == 0 {
		s.SyncInterval = Duration(6 * time.Hour)
	}
}

func applyClassifyDefaults(c *ClassifyConfig) {
	if len(c.Season) == 0 {
		c.Season = append([]string(nil), defaultSeasonPatterns...)
	}
	if len(c.Episode) == 0 {
		c.Episode = append([]string(nil), defaultEpisodePatterns...)
	}
}

// expandPaths 展开配置中以 ~ 开头的路径，便于在不同用户目录下复用同一份配置。
func expandPaths(cfg *Config) error {
	targets := []struct {
		field string
		value *string
	}{
		{"Global.StoragePath", &cfg.Global.StoragePath},
		{"Global.LogFilePath", &cfg.Global.LogFilePath},
		{"Source.PlaylistFile", &cfg.Source.PlaylistFile},
	}
	for _, target := range targets {
		if *target.value == "" {
			continue
		}
		expanded, err := homedir.Expand(*target.value)
		if err != nil {
			return newFieldError(target.field, fmt.Sprintf("无法展开路径: %v", err))
		}
		*target.value = expanded
	}
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
