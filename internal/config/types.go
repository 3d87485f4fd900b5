package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听端口、日志、缓存根目录与对外地址。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	PublicHost      string   `mapstructure:"PublicHost"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	MaxCacheItems   int      `mapstructure:"MaxCacheItems"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	UserAgent       string   `mapstructure:"UserAgent"`
	RequestRate     float64  `mapstructure:"RequestRate"`
	RequestBurst    int      `mapstructure:"RequestBurst"`
}

// DownloadConfig 控制后台下载队列的节奏、重试与限速。
type DownloadConfig struct {
	Tick              Duration `mapstructure:"Tick"`
	Poll              Duration `mapstructure:"Poll"`
	FairnessWindow    Duration `mapstructure:"FairnessWindow"`
	RetryBackoff      Duration `mapstructure:"RetryBackoff"`
	MaxRetries        int      `mapstructure:"MaxRetries"`
	ChunkSize         int      `mapstructure:"ChunkSize"`
	RateLimit         int64    `mapstructure:"RateLimit"`
	FetchStartTimeout Duration `mapstructure:"FetchStartTimeout"`
	StreamRetryDelay  Duration `mapstructure:"StreamRetryDelay"`
	StreamIdleTimeout Duration `mapstructure:"StreamIdleTimeout"`
}

// SourceConfig 指定播放列表来源，本地文件与 HTTP 地址二选一。
type SourceConfig struct {
	PlaylistFile string   `mapstructure:"PlaylistFile"`
	PlaylistURL  string   `mapstructure:"PlaylistURL"`
	SyncInterval Duration `mapstructure:"SyncInterval"`
}

// Enabled 表示是否配置了任意播放列表来源。
func (s SourceConfig) Enabled() bool {
	return strings.TrimSpace(s.PlaylistFile) != "" || strings.TrimSpace(s.PlaylistURL) != ""
}

// Kind 输出 file/http/none，供日志字段使用。
func (s SourceConfig) Kind() string {
	switch {
	case strings.TrimSpace(s.PlaylistURL) != "":
		return "http"
	case strings.TrimSpace(s.PlaylistFile) != "":
		return "file"
	default:
		return "none"
	}
}

// ClassifyConfig 是播放列表条目分类所用的正则集合。
type ClassifyConfig struct {
	Skip       []string `mapstructure:"Skip"`
	GroupStrip []string `mapstructure:"GroupStrip"`
	Season     []string `mapstructure:"Season"`
	Episode    []string `mapstructure:"Episode"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	Download DownloadConfig `mapstructure:"Download"`
	Source   SourceConfig   `mapstructure:"Source"`
	Classify ClassifyConfig `mapstructure:"Classify"`
}

// BaseURL 返回写入 .strm 与代理播放列表的对外地址前缀。
func (c *Config) BaseURL() string {
	host := strings.TrimSpace(c.Global.PublicHost)
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Global.ListenPort)
}
