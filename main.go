package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/vod-cache/internal/cache"
	"github.com/any-hub/vod-cache/internal/config"
	"github.com/any-hub/vod-cache/internal/download"
	"github.com/any-hub/vod-cache/internal/library"
	"github.com/any-hub/vod-cache/internal/logging"
	"github.com/any-hub/vod-cache/internal/metrics"
	"github.com/any-hub/vod-cache/internal/playlist"
	"github.com/any-hub/vod-cache/internal/proxy"
	"github.com/any-hub/vod-cache/internal/server"
	"github.com/any-hub/vod-cache/internal/server/routes"
	"github.com/any-hub/vod-cache/internal/version"
)

const configEnv = "VOD_CACHE_CONFIG"

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	syncOnly    bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute 解析参数并运行对应命令，返回进程退出码。
func execute(args []string) int {
	code := 0
	cmd := newRootCommand(func(opts cliOptions) {
		code = run(opts)
	})
	cmd.SetArgs(normalizeArgs(args))
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stdErr, err.Error())
		return 2
	}
	return code
}

// newRootCommand 构建 vod-cache 根命令与 sync 子命令，解析完成后把选项交给 dispatch。
func newRootCommand(dispatch func(cliOptions)) *cobra.Command {
	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	resolve := func(syncOnly bool) cliOptions {
		return cliOptions{
			configPath:  resolveConfigPath(configFlag),
			checkOnly:   checkOnly,
			showVersion: showVer,
			syncOnly:    syncOnly,
		}
	}

	root := &cobra.Command{
		Use:           "vod-cache",
		Short:         "Caching proxy for IPTV video-on-demand playlists",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dispatch(resolve(false))
			return nil
		},
	}
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	flags := root.PersistentFlags()
	flags.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 "+configEnv+" 覆盖）")
	flags.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	root.Flags().BoolVar(&showVer, "version", false, "显示版本信息")

	root.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Run one playlist sync and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dispatch(resolve(true))
			return nil
		},
	})

	return root
}

// parseCLIFlags 只解析参数不执行，供测试检查优先级。
func parseCLIFlags(args []string) (cliOptions, error) {
	var parsed cliOptions
	cmd := newRootCommand(func(opts cliOptions) {
		parsed = opts
	})
	cmd.SetArgs(normalizeArgs(args))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	if err := cmd.Execute(); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	return parsed, nil
}

// normalizeArgs 避免 cobra 在参数为 nil 时回退读取 os.Args。
func normalizeArgs(args []string) []string {
	if args == nil {
		return []string{}
	}
	return args
}

// resolveConfigPath 按 flag > 环境变量 > ./config.toml 的顺序确定配置路径。
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(configEnv); env != "" {
		return env
	}
	return "config.toml"
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["source"] = cfg.Source.Kind()
		fields["max_cache_items"] = cfg.Global.MaxCacheItems
		fields["result"] = "ok"
		logger.WithFields(fields).Info("config_valid")
		return 0
	}

	layout := library.Layout{Root: cfg.Global.StoragePath}
	if err := layout.Prepare(); err != nil {
		fmt.Fprintf(stdErr, "初始化存储目录失败: %v\n", err)
		return 1
	}

	httpClient := server.NewUpstreamClient(cfg)
	syncer, err := newSyncer(cfg, layout, httpClient, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化播放列表同步失败: %v\n", err)
		return 1
	}

	if opts.syncOnly {
		return runSync(syncer, logger, opts.configPath)
	}

	// 启动顺序：指标 → 缓存 → 下载队列 → 代理 → Fiber，所有请求共享同一下载器与缓存。
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	store, err := cache.NewStore(layout.CacheDir())
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}
	evictor := cache.NewEvictor(store, cfg.Global.MaxCacheItems, logger)

	downloader := download.New(httpClient, logger, download.Options{
		Tick:           cfg.Download.Tick.DurationValue(),
		Poll:           cfg.Download.Poll.DurationValue(),
		FairnessWindow: cfg.Download.FairnessWindow.DurationValue(),
		RetryBackoff:   cfg.Download.RetryBackoff.DurationValue(),
		MaxRetries:     cfg.Download.MaxRetries,
		ChunkSize:      cfg.Download.ChunkSize,
		RateLimit:      cfg.Download.RateLimit,
		UserAgent:      cfg.Global.UserAgent,
	})

	handler := proxy.NewHandler(store, downloader, evictor, logger, proxy.Options{
		FetchStartTimeout: cfg.Download.FetchStartTimeout.DurationValue(),
		StreamRetryDelay:  cfg.Download.StreamRetryDelay.DurationValue(),
		StreamIdleTimeout: cfg.Download.StreamIdleTimeout.DurationValue(),
	})

	app, err := server.NewApp(server.AppOptions{
		Logger:       logger,
		Proxy:        handler,
		RequestRate:  cfg.Global.RequestRate,
		RequestBurst: cfg.Global.RequestBurst,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建 HTTP 服务失败: %v\n", err)
		return 1
	}
	routes.RegisterDiagnostics(app, routes.Diagnostics{
		Queue:        downloader,
		Sync:         syncer,
		Gatherer:     registry,
		PlaylistPath: layout.ProxiedPlaylist(),
	})

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["source"] = cfg.Source.Kind()
	fields["base_url"] = cfg.BaseURL()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("config_loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return downloader.Run(ctx)
	})
	if syncer.Enabled() {
		group.Go(func() error {
			return syncer.Run(ctx)
		})
	}
	group.Go(func() error {
		return startHTTPServer(ctx, app, cfg.Global.ListenPort, logger)
	})

	if err := group.Wait(); err != nil {
		fmt.Fprintf(stdErr, "服务异常退出: %v\n", err)
		return 1
	}
	logger.WithField("action", "shutdown").Info("server_stopped")
	return 0
}

func newSyncer(cfg *config.Config, layout library.Layout, client *http.Client, logger *logrus.Logger) (*library.Syncer, error) {
	classifier, err := playlist.NewClassifier(cfg.Classify)
	if err != nil {
		return nil, err
	}
	builder := library.NewStrmBuilder(layout, cfg.BaseURL(), 0)
	return library.NewSyncer(cfg, layout, classifier, builder, client, logger), nil
}

// runSync 执行一次同步后退出，未配置来源时视为错误。
func runSync(syncer *library.Syncer, logger *logrus.Logger, configPath string) int {
	if !syncer.Enabled() {
		fmt.Fprintln(stdErr, "未配置播放列表来源（Source.PlaylistFile 或 Source.PlaylistURL）")
		return 1
	}
	summary, err := syncer.SyncOnce(context.Background())
	fields := logging.BaseFields("sync", configPath)
	fields["movies"] = summary.Movies
	fields["tvshows"] = summary.TVShows
	fields["skipped"] = summary.Skipped
	fields["duplicates"] = summary.Duplicates
	if err != nil {
		logger.WithError(err).WithFields(fields).Error("playlist_sync_failed")
		fmt.Fprintf(stdErr, "同步播放列表失败: %v\n", err)
		return 1
	}
	logger.WithFields(fields).Info("playlist_synced")
	return 0
}

// startHTTPServer 监听端口直到 ctx 结束，随后优雅关闭。
func startHTTPServer(ctx context.Context, app *fiber.App, port int, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("server_listening")

	return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{
		DisableStartupMessage: true,
		GracefulContext:       ctx,
	})
}
