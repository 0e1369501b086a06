package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/caching-proxy/caching-proxy/internal/cache"
	"github.com/caching-proxy/caching-proxy/internal/config"
	"github.com/caching-proxy/caching-proxy/internal/logging"
	"github.com/caching-proxy/caching-proxy/internal/proxy"
	"github.com/caching-proxy/caching-proxy/internal/rules"
	"github.com/caching-proxy/caching-proxy/internal/server"
	"github.com/caching-proxy/caching-proxy/internal/upstream"
	"github.com/caching-proxy/caching-proxy/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	overrides   config.Overrides
	checkOnly   bool
	clearCache  bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	// 清缓存是独立的维护操作，不依赖完整的代理配置（尤其是上游地址）。
	if opts.clearCache {
		return runClearCache(opts)
	}

	cfg, err := config.Load(opts.configPath, opts.overrides)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(*cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["upstream"] = cfg.Upstream
		fields["no_cache_patterns"] = len(cfg.NoCachePatterns)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	matcher, err := rules.NewMatcher(cfg.NoCachePatterns)
	if err != nil {
		fmt.Fprintf(stdErr, "编译排除模式失败: %v\n", err)
		return 1
	}

	// 启动遵循 “配置 → 磁盘缓存 → 上游客户端 → Fiber server” 顺序，
	// 保证所有请求共享同一份缓存与客户端实例。
	store, err := cache.NewStore(cfg.CacheDir)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	client, err := upstream.NewClient(*cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化上游客户端失败: %v\n", err)
		return 1
	}

	engine := proxy.NewEngine(client, logger, store, matcher)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["upstream"] = cfg.Upstream
	fields["listen_port"] = cfg.ListenPort
	fields["cache_dir"] = cfg.CacheDir
	fields["no_cache_patterns"] = matcher.Len()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, engine, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// runClearCache 执行独立的清缓存操作，不启动代理进程，也不要求上游地址。
func runClearCache(opts cliOptions) int {
	cfg, err := config.LoadForMaintenance(opts.configPath, opts.overrides)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(*cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	store, err := cache.NewStore(cfg.CacheDir)
	if err != nil {
		fmt.Fprintf(stdErr, "打开缓存目录失败: %v\n", err)
		return 1
	}

	removed, err := store.Clear(context.Background())
	if err != nil {
		fmt.Fprintf(stdErr, "清除缓存失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("clear_cache", opts.configPath)
	fields["cache_dir"] = cfg.CacheDir
	fields["removed"] = removed
	logger.WithFields(fields).Info("缓存已清空")
	fmt.Fprintf(stdOut, "已清除 %d 条缓存记录\n", removed)
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("caching-proxy", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		upstream   string
		port       int
		cacheDir   string
		checkOnly  bool
		clearFlag  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（可被 CACHING_PROXY_CONFIG 覆盖）")
	fs.StringVar(&upstream, "upstream", "", "上游基地址，优先于配置文件")
	fs.IntVar(&port, "port", 0, "监听端口（默认 8000）")
	fs.StringVar(&cacheDir, "cache-dir", "", "缓存目录（默认 .cache）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&clearFlag, "clear-cache", false, "清空缓存目录后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("CACHING_PROXY_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		// 未指定配置文件时，若默认文件存在则使用，否则仅依赖标志与默认值。
		if _, err := os.Stat("config.toml"); err == nil {
			path = "config.toml"
		}
	}

	return cliOptions{
		configPath: path,
		overrides: config.Overrides{
			Upstream:   upstream,
			ListenPort: port,
			CacheDir:   cacheDir,
		},
		checkOnly:   checkOnly,
		clearCache:  clearFlag,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, engine server.ProxyHandler, logger *logrus.Logger) error {
	port := cfg.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      engine,
		ListenPort: port,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
