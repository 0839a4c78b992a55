package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/binhub/internal/config"
	"github.com/any-hub/binhub/internal/inuse"
	"github.com/any-hub/binhub/internal/logging"
	"github.com/any-hub/binhub/internal/server"
	"github.com/any-hub/binhub/internal/server/routes"
	"github.com/any-hub/binhub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	pruneOnly   bool
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
		fields["chain"] = cfg.ChainSummary()
		fields["cache_max_size"] = cfg.Cache.MaxSize.String()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if opts.pruneOnly && !cfg.Cache.Enabled {
		fmt.Fprintln(stdErr, "缓存未启用，无需清理")
		return 1
	}

	// 启动顺序：配置 → 存储链 → 缓存索引（Load 或 Prune）→ Fiber server。
	tracker := inuse.New()
	storage, err := prepareStorage(context.Background(), cfg, logger, tracker, opts.pruneOnly)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化存储链失败: %v\n", err)
		return 1
	}
	defer storage.Close()

	if opts.pruneOnly {
		return 0
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["chain"] = cfg.ChainSummary()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, storage, tracker, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// prepareStorage 构建存储链，并根据配置重建或清空缓存索引。
func prepareStorage(ctx context.Context, cfg *config.Config, logger *logrus.Logger, tracker *inuse.Tracker, prune bool) (*server.Storage, error) {
	storage, err := server.BuildStorage(cfg, logger, tracker)
	if err != nil {
		return nil, err
	}
	if storage.Cache == nil {
		return storage, nil
	}

	fields := logging.BaseFields("cache_startup", "")
	fields["cache_dir"] = storage.Cache.Dir()
	if prune || cfg.Cache.PruneOnStartup {
		result, err := storage.Cache.Prune(ctx)
		if err != nil {
			_ = storage.Close()
			return nil, fmt.Errorf("prune cache: %w", err)
		}
		fields["removed"] = result.Removed
		fields["skipped"] = result.Skipped
		fields["freed"] = humanize.IBytes(uint64(result.Freed))
		logger.WithFields(fields).Info("缓存清理完成")
		return storage, nil
	}

	loaded, err := storage.Cache.Load(ctx)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("load cache index: %w", err)
	}
	fields["entries"] = loaded
	fields["total"] = humanize.IBytes(uint64(storage.Cache.Stats().TotalSize))
	logger.WithFields(fields).Info("缓存索引已重建")
	return storage, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("binhub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		pruneOnly  bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 BINHUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&pruneOnly, "prune", false, "清空未被读取的缓存文件后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if checkOnly && pruneOnly {
		return cliOptions{}, errors.New("--check-config 与 --prune 不能同时使用")
	}

	path := os.Getenv("BINHUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		pruneOnly:   pruneOnly,
	}, nil
}

func startHTTPServer(cfg *config.Config, storage *server.Storage, tracker *inuse.Tracker, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		ListenPort: port,
		BodyLimit:  cfg.Global.MaxUploadSize.Int64(),
		Routes: []server.RouteRegistrar{
			func(r fiber.Router) {
				routes.RegisterBinaryRoutes(r, routes.BinaryOptions{
					Store:   storage.Chain,
					Tracker: tracker,
					Logger:  logger,
				})
			},
			func(r fiber.Router) {
				routes.RegisterDiagnosticsRoutes(r, storage.Cache, logger)
			},
		},
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
