package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	v1 "forecaster/internal/api/v1"
	"forecaster/internal/auth"
	"forecaster/internal/backend"
	"forecaster/internal/catalog"
	"forecaster/internal/config"
	"forecaster/internal/forecast"
	"forecaster/internal/logging"
	"forecaster/internal/model"
	"forecaster/internal/server"
	"forecaster/internal/util"
	"forecaster/internal/workflow"
)

var (
	port    = flag.Int("port", 0, "服务端口 (config.toml 优先；仅当未显式配置 port 时生效)")
	devMode = flag.Bool("dev", false, "开发模式")
	dataDir = flag.String("dataDir", "", "数据目录 (覆盖配置文件)")
	apiURL  = flag.String("api", "", "预测服务地址 (覆盖配置文件)")
)

func main() {
	flag.Parse()

	fmt.Println("==========================================")
	fmt.Println("  Forecaster - 需求预测工作台")
	fmt.Println("==========================================")

	// 加载配置
	cfg, info, err := config.LoadConfigWithInfo()
	if err != nil {
		log.Printf("加载配置失败，使用默认配置: %v", err)
		cfg = config.DefaultConfig()
		info = config.LoadConfigInfo{}
	}

	// 命令行参数覆盖配置
	if *port > 0 && !info.PortSpecified {
		cfg.Server.Port = *port
	}
	if *devMode {
		cfg.Server.DevMode = true
	}
	if *dataDir != "" {
		cfg.Data.DataDir = *dataDir
	}
	if *apiURL != "" {
		cfg.Backend.BaseURL = *apiURL
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, info, logger); err != nil {
		logger.Error("forecaster stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, info config.LoadConfigInfo, logger *zap.Logger) error {
	// 确保数据目录存在
	dir, err := config.EnsureDataDir(cfg)
	if err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	fmt.Printf("数据目录: %s\n", dir)
	fmt.Printf("预测服务: %s\n", cfg.Backend.BaseURL)

	tokens, err := auth.NewTokenStore(auth.Options{
		Service:          cfg.Auth.KeyringService,
		User:             cfg.Auth.KeyringUser,
		UseSystemKeyring: cfg.Auth.UseSystemKeyring,
		DBPath:           filepath.Join(dir, "forecaster.db"),
	}, logger)
	if err != nil {
		return err
	}
	if c, ok := tokens.(io.Closer); ok {
		defer c.Close()
	}

	holder := &auth.Holder{}
	client := backend.NewClient(&backend.ClientConfig{
		BaseURL:     cfg.Backend.BaseURL,
		Timeout:     cfg.Backend.Timeout(),
		MaxRetries:  cfg.Backend.MaxRetries,
		RateLimit:   cfg.Backend.RateLimit,
		RateBurst:   cfg.Backend.RateBurst,
		TokenSource: holder.Get,
	})

	coordinator := forecast.NewCoordinator(client, forecast.Options{
		PollInterval: cfg.Backend.PollInterval(),
		MaxHorizon:   cfg.Forecast.MaxHorizon,
		Logger:       logger.Named("forecast"),
	})

	session := workflow.NewSession(workflow.Options{
		Backend:     client,
		Coordinator: coordinator,
		Tokens:      tokens,
		Holder:      holder,
		// 服务端未识别出任何列时，先读本地暂存文件的表头，读不出再请求一次后端识别
		Resolver:          catalog.NewChain(logger.Named("catalog"), catalog.Local{}, catalog.Remote{Detector: client}),
		Logger:            logger.Named("workflow"),
		MaxUploadBytes:    cfg.Upload.MaxSizeBytes,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		DefaultConfig: model.ForecastConfig{
			Model:          model.ModelSelection(cfg.Forecast.DefaultModel),
			HorizonPeriods: cfg.Forecast.DefaultHorizon,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Init(ctx); err != nil {
		logger.Warn("failed to restore session", zap.Error(err))
	}

	if !info.PortSpecified {
		if p, err := util.FindAvailablePort(cfg.Server.Port, 20); err == nil {
			cfg.Server.Port = p
		}
	}

	handler := v1.NewHandler(session, filepath.Join(dir, "uploads"), logger.Named("api"))
	srv := server.NewServer(cfg, handler, logger.Named("http"))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	url := fmt.Sprintf("http://localhost:%d", cfg.Server.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Printf("服务启动中，监听端口 %d ...\n", cfg.Server.Port)
		return srv.Run(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("\n正在关闭服务...")

		session.Teardown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// 打开浏览器
	if !cfg.Server.DevMode {
		fmt.Printf("正在打开浏览器: %s\n", url)
		if err := util.OpenBrowserWithFallback(url); err != nil {
			fmt.Printf("无法自动打开浏览器，请手动访问: %s\n", url)
		}
	} else {
		fmt.Printf("开发模式: 请访问 %s\n", url)
	}

	fmt.Println("\n按 Ctrl+C 停止服务...")
	return g.Wait()
}
