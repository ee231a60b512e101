// Package main is the entry point for the chaos engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/zap"

	"chaos-mcp/internal/api"
	"chaos-mcp/internal/config"
	"chaos-mcp/internal/events"
	"chaos-mcp/internal/fault"
	"chaos-mcp/internal/monitor"
	"chaos-mcp/internal/notify"
	"chaos-mcp/internal/observability"
	"chaos-mcp/internal/orchestrator"
	"chaos-mcp/internal/worker"
)

var (
	version = "dev"
)

func main() {
	// フラグ定義
	var (
		configFile  = flag.String("config", "", "設定ファイルパス (YAML/JSON)")
		presetName  = flag.String("preset", "", "プリセット実験名 (network-latency, packet-loss, resource-exhaustion, process-chaos, mixed-chaos)")
		dryRun      = flag.Bool("dry-run", false, "障害を注入せず計画のみ出力")
		parallel    = flag.Bool("parallel", false, "障害を並列実行")
		verbose     = flag.Bool("verbose", false, "デバッグログを有効化")
		listPresets = flag.Bool("list-presets", false, "利用可能なプリセットを表示")
		showVersion = flag.Bool("version", false, "バージョンを表示")
		serverMode  = flag.Bool("server", false, "API サーバーモードで起動")
		serverAddr  = flag.String("addr", ":8080", "サーバーアドレス (例: :8080, 0.0.0.0:3000)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `chaos-mcp - Chaos Engineering Orchestration Engine

Usage:
  chaos-mcp [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # プリセット実験を実行
  chaos-mcp --preset network-latency

  # 設定ファイルから実行
  chaos-mcp --config experiment.yaml

  # ドライランで計画を確認
  chaos-mcp --preset mixed-chaos --dry-run

  # プリセット一覧を表示
  chaos-mcp --list-presets

  # API サーバーモードで起動
  chaos-mcp --server --addr :8080
`)
	}

	flag.Parse()

	// バージョン表示
	if *showVersion {
		fmt.Printf("chaos-mcp version %s\n", version)
		return
	}

	// プリセット一覧表示
	if *listPresets {
		printPresets()
		return
	}

	logger, err := observability.NewLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ロガー初期化エラー: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// API サーバーモード
	if *serverMode {
		if err := runServer(*serverAddr, logger); err != nil {
			logger.Error("サーバーエラー", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	// 実験設定の決定
	cfg, err := buildExperimentConfig(*configFile, *presetName, *dryRun, *parallel)
	if err != nil {
		logger.Error("設定エラー", zap.Error(err))
		os.Exit(1)
	}

	// 実験実行
	if err := runExperiment(cfg, logger); err != nil {
		logger.Error("実験実行エラー", zap.Error(err))
		os.Exit(1)
	}
}

// buildExperimentConfig は実験設定を構築する
func buildExperimentConfig(configFile, presetName string, dryRun, parallel bool) (config.ExperimentConfig, error) {
	var cfg config.ExperimentConfig

	// 1. 設定ファイルから読み込み
	if configFile != "" {
		fileConfig, err := config.LoadFile(configFile)
		if err != nil {
			return cfg, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		cfg, err = fileConfig.ToExperimentConfig()
		if err != nil {
			return cfg, fmt.Errorf("設定変換エラー: %w", err)
		}
	} else if presetName != "" {
		// 2. プリセットから読み込み
		preset, ok := orchestrator.GetPreset(presetName)
		if !ok {
			return cfg, fmt.Errorf("不明なプリセット: %s (利用可能: %v)", presetName, orchestrator.ListPresets())
		}
		cfg = preset
	} else {
		return cfg, fmt.Errorf("--config か --preset のいずれかを指定してください")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("設定検証エラー: %w", err)
	}

	// フラグでオーバーライド
	if dryRun {
		cfg.DryRun = true
	}
	if parallel {
		cfg.ParallelExecution = true
	}

	return cfg, nil
}

// buildOrchestrator は依存を組み立ててオーケストレータを作成する
func buildOrchestrator(ctx context.Context, logger *zap.Logger, bus *events.Bus) (*orchestrator.Orchestrator, func()) {
	pool := worker.NewPool(runtime.NumCPU(), logger)
	pool.Start(ctx)

	health := monitor.NewHealth(monitor.DefaultHealthConfig(), logger)
	health.Start(ctx)

	runner := orchestrator.NewRunner(orchestrator.RunnerOptions{
		Logger:   logger,
		Health:   health,
		Pool:     pool,
		Shaper:   fault.NewAuditShaper(logger),
		Proc:     fault.NewAuditProcessController(logger),
		EventBus: bus,
	})

	orch := orchestrator.New(orchestrator.Options{
		Logger:   logger,
		Runner:   runner,
		EventBus: bus,
	})

	cleanup := func() {
		health.Stop()
		pool.Stop()
	}
	return orch, cleanup
}

// runExperiment は実験を一回実行する
func runExperiment(cfg config.ExperimentConfig, logger *zap.Logger) error {
	fmt.Println("chaos-mcp - Chaos Engineering Orchestration Engine")
	fmt.Println("==================================================")
	fmt.Printf("Experiment: %s\n", cfg.Name)
	fmt.Printf("Faults: %d, DryRun: %v, Parallel: %v\n", len(cfg.Faults), cfg.DryRun, cfg.ParallelExecution)
	fmt.Println("==================================================")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\n中断シグナルを受信、実験を終了中...")
		cancel()
	}()

	shutdownTracer, err := observability.InitTracer("chaos-mcp")
	if err != nil {
		return fmt.Errorf("トレーサー初期化エラー: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	bus := events.NewBus()
	defer bus.Close()

	channels := notify.ChannelsFromConfig(cfg.NotificationChannels, logger)
	if len(channels) == 0 {
		channels = []notify.Channel{notify.NewLogChannel(logger)}
	}
	notifier := notify.NewNotifier(bus, channels, logger)
	notifier.Start(ctx)
	defer notifier.Stop()

	orch, cleanup := buildOrchestrator(ctx, logger, bus)
	defer cleanup()

	result := orch.RunExperiment(ctx, cfg)

	// レポート出力
	fmt.Println(result.Report())

	if result.Status == orchestrator.StatusFailed {
		return fmt.Errorf("experiment failed: %v", result.Errors)
	}
	return nil
}

// printPresets は利用可能なプリセットを表示する
func printPresets() {
	fmt.Println("利用可能なプリセット実験:")
	fmt.Println()

	for _, name := range orchestrator.ListPresets() {
		cfg, _ := orchestrator.GetPreset(name)
		fmt.Printf("  %-22s %s\n", name, cfg.Description)
	}

	fmt.Println()
	fmt.Println("使用例: chaos-mcp --preset network-latency")
}

// runServer は API サーバーを起動する
func runServer(addr string, logger *zap.Logger) error {
	fmt.Println("chaos-mcp - API Server")
	fmt.Println("======================")
	fmt.Printf("Starting server on http://%s\n", addr)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\n中断シグナルを受信、サーバーを終了中...")
		cancel()
	}()

	shutdownTracer, err := observability.InitTracer("chaos-mcp")
	if err != nil {
		return fmt.Errorf("トレーサー初期化エラー: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	bus := events.NewBus()
	defer bus.Close()

	notifier := notify.NewNotifier(bus, []notify.Channel{notify.NewLogChannel(logger)}, logger)
	notifier.Start(ctx)
	defer notifier.Stop()

	orch, cleanup := buildOrchestrator(ctx, logger, bus)
	defer cleanup()

	server := api.NewServer(addr, orch, bus, logger)
	return server.Start(ctx)
}
