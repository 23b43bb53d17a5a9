package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"hearth/internal/adapter/llm"
	"hearth/internal/adapter/profile"
	"hearth/internal/adapter/store"
	"hearth/internal/adapter/tool"
	"hearth/internal/adapter/tui"
	"hearth/internal/domain"
	"hearth/internal/infra/config"
	"hearth/internal/infra/logger"
	"hearth/internal/infra/tracer"
	"hearth/internal/usecase"
	"hearth/internal/usecase/bridge"
	"hearth/internal/usecase/eventbus"
	"hearth/internal/usecase/presenter"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "hearth:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", defaultConfigPath(), "path to the YAML config file")
		dbPath     = flag.String("db", "", "override the conversation database path")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}
	// The TUI owns stdout; logs configured for it go to stderr instead.
	if cfg.Logger.Output == "stdout" {
		cfg.Logger.Output = "stderr"
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	resolver := profile.NewResolver(cfg.Profiles)
	active, err := resolver.Resolve(cfg.Orchestrator.DefaultProfile)
	if err != nil {
		return fmt.Errorf("resolve profile %q: %w", cfg.Orchestrator.DefaultProfile, err)
	}

	var provider domain.StreamingLLMProvider = llm.NewOpenAIProvider(active, cfg.Provider, log)
	if cfg.Provider.BreakerEnabled {
		provider = llm.NewBreakerProvider(provider, log)
	}

	registry := tool.NewRegistry(cfg.Tools, log)
	if err := registry.RegisterAll(
		tool.NewClockTool(),
		tool.NewFetchTitleTool(cfg.Tools.FetchTimeout),
	); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	if len(cfg.Tools.MCPServers) > 0 {
		conn, err := tool.NewMCPConnector(ctx, cfg.Tools.MCPServers, log)
		if err != nil {
			return fmt.Errorf("connect mcp servers: %w", err)
		}
		defer conn.Close()
		if err := registry.RegisterAll(conn.Tools()...); err != nil {
			return fmt.Errorf("register mcp tools: %w", err)
		}
	}

	bus := eventbus.New(cfg.Runtime.BusCapacity, log)
	defer bus.Close()
	br := bridge.New(cfg.Runtime.ActionCapacity, cfg.Runtime.CommandCapacity, log)

	orch := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Provider:   provider,
		Store:      db,
		Profiles:   resolver,
		Tools:      registry,
		Toggler:    registry,
		Executor:   usecase.NewToolExecutor(registry, cfg.Orchestrator.ToolTimeout, log),
		Bus:        bus,
		Streams:    usecase.NewStreamTable(),
		Locker:     usecase.NewConversationLocker(),
		Builder:    usecase.NewContextBuilder(),
		Classifier: usecase.NewErrorClassifier(),
		Logger:     log,
	}, usecase.OrchestratorConfig{
		ProfileID:        cfg.Orchestrator.DefaultProfile,
		MaxToolRetries:   cfg.Orchestrator.MaxToolRetries,
		MaxOutputRetries: cfg.Orchestrator.MaxOutputRetries,
		MaxTurns:         cfg.Orchestrator.MaxTurns,
	})

	pump := usecase.NewActionPump(br, bus, log)

	var wg sync.WaitGroup
	runLoop := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	orchSub := bus.Subscribe()
	runLoop(func() { orch.Run(ctx, orchSub) })
	runLoop(func() { pump.Run(ctx) })

	for _, p := range []presenter.Presenter{
		presenter.NewChatPresenter(),
		presenter.NewConversationsPresenter(db),
		presenter.NewToolsPresenter(registry),
	} {
		loop := presenter.NewLoop(bus, br, log)
		runLoop(func() { loop.Run(ctx, p) })
	}

	log.Info("hearth starting",
		"profile", active.ID,
		"model", active.Model,
		"db", cfg.Storage.Path,
	)

	err = tui.Run(ctx, br, log)

	stop()
	bus.Close()
	wg.Wait()
	pump.Drain()

	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "hearth", "config.yaml")
	}
	return "config.yaml"
}
