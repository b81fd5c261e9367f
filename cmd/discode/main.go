// Command discode runs the bridge between headless coding agents and a chat
// platform: it serves the agent hook endpoint, relays turn progress to chat,
// and routes chat messages back into the agents.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/discode/discode/internal/agents"
	"github.com/discode/discode/internal/bridge/fallback"
	"github.com/discode/discode/internal/bridge/pending"
	"github.com/discode/discode/internal/bridge/pipeline"
	"github.com/discode/discode/internal/bridge/router"
	"github.com/discode/discode/internal/bridge/sdkrunner"
	"github.com/discode/discode/internal/bridge/streaming"
	"github.com/discode/discode/internal/common/config"
	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/events/bus"
	"github.com/discode/discode/internal/gateway"
	"github.com/discode/discode/internal/platform"
	"github.com/discode/discode/internal/platform/console"
	"github.com/discode/discode/internal/platform/discord"
	"github.com/discode/discode/internal/platform/slack"
	"github.com/discode/discode/internal/runtime"
	"github.com/discode/discode/internal/runtime/tmux"
	"github.com/discode/discode/internal/state"
)

// platformAdapter is the full surface a chat adapter provides beyond the
// core platform.Client interface.
type platformAdapter interface {
	platform.Client
	SetInboundHandler(platform.InboundHandler)
	Start(ctx context.Context) error
	Stop() error
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "directory containing discode.yaml")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadWithPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting discode bridge...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Open the project/instance registry
	var store state.Store
	if cfg.State.DBPath != "" {
		store, err = state.NewSQLiteStore(cfg.State.DBPath)
		if err != nil {
			log.Fatal("Failed to open state database", zap.Error(err))
		}
		log.Info("Opened state database", zap.String("path", cfg.State.DBPath))
	} else {
		store = state.NewMemoryStore()
	}
	defer store.Close()

	if err := state.Seed(ctx, store, cfg.Projects); err != nil {
		log.Fatal("Failed to seed projects from config", zap.Error(err))
	}

	// 5. Connect the event bus
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		eventBus, err = bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
	}
	defer eventBus.Close()

	// 6. Create the chat platform client
	client, err := newPlatformClient(cfg, log)
	if err != nil {
		log.Fatal("Failed to create platform client", zap.Error(err))
	}
	log.Info("Using chat platform", zap.String("platform", client.Name()))

	// 7. Detect the terminal runtime
	var rt runtime.Runtime
	if cfg.Runtime.Kind == "tmux" {
		if tmux.Available() {
			rt = tmux.New(cfg.Runtime.TmuxSession, log)
			log.Info("Using tmux runtime", zap.String("session", cfg.Runtime.TmuxSession))
		} else {
			log.Warn("tmux not found on PATH, terminal features disabled")
		}
	}

	// 8. Provision terminal windows for configured instances
	catalog := agents.NewCatalog(log)
	hookURL := fmt.Sprintf("http://%s:%d", cfg.Hook.Hostname, cfg.Hook.Port)
	if rt != nil {
		provisionWindows(ctx, store, rt, catalog, hookURL, log)
	}

	// 9. Build the bridge core
	tracker := pending.NewTracker(client, log)
	streams := streaming.NewUpdater(client, cfg.Streaming.DebounceDuration(), log)
	fallbacks := fallback.NewScheduler(rt, tracker, client, cfg.Fallback, log)
	runners := sdkrunner.NewRegistry(log)

	pipe := pipeline.New(cfg, store, client, tracker, streams, fallbacks, eventBus, rt, catalog, log)
	sdkrunner.Provision(ctx, store, runners, pipe.Accept, log)
	server := pipeline.NewServer(pipe)
	server.Agents = catalog
	server.ReloadFunc = func() error {
		reloaded, err := config.LoadWithPath(configPath)
		if err != nil {
			return err
		}
		return state.Seed(context.Background(), store, reloaded.Projects)
	}

	// 10. Route inbound chat messages
	rtr := router.New(cfg, store, client, tracker, fallbacks, runners, rt, log)
	rtr.SetEnricher(router.MarkerEnricher())
	client.SetInboundHandler(rtr.HandleInbound)

	// 11. Expose accepted events to stream observers
	hub := gateway.NewHub(eventBus, log)
	if err := hub.Start(ctx); err != nil {
		log.Fatal("Failed to start event gateway", zap.Error(err))
	}
	server.Engine().GET("/events/stream", hub.HandleStream)

	// 12. Start the platform client and the hook server
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return client.Start(groupCtx)
	})
	group.Go(func() error {
		return server.Start()
	})

	// 13. Wait for shutdown signal or a fatal component error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("Received signal", zap.String("signal", sig.String()))
	case <-groupCtx.Done():
		log.Error("Component failed, shutting down")
	}

	log.Info("Shutting down discode bridge...")

	// 14. Graceful shutdown: stop ingress first, then settle in-flight work
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	cancel()
	hub.CloseAll()

	pipe.Shutdown(10 * time.Second)
	runners.StopAll()

	if err := client.Stop(); err != nil {
		log.Error("Platform client stop error", zap.Error(err))
	}

	if err := group.Wait(); err != nil {
		log.Debug("Component exit", zap.Error(err))
	}

	log.Info("discode bridge stopped")
}

// provisionWindows makes sure each configured terminal instance has a live
// window running its agent's TUI, with the hook endpoint in its environment.
func provisionWindows(ctx context.Context, store state.Store, rt runtime.Runtime, catalog *agents.Catalog, hookURL string, log *logger.Logger) {
	projects, err := store.ListProjects(ctx)
	if err != nil {
		log.Warn("Failed to list projects for window provisioning", zap.Error(err))
		return
	}
	for _, project := range projects {
		instances, err := store.ListInstances(ctx, project.Name)
		if err != nil {
			log.Warn("Failed to list instances", zap.String("project", project.Name), zap.Error(err))
			continue
		}
		for _, instance := range instances {
			if instance.Kind != state.KindTerminal || instance.WindowID == "" {
				continue
			}
			command := agents.HookCommand(catalog.LaunchCommand(instance.AgentType), hookURL)
			if err := rt.EnsureWindow(ctx, instance.WindowID, project.Path, command); err != nil {
				log.Warn("Failed to provision window",
					zap.String("project", project.Name),
					zap.String("instance", instance.ID),
					zap.String("window", instance.WindowID),
					zap.Error(err))
			}
		}
	}
}

// newPlatformClient builds the adapter selected by platform.kind.
func newPlatformClient(cfg *config.Config, log *logger.Logger) (platformAdapter, error) {
	switch cfg.Platform.Kind {
	case "discord":
		if cfg.Platform.Token == "" {
			return nil, fmt.Errorf("platform.token is required for discord")
		}
		return discord.NewClient(cfg.Platform.Token, log)
	case "slack":
		if cfg.Platform.Token == "" || cfg.Platform.SlackAppToken == "" {
			return nil, fmt.Errorf("platform.token and platform.slackAppToken are required for slack")
		}
		return slack.NewClient(cfg.Platform.Token, cfg.Platform.SlackAppToken, log)
	default:
		return console.NewClient(log), nil
	}
}
