package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gamebridge/internal/adapter/hostfeed"
	"gamebridge/internal/adapter/transport"
	"gamebridge/internal/domain"
	"gamebridge/internal/infra/config"
	"gamebridge/internal/infra/logger"
	"gamebridge/internal/infra/tracer"
	"gamebridge/internal/usecase/actions"
	"gamebridge/internal/usecase/eventbus"
	"gamebridge/internal/usecase/link"
	"gamebridge/internal/usecase/logforward"
	"gamebridge/internal/usecase/scheduling"
	"gamebridge/internal/usecase/supervisor"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "encrypt":
		if err := runEncrypt(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'bridge --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`bridge - game server to Takaro control plane bridge

USAGE:
    bridge [COMMAND] [FLAGS]

COMMANDS:
    encrypt VALUE   Print an enc: secret for a token (needs BRIDGE_CONFIG_KEY)
    doctor          Check config and endpoint reachability

    (no command) - Connect every configured endpoint and serve requests

FLAGS:
    -h, --help      Show this help message
    --config PATH   Config file path (default: ./bridge.yaml)
    --events PATH   Read host game events as JSON lines from PATH ("-" for stdin)

CONFIGURATION:
    Config file: ./bridge.yaml
    Environment: BRIDGE_* variables override config
                 BRIDGE_URL, BRIDGE_IDENTITY_TOKEN, BRIDGE_REGISTRATION_TOKEN
                 BRIDGE_DEV_URL, BRIDGE_DEV_IDENTITY_TOKEN (secondary endpoint)

EXAMPLES:
    bridge                                   # Run with bridge.yaml
    bridge --config /etc/bridge.yaml         # Run with a custom config
    game-server | bridge --events -          # Forward events piped by the host
    BRIDGE_CONFIG_KEY=... bridge encrypt tok # Encrypt an identity token`)
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger, log forwarder & tracer
	base, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	log := base
	var fwd *logforward.Forwarder
	if cfg.LogForward.Enabled {
		fwd = logforward.New(logforward.Options{
			Level:      logger.ParseLevel(cfg.LogForward.Level),
			BufferSize: cfg.LogForward.BufferSize,
			BatchSize:  cfg.LogForward.BatchSize,
			Rate:       cfg.LogForward.Rate,
			Burst:      cfg.LogForward.Burst,
		})
		log = slog.New(fwd.Handler(base.Handler()))
	}
	slog.SetDefault(log)

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Actions
	registry := newRegistry(cfg, log)

	// 4. Endpoints
	sup, err := newSupervisor(cfg, registry, log)
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	// 5. Event bus
	bus := eventbus.New(log.With("component", "eventbus"))
	defer bus.Close()
	sup.Attach(bus)
	if fwd != nil {
		fwd.Attach(sup)
	}

	// 6. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 7. Scheduler
	sched, err := newScheduler(cfg, sup, fwd, log)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	// 8. Start
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	sched.Start(ctx)

	if path := eventsPath(); path != "" {
		go feedEvents(ctx, path, bus, log)
	}

	log.Info("bridge starting",
		"endpoints", len(cfg.Endpoints),
		"actions", len(registry.Actions()),
		"log_forward", cfg.LogForward.Enabled,
		"circuit_breaker", cfg.Actions.CircuitBreaker.Enabled,
	)

	<-ctx.Done()
	log.Info("bridge shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	sched.Stop()
	if fwd != nil {
		if err := fwd.Stop(shutdownCtx); err != nil {
			log.Warn("log forwarder stop", "error", err)
		}
	}
	sup.Shutdown()
	return nil
}

func newRegistry(cfg *config.Config, log *slog.Logger) *actions.Registry {
	opts := []actions.Option{actions.WithLogger(log.With("component", "actions"))}
	if cb := cfg.Actions.CircuitBreaker; cb.Enabled {
		opts = append(opts, actions.WithCircuitBreaker(int(cb.MaxFailures), cb.OpenTimeout))
	}
	return actions.New(opts...)
}

func newSupervisor(cfg *config.Config, handler domain.ActionHandler, log *slog.Logger) (*supervisor.Supervisor, error) {
	endpoints := make([]domain.Endpoint, 0, len(cfg.Endpoints))
	for _, ec := range cfg.Endpoints {
		endpoints = append(endpoints, ec.Endpoint())
	}

	dialer := transport.NewDialer(transport.WithReadLimit(cfg.Link.ReadLimit))
	opts := link.Options{
		Backoff: link.Backoff{
			Base:   cfg.Reconnect.Base,
			Max:    cfg.Reconnect.Max,
			Factor: cfg.Reconnect.Factor,
			Jitter: cfg.Reconnect.Jitter,
		},
		SendQueueSize: cfg.Link.SendQueueSize,
		WriteTimeout:  cfg.Link.WriteTimeout,
		DialTimeout:   cfg.Link.DialTimeout,
		Logger:        log,
		OnStateChange: func(endpoint string, from, to link.State) {
			log.Debug("endpoint state", "endpoint", endpoint, "from", from.String(), "to", to.String())
		},
	}
	return supervisor.New(endpoints, dialer, handler, opts)
}

func newScheduler(cfg *config.Config, sup *supervisor.Supervisor, fwd *logforward.Forwarder, log *slog.Logger) (*scheduling.Scheduler, error) {
	sched := scheduling.NewScheduler(log.With("component", "scheduler"))
	sched.RegisterAction(scheduling.ActionStatusReport, sup.LogStatus)

	if fwd != nil {
		sched.RegisterAction(scheduling.ActionLogFlush, fwd.Flush)
		if err := sched.AddTask(scheduling.ScheduledTask{
			Name:     "log-forward",
			Schedule: cfg.LogForward.Schedule,
			Action:   scheduling.ActionLogFlush,
			Timeout:  5 * time.Second,
		}); err != nil {
			return nil, err
		}
	}
	if cfg.StatusReport.Enabled {
		if err := sched.AddTask(scheduling.ScheduledTask{
			Name:     "status-report",
			Schedule: cfg.StatusReport.Schedule,
			Action:   scheduling.ActionStatusReport,
		}); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func feedEvents(ctx context.Context, path string, bus domain.EventBus, log *slog.Logger) {
	in := os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			log.Error("open host events", "path", path, "error", err)
			return
		}
		defer f.Close()
		in = f
	}
	n, err := hostfeed.New(in, bus, log.With("component", "hostfeed")).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("host event feed stopped", "error", err, "published", n)
		return
	}
	log.Info("host event feed ended", "published", n)
}

func runEncrypt(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: bridge encrypt VALUE")
	}
	key := os.Getenv("BRIDGE_CONFIG_KEY")
	if key == "" {
		return fmt.Errorf("BRIDGE_CONFIG_KEY is not set")
	}
	enc, err := config.EncryptValue(args[0], key)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}

func configPath() string {
	if p := flagValue("--config"); p != "" {
		return p
	}
	if p := os.Getenv("BRIDGE_CONFIG"); p != "" {
		return p
	}
	return "bridge.yaml"
}

func eventsPath() string {
	return flagValue("--events")
}

// flagValue finds "--name VALUE" or "--name=VALUE" in os.Args.
func flagValue(name string) string {
	for i, arg := range os.Args {
		if arg == name && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, name+"=") {
			return strings.TrimPrefix(arg, name+"=")
		}
	}
	return ""
}
