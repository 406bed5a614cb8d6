package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"doubtbot/internal/bus"
	"doubtbot/internal/channel"
	"doubtbot/internal/config"
	"doubtbot/internal/domain"
	"doubtbot/internal/metrics"
	"doubtbot/internal/pipeline"
	"doubtbot/internal/prompt"
	"doubtbot/internal/provider"
	"doubtbot/internal/stats"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "doubtbot",
		Short: "DoubtBot: doubt solving assistant for HSC students",
		Long:  "DoubtBot answers student questions sent as text or photos over Telegram, Discord, or the terminal.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.doubtbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(solveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(installCmd())
	root.AddCommand(uninstallCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	applyLogging(cfg.General.LogLevel, cfg.General.LogFile)
	return cfg, nil
}

// applyLogging rebuilds the global logger at the configured level. When a
// log file is set, log lines go to both stderr and the file.
func applyLogging(level, logFile string) {
	w, err := logWriter(logFile)
	if err != nil {
		logger.Warn("cannot open log file, logging to stderr only", "path", logFile, "err", err)
		w = os.Stderr
	}
	logger = newLogger(level, w)
}

// logWriter returns stderr, or stderr teed into the log file when one is
// configured. The file is opened in append mode and stays open for the
// life of the process.
func logWriter(logFile string) (io.Writer, error) {
	if logFile == "" {
		return os.Stderr, nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return io.MultiWriter(os.Stderr, f), nil
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Println("Edit", cfgPath, "and set your provider API key and channel tokens.")
			return nil
		},
	}
}

// buildPipeline wires the resolver, composer, dispatcher, and controller from
// config. The returned cleanup closes the stats store.
func buildPipeline(cfg *config.Config, messageBus domain.MessageBus) (*pipeline.Controller, *prompt.Templates, func(), error) {
	templates, err := prompt.Load(config.ExpandPath(cfg.Templates.Path), logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("templates: %w", err)
	}

	completer, err := provider.FromConfig(cfg.Provider, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	var recorder pipeline.Recorder
	cleanup := func() {}
	if cfg.Stats.Enabled {
		store, err := stats.NewStore(config.ExpandPath(cfg.Stats.DBPath), logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("stats store: %w", err)
		}
		recorder = store
		cleanup = func() { store.Close() }
	}

	ctrl := pipeline.NewController(pipeline.ControllerConfig{
		Resolver:    pipeline.NewResolver(cfg.General.Command),
		Composer:    pipeline.NewComposer(templates),
		Dispatcher:  pipeline.NewDispatcher(templates),
		Completer:   completer,
		Bus:         messageBus,
		Stats:       recorder,
		Logger:      logger,
		Concurrency: cfg.General.MaxConcurrentRuns,
	})
	return ctrl, templates, cleanup, nil
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start all enabled channels and the answer pipeline",
		Long:  "Starts the enabled channels (Telegram, Discord) and the doubt pipeline. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	ctrl, templates, cleanup, err := buildPipeline(cfg, messageBus)
	if err != nil {
		return err
	}
	defer cleanup()

	go ctrl.Run(ctx)

	var channels []domain.Channel

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg := channel.NewTelegram(channel.TelegramOptions{
			Token:        cfg.Channels.Telegram.Token,
			Command:      cfg.General.Command,
			AllowFrom:    cfg.Channels.Telegram.AllowFrom,
			ParseMode:    cfg.Channels.Telegram.ParseMode,
			MessageQuota: cfg.Channels.Telegram.MessageLimit,
			Templates:    templates,
			Logger:       logger,
		})
		channels = append(channels, tg)
	}

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc := channel.NewDiscord(channel.DiscordOptions{
			Token:        cfg.Channels.Discord.Token,
			GuildID:      cfg.Channels.Discord.GuildID,
			MessageQuota: cfg.Channels.Discord.MessageLimit,
			Templates:    templates,
			Logger:       logger,
		})
		channels = append(channels, dc)
	}

	if len(channels) == 0 {
		return fmt.Errorf("no channels enabled; enable telegram or discord in the config")
	}

	for _, ch := range channels {
		ctrl.RegisterChannel(ch)
		ch := ch
		go func() {
			if err := ch.Start(ctx, messageBus); err != nil {
				logger.Error("channel error", "channel", ch.Name(), "err", err)
			}
		}()
		logger.Info("channel enabled", "channel", ch.Name())
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics.Addr)
	}

	logger.Info("gateway started. Press Ctrl+C to stop.", "version", version)

	<-ctx.Done()
	logger.Info("shutting down gateway...")

	// Graceful shutdown with timeout
	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			_ = ch.Stop()
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metrics.Collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", "err", err)
	}
}

func solveCmd() *cobra.Command {
	var imagePath string
	cmd := &cobra.Command{
		Use:   "solve [question...]",
		Short: "Answer one doubt from the command line",
		Long:  "Runs a single question through the pipeline and prints the answer. Use --image to attach a photo of the problem.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			messageBus := bus.New(10, logger)
			defer messageBus.Close()

			ctrl, templates, cleanup, err := buildPipeline(cfg, messageBus)
			if err != nil {
				return err
			}
			defer cleanup()

			cli := channel.NewCLI(channel.CLIOptions{Templates: templates, Logger: logger})
			ctrl.RegisterChannel(cli)

			ev := domain.InboundEvent{
				Channel:     "cli",
				ChatID:      "direct",
				SenderID:    "user",
				CommandArgs: args,
				Timestamp:   time.Now(),
			}
			if imagePath != "" {
				ev.CommandArgs = nil
				ev.HasPhoto = true
				ev.Photo = domain.PhotoRef(imagePath)
				if len(args) > 0 {
					caption := strings.Join(args, " ")
					ev.PhotoCaption = &caption
				}
			}

			for _, part := range ctrl.Handle(ctx, ev) {
				fmt.Println(part.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "path to an image of the problem")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, provider, and usage status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			completer, err := provider.FromConfig(cfg.Provider, logger)
			if err != nil {
				logger.Error("provider", "err", err)
			} else if err := completer.Healthy(ctx); err != nil {
				logger.Info("provider", "name", completer.Name(), "healthy", false, "err", err)
			} else {
				logger.Info("provider", "name", completer.Name(), "healthy", true)
			}

			if cfg.Stats.Enabled {
				store, err := stats.NewStore(config.ExpandPath(cfg.Stats.DBPath), logger)
				if err != nil {
					return fmt.Errorf("stats store: %w", err)
				}
				defer store.Close()
				totals, err := store.GetTotals(ctx)
				if err != nil {
					return err
				}
				logger.Info("usage",
					"requests", totals.Requests,
					"answered", totals.Answered,
					"rejected", totals.Rejected,
					"failed", totals.Failed,
					"avg_latency_ms", int64(totals.AvgLatencyMs),
				)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
