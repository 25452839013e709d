package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wsecho/internal/config"
	"github.com/luciancaetano/wsecho/internal/logging"
	"github.com/luciancaetano/wsecho/internal/websocket"
	"github.com/luciancaetano/wsecho/ws"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:          "wsecho",
		Short:        "WebSocket echo server with heartbeat liveness checks",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	root.AddCommand(serveCmd(&cfgFile))
	root.AddCommand(versionCmd())
	return root
}

type serveFlags struct {
	addr     string
	workers  int
	logLevel string
}

func serveCmd(cfgFile *string) *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgFile, flags)
			if err != nil {
				return err
			}

			log := logging.New(cfg.LogLevel, cfg.LogFormat)
			runtime.GOMAXPROCS(cfg.Workers)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, log)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "OS threads executing sessions (overrides config)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// loadConfig applies command-line overrides on top of file and environment.
func loadConfig(path string, flags serveFlags) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if flags.addr != "" {
		cfg.Addr = flags.addr
	}
	if flags.workers > 0 {
		cfg.Workers = flags.workers
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	return cfg, cfg.Validate()
}

func newServer(cfg config.Config, log *logrus.Logger) *websocket.Server {
	rateLimit := ws.NoRateLimit()
	if cfg.RateLimit.Enabled {
		rateLimit = &ws.RateLimitConfig{
			RequestsPerSecond: rate.Limit(cfg.RateLimit.RequestsPerSecond),
			Burst:             cfg.RateLimit.Burst,
			Enabled:           true,
		}
	}

	return websocket.New(&websocket.ServerConfig{
		Addr: cfg.Addr,
		Path: cfg.Path,
		Heartbeat: websocket.HeartbeatConfig{
			Interval:      cfg.HeartbeatInterval,
			ClientTimeout: cfg.ClientTimeout,
		},
		MaxMessageSize:  cfg.MaxMessageSize,
		WriteWait:       cfg.WriteWait,
		RateLimitConfig: rateLimit,
		CheckOrigin:     ws.AllOrigins(),
		Logger:          log,
	})
}

// run serves until ctx is cancelled, then stops within the shutdown timeout.
func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	server := newServer(cfg, log)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	log.WithFields(logrus.Fields{
		"workers":            cfg.Workers,
		"heartbeat_interval": cfg.HeartbeatInterval,
		"client_timeout":     cfg.ClientTimeout,
	}).Info("wsecho started")

	<-ctx.Done()
	log.Info("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Stop(stopCtx)
}
