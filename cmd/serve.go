package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/tamv/internal/api"
	"github.com/joescharf/tamv/internal/daemon"
	"github.com/joescharf/tamv/internal/dashboard"
	"github.com/joescharf/tamv/internal/gateway"
	"github.com/joescharf/tamv/internal/store"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server exposing the tamv REST API under /api/v1,
including the live dashboard feed, the chat proxy and the gateway status.
By default it listens on port 8080. Use --port to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the API server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

func init() {
	serveCmd.AddCommand(serveStatusCmd)
	serveCmd.AddCommand(serveStopCmd)
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

// gatewayServices returns the configured auxiliary services: the built-in
// ones first, then any extra entries under gateway.services sorted by name.
// A service configured with an empty URL is skipped.
func gatewayServices() []gateway.Service {
	var out []gateway.Service
	known := make(map[string]bool, len(gateway.DefaultServices))
	for _, svc := range gateway.DefaultServices {
		known[svc.Name] = true
		if url := viper.GetString("gateway.services." + svc.Name); url != "" {
			out = append(out, gateway.Service{Name: svc.Name, URL: url})
		}
	}

	configured := viper.GetStringMapString("gateway.services")
	extra := make([]string, 0, len(configured))
	for name := range configured {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	for _, name := range extra {
		if url := configured[name]; url != "" {
			out = append(out, gateway.Service{Name: name, URL: url})
		}
	}
	return out
}

func serveLock() (*daemon.Lock, error) {
	dir, err := configDirFunc()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}
	return daemon.NewLock(filepath.Join(dir, "serve.lock")), nil
}

func serveStatusRun() error {
	lock, err := serveLock()
	if err != nil {
		return err
	}
	info, ok := lock.Running()
	if !ok {
		ui.Info("Server is not running")
		return nil
	}
	ui.Success("Server running (pid %d) at http://localhost%s/api/v1 since %s",
		info.PID, info.Addr, info.StartedAt.Local().Format("2006-01-02 15:04"))
	return nil
}

func serveStopRun() error {
	lock, err := serveLock()
	if err != nil {
		return err
	}
	if dryRun {
		if info, ok := lock.Running(); ok {
			ui.DryRunMsg("Would stop server (pid %d)", info.PID)
		}
		return nil
	}
	info, err := lock.Stop()
	if err != nil {
		return err
	}
	ui.Success("Sent stop signal to server (pid %d)", info.PID)
	return nil
}

func serveRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	s, err := getStore()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	liveInterval, err := time.ParseDuration(viper.GetString("live.interval"))
	if err != nil {
		return fmt.Errorf("invalid live.interval: %w", err)
	}
	snapshotInterval, err := time.ParseDuration(viper.GetString("snapshot.interval"))
	if err != nil {
		return fmt.Errorf("invalid snapshot.interval: %w", err)
	}
	gatewayTimeout, err := time.ParseDuration(viper.GetString("gateway.timeout"))
	if err != nil {
		return fmt.Errorf("invalid gateway.timeout: %w", err)
	}

	opts := api.Options{
		Gateway:      gateway.NewProber(gatewayServices(), gatewayTimeout, gateway.WithLogger(logger)),
		Logger:       logger,
		LiveInterval: liveInterval,
	}
	// A nil *llm.Client must not become a non-nil interface.
	if c := newLLMClient(); c != nil {
		opts.Chat = c
	} else {
		logger.Info("chat disabled: no anthropic.api_key configured")
	}

	apiSrv, err := api.NewServer(s, opts)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	lock, err := serveLock()
	if err != nil {
		return err
	}
	if err := lock.Acquire(addr); err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           apiSrv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ui.Info("Serving API at http://localhost%s/api/v1", addr)
		logger.Info("http server listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	if snapshotInterval > 0 {
		g.Go(func() error {
			recordLoop(gctx, s, snapshotInterval, logger)
			return nil
		})
	}
	return g.Wait()
}

// recordLoop appends one progress snapshot per layer every interval until
// ctx is done. Failures are logged and retried on the next tick.
func recordLoop(ctx context.Context, s store.Store, interval time.Duration, logger *zap.Logger) {
	svc := dashboard.New(s)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snaps, err := svc.RecordProgress(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("record progress snapshot", zap.Error(err))
				}
				continue
			}
			logger.Debug("recorded progress snapshot", zap.Int("layers", len(snaps)))
		}
	}
}
