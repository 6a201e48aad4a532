package main

import (
	"context"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/srediag/shmregion/internal/logging"
	"github.com/srediag/shmregion/pkg/health"
	"github.com/srediag/shmregion/pkg/kernel"
	"github.com/srediag/shmregion/pkg/region"
)

var logger = logging.New("shmctl")

type serveOptions struct {
	addr          string
	flushInterval time.Duration
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}

func newServeCmd() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve metrics, health checks and a table dump over HTTP",
		Long: `The serve command boots a table and keeps it running behind an HTTP server:

  /metrics      prometheus metrics
  /live /ready  health checks
  /debug/table  occupied slots

When --config is set the file is watched and its log level reapplied on change.

Example:
  shmctl serve --addr :9090 --config shmregion.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":9090", "listen address")
	cmd.Flags().DurationVar(&opts.flushInterval, "audit-flush", 5*time.Second, "audit log flush interval")
	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	k, err := boot(ctx, kernel.WithRegisterer(reg))
	if err != nil {
		return err
	}
	defer func() {
		if err := k.Shutdown(context.Background()); err != nil {
			logger.Warnf("shutdown: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	hc := health.NewHandler(k.Table(), k.Frames(), &health.Options{Registerer: reg, Namespace: "shm"})
	mux.Handle("/live", hc)
	mux.Handle("/ready", hc)
	mux.HandleFunc("/debug/table", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		region.DebugTableDetail(w, k.Table())
	})
	srv := &http.Server{Addr: opts.addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("listening on %s", opts.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		t := time.NewTicker(opts.flushInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				k.Audit().Flush()
			}
		}
	})
	if configPath != "" {
		g.Go(func() error { return watchConfig(ctx, configPath) })
	}
	return g.Wait()
}

// watchConfig reapplies the log level whenever path is written or replaced.
// The directory is watched so editors that rename over the file are seen.
func watchConfig(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "config watcher")
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return errors.Wrapf(err, "watch %s", path)
	}
	want := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != want || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			reloadLogLevel(path)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("config watcher: %v", err)
		}
	}
}

func reloadLogLevel(path string) {
	cfg, err := kernel.LoadConfig(path)
	if err != nil {
		logger.Warnf("reload %s: %v", path, err)
		return
	}
	if cfg.LogLevel == nil {
		return
	}
	logging.SetLogLevel(*cfg.LogLevel)
	logger.Infof("log level set to %d from %s", *cfg.LogLevel, path)
}
