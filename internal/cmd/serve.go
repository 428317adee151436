package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/simstat/internal/config"
	"github.com/3leaps/simstat/internal/observability"
	"github.com/3leaps/simstat/internal/server"
	"github.com/3leaps/simstat/internal/server/handlers"
	"github.com/3leaps/simstat/pkg/crawler"
	"github.com/3leaps/simstat/pkg/jobstate"
	"github.com/3leaps/simstat/pkg/manifest"
	"github.com/3leaps/simstat/pkg/metrics"
	"github.com/3leaps/simstat/pkg/output"
	"github.com/3leaps/simstat/pkg/provider"
	"github.com/3leaps/simstat/pkg/publish"
)

var serveCmd = &cobra.Command{
	Use:   "serve [root]",
	Short: "Serve job state over HTTP",
	Long: `Serve the state of the jobs under root over HTTP.

Endpoints:
  GET /jobs              all records (?format=json|jsonl|table&sort=&reverse=&status=&group=)
  GET /jobs/{job}        one record (?group= when the name is ambiguous)
  GET /diagnostics       problems found by the last scan
  GET /health/*          liveness, readiness and startup probes
  GET /version           build information
  GET /metrics           Prometheus metrics (metrics.enabled)

Scans run on demand and are cached for server.cache_ttl. With
--publish-interval the latest snapshot is also written to the publish
destination on a timer.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

var (
	serveFlagSet         scanFlags
	serveHost            string
	servePort            int
	serveCacheTTL        time.Duration
	servePublishInterval time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveFlagSet.register(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (default from config: localhost)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default from config: 8080)")
	serveCmd.Flags().DurationVar(&serveCacheTTL, "cache-ttl", 0, "Reuse a scan for this long (default from config: 30s)")
	serveCmd.Flags().DurationVar(&servePublishInterval, "publish-interval", 0, "Publish the snapshot to publish.destination on this interval (0 = never)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	overrides := map[string]any{}
	fl := cmd.Flags()
	if fl.Changed("host") {
		overrides["server.host"] = serveHost
	}
	if fl.Changed("port") {
		overrides["server.port"] = servePort
	}
	if fl.Changed("cache-ttl") {
		overrides["server.cache_ttl"] = serveCacheTTL
	}
	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	id := appIdentity
	if id == nil {
		id = config.DefaultIdentity()
	}
	if err := observability.InitServerLogger(id.BinaryName, cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	logger := observability.ServerLogger

	m, err := buildManifest(cmd, args, &serveFlagSet)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid scan configuration", err)
	}

	var pub *publish.Publisher
	if servePublishInterval > 0 {
		pub, err = openServePublisher(ctx, m)
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
	}

	cache := handlers.NewJobsCache(scanFunc(m, logger), cfg.Server.CacheTTL)

	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("root", rootChecker{root: m.Root})
	health.RegisterChecker("signals", signalHealthChecker{shutdown: ctx})
	health.RegisterChecker("identity", identityHealthChecker{
		binaryName: id.BinaryName,
		envPrefix:  id.EnvPrefix,
		configName: id.ConfigName,
	})
	if pub != nil {
		health.RegisterChecker("publish", pub)
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithJobs(handlers.NewJobsHandler(cache, m.Match.Includes, m.Match.Excludes)),
		server.WithPprof(cfg.Debug.PprofEnabled),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		if err := registerJobCollector(cache); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to register metrics", err)
		}
		health.RegisterChecker("metrics", metricsHealthChecker{gatherer: prometheus.DefaultGatherer})
		if cfg.Metrics.Port == 0 || cfg.Metrics.Port == cfg.Server.Port {
			opts = append(opts, server.WithMetrics(metrics.Handler()))
		} else {
			router := chi.NewRouter()
			router.Handle("/metrics", metrics.Handler())
			metricsSrv = &http.Server{
				Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Metrics.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
		}
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("Starting server",
			zap.String("addr", srv.Addr()),
			zap.String("root", m.Root),
			zap.Duration("cache_ttl", cfg.Server.CacheTTL),
			zap.Bool("metrics", cfg.Metrics.Enabled),
			zap.Bool("pprof", cfg.Debug.PprofEnabled))
		errCh <- srv.ListenAndServe()
	}()
	if metricsSrv != nil {
		go func() {
			logger.Info("Starting metrics listener", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	if pub != nil {
		go publishLoop(loopCtx, cache, pub, m, servePublishInterval, logger)
	}

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	cancelLoop()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
		return exitError(foundry.ExitSignalInt, "Graceful shutdown failed", err)
	}
	logger.Info("Server stopped")
	return nil
}

// scanFunc builds the cache's scan function. Each call builds a fresh
// crawler so a scan never shares state with a previous one.
func scanFunc(m *manifest.Manifest, logger *zap.Logger) handlers.ScanFunc {
	return func(ctx context.Context) (*crawler.JobSet, error) {
		c, err := newCrawler(m)
		if err != nil {
			return nil, err
		}
		set, err := c.WithLogger(logger.Named("crawler")).Run(ctx)
		metrics.ObserveScan(set, err)
		if err != nil {
			return nil, err
		}
		set.Sort(jobstate.ByJobName)
		return set, nil
	}
}

func registerJobCollector(src metrics.Source) error {
	err := prometheus.Register(metrics.NewJobCollector(src))
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return nil
	}
	return err
}

func openServePublisher(ctx context.Context, m *manifest.Manifest) (*publish.Publisher, error) {
	dest, err := publish.ParseDestination(m.Publish.Destination)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid publish destination", err)
	}
	if dest.Kind == publish.KindStdout {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid publish destination",
			errors.New("--publish-interval needs a file: or s3:// destination"))
	}
	if isReadOnly() {
		return nil, exitError(foundry.ExitInvalidArgument, "Publishing disabled",
			fmt.Errorf("readonly mode: refusing to write %s", dest))
	}
	pub, err := publish.New(ctx, dest, publish.Options{
		Region:         m.Publish.Region,
		Endpoint:       m.Publish.Endpoint,
		Profile:        m.Publish.Profile,
		ForcePathStyle: m.Publish.ForcePathStyle,
	})
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open destination", err)
	}
	return pub, nil
}

// publishLoop writes a fresh snapshot every interval until ctx is done.
// Failures are logged and retried on the next tick.
func publishLoop(ctx context.Context, cache *handlers.JobsCache, pub *publish.Publisher, m *manifest.Manifest, interval time.Duration, logger *zap.Logger) {
	format, err := output.ParseFormat(m.Report.Format)
	if err != nil {
		format = output.FormatJSONL
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := publishOnce(ctx, cache, pub, m, format); err != nil && ctx.Err() == nil {
			log := logger.Error
			if provider.IsTransient(err) {
				log = logger.Warn
			}
			log("Snapshot publish failed",
				zap.String("destination", pub.Destination().String()),
				zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func publishOnce(ctx context.Context, cache *handlers.JobsCache, pub *publish.Publisher, m *manifest.Manifest, format output.Format) error {
	if err := cache.Refresh(ctx); err != nil {
		return err
	}
	set := cache.Snapshot()
	if set == nil {
		return errors.New("no snapshot available")
	}

	var buf bytes.Buffer
	snap := output.Snapshot{
		ScanID:   uuid.New().String(),
		Set:      set,
		Includes: m.Match.Includes,
		Excludes: m.Match.Excludes,
	}
	if err := output.Render(ctx, &buf, format, snap); err != nil {
		return err
	}
	return pub.Publish(ctx, buf.Bytes(), format.ContentType())
}

// rootChecker reports whether the scan root can be listed.
type rootChecker struct {
	root string
}

func (c rootChecker) CheckHealth(ctx context.Context) error {
	f, err := os.Open(c.root)
	if err != nil {
		return fmt.Errorf("scan root: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("scan root: %w", err)
	}
	return nil
}

// signalHealthChecker fails once a termination signal has cancelled the
// command context, so readiness drops while the server drains.
type signalHealthChecker struct {
	shutdown context.Context
}

func (c signalHealthChecker) CheckHealth(ctx context.Context) error {
	if c.shutdown == nil {
		return errors.New("signal handling not initialized")
	}
	if c.shutdown.Err() != nil {
		return fmt.Errorf("shutting down: %w", context.Cause(c.shutdown))
	}
	return nil
}

// metricsHealthChecker reports whether the registry can be gathered.
type metricsHealthChecker struct {
	gatherer prometheus.Gatherer
}

func (c metricsHealthChecker) CheckHealth(ctx context.Context) error {
	if c.gatherer == nil {
		return errors.New("metrics registry not initialized")
	}
	if _, err := c.gatherer.Gather(); err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	return nil
}

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity missing env prefix")
	case c.configName == "":
		return errors.New("app identity missing config name")
	}
	return nil
}
