package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"vidstream/internal/adapters/cookieservice"
	"vidstream/internal/adapters/localstorage"
	"vidstream/internal/adapters/memstore"
	"vidstream/internal/adapters/postgres"
	"vidstream/internal/adapters/redisstore"
	"vidstream/internal/adapters/ytdlp"
	"vidstream/internal/api"
	"vidstream/internal/config"
	"vidstream/internal/core/ports"
	"vidstream/internal/logging"
	"vidstream/internal/metrics"
	"vidstream/internal/platform"
	"vidstream/internal/service"
)

func main() {
	cfg, envFound := config.Load()
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if !envFound {
		logger.Debug().Msg("no .env file found, using environment only")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	m := metrics.New()
	platforms := platform.Default(cfg.PrimaryPlatform)

	runner := ytdlp.NewRunner(ytdlp.DetectBinary(cfg.YtDlpPath), cfg.KillGrace, logger, m)
	logger.Info().Str("binary", runner.BinaryPath()).Msg("extractor configured")

	if err := os.MkdirAll(cfg.CookieDir, 0o700); err != nil {
		return err
	}
	store := localstorage.NewCookieStore(cfg.CookieDir, platforms)

	// Leave remote as a nil interface when unconfigured; the resolver checks for nil.
	var remote ports.CookieExtractor
	if cfg.CookieServiceURL != "" {
		remote = cookieservice.NewClient(cfg.CookieServiceURL, 2*time.Minute)
	}

	auth := service.NewCookieAuthResolver(store, remote, runner, platforms, service.AuthConfig{
		FallbackCookieFile: cfg.FallbackCookieFile,
		Browsers:           cfg.CookieBrowsers,
		ProbeURL:           cfg.BrowserProbeURL,
		ProbeTimeout:       cfg.ProbeTimeout,
		ProbeTTL:           cfg.BrowserProbeTTL,
		AutoExtract:        cfg.AutoExtractCookies,
		Headless:           true,
	}, logger, m)

	extractor := service.NewMetadataExtractor(runner, auth, platforms, service.ExtractorConfig{
		MinInterval:    cfg.MinRequestInterval,
		Timeout:        cfg.MetadataTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		FallbackLadder: service.ParseStrategies(cfg.FallbackLadder),
		UserAgents:     cfg.UserAgents,
	}, logger, m)

	var sessions ports.SessionHistory = memstore.NewSessionLog(200, logger)
	if cfg.PostgresEnabled {
		db, err := postgres.Connect(ctx, cfg.Postgres, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		sessions = postgres.NewSessionRepository(db)
	}

	var results ports.ResultStore = memstore.NewJobStore(cfg.AnalysisResultTTL)
	if cfg.RedisEnabled {
		client, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, keeping analysis results in memory")
		} else {
			defer client.Close()
			results = redisstore.NewJobStore(client, cfg.AnalysisResultTTL)
		}
	}

	pump := service.NewStreamPump(extractor, runner, auth, platforms, sessions, cfg.StreamTimeout, logger, m)
	refresher := service.NewCookieRefresher(store, runner, auth, platforms, []string{cfg.PrimaryPlatform},
		cfg.ProbeTimeout, cfg.CookieRefreshInterval, logger, m)
	orchestrator := service.NewOrchestrator(platforms, extractor, auth, pump, refresher, store, remote, logger)

	queue := service.NewAnalysisQueue(orchestrator, results, platforms.Detect,
		cfg.AnalysisWorkers, cfg.AnalysisQueueSize, cfg.MetadataTimeout*4, logger)
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()
	queue.Start(workerCtx)
	go refresher.Run(workerCtx)

	handler := api.NewHandler(orchestrator, queue, sessions, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		AdminToken:     cfg.AdminToken,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Metrics:        m.Handler(),
	}, logger)
	server := api.NewHTTPServer(cfg, router)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ServerAddress).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		// Long streams are still open; closing cancels their request
		// contexts, which stops their extractor processes.
		logger.Warn().Err(err).Msg("graceful shutdown timed out, closing connections")
		server.Close()
	}
	stopWorkers()
	queue.Wait()
	return nil
}
