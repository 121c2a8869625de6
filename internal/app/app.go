// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/api"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/clock/system"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/config"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/engine"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/fetcher"
	collyfetcher "github.com/Chanseok/crawlMatterCertis-sub005/internal/fetcher/colly"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/fetcher/headless"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/gap"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/hash/sha256"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/logging"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/metrics"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/policy/ratelimit"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/progress"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/progress/sinks"
	memorypub "github.com/Chanseok/crawlMatterCertis-sub005/internal/publisher/memory"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/publisher/pubsub"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/stage"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/storage/memory"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/storage/postgres"
)

// App holds all the shared, long-lived services for the application. It is
// initialized once at startup and passed to the command layer.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	fetcher   catalog.Fetcher
	headless  *headless.Fetcher
	store     catalog.Store
	pgStore   *postgres.Store
	runLog    *postgres.RunLog
	publisher catalog.Publisher
	hub       *progress.Hub
	memSink   *sinks.MemorySink
	metrics   *metrics.Metrics

	engine    *engine.Engine
	detector  *gap.Detector
	collector *gap.Collector

	httpServer *http.Server
}

// New builds the full service graph from configuration. It fails fast when
// any critical collaborator cannot be constructed.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{cfg: cfg, logger: logger}
	clk := system.New()

	mapper, err := catalog.NewPageIndexMapper(cfg.Site.PageSize)
	if err != nil {
		return nil, fmt.Errorf("init page mapper: %w", err)
	}

	if err := a.initFetchers(cfg, logger); err != nil {
		return nil, err
	}
	if err := a.initStore(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err := a.initProgress(cfg, logger); err != nil {
		return nil, err
	}

	a.engine = engine.New(a.fetcher, a.store, mapper, a.hub, a.publisher, clk, engine.Config{
		TotalsTTL:    cfg.TotalsTTL(),
		List:         stageConfig(cfg.Crawl.List),
		Detail:       stageConfig(cfg.Crawl.Detail),
		SkipDetails:  cfg.Crawl.SkipDetails,
		SummaryTopic: cfg.Crawl.SummaryTopic,
	}, logger)
	a.detector = gap.NewDetector(a.store, a.fetcher, mapper, a.hub, clk, logger)
	a.collector = gap.NewCollector(a.fetcher, a.store, mapper, a.hub, clk, logger)

	server := api.NewServer(a.metrics, a.memSink, logger)
	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("application services initialized",
		zap.String("site", cfg.Site.BaseURL),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Bool("postgres", cfg.DB.DSN != ""))
	return a, nil
}

func (a *App) initFetchers(cfg config.Config, logger *zap.Logger) error {
	extractor, err := fetcher.NewExtractor(cfg.Site.BaseURL, cfg.Site.PageSize, fetcher.Selectors{
		RecordRow:   cfg.Selectors.RecordRow,
		RecordLink:  cfg.Selectors.RecordLink,
		RecordTitle: cfg.Selectors.RecordTitle,
		Pagination:  cfg.Selectors.Pagination,
		DetailRow:   cfg.Selectors.DetailRow,
		DetailKey:   cfg.Selectors.DetailKey,
		DetailValue: cfg.Selectors.DetailValue,
	})
	if err != nil {
		return fmt.Errorf("init extractor: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	})
	probe := collyfetcher.New(collyfetcher.Config{
		ListURLTemplate: cfg.Site.ListURLTemplate,
		UserAgent:       cfg.Site.UserAgent,
		Timeout:         cfg.SiteTimeout(),
		IgnoreRobots:    cfg.Site.IgnoreRobots,
	}, extractor, limiter, logger)

	if !cfg.Headless.Enabled {
		a.fetcher = fetcher.NewFallback(probe, headless.NewNoop(), logger)
		return nil
	}
	rendered, err := headless.New(headless.Config{
		ListURLTemplate:   cfg.Site.ListURLTemplate,
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Site.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
	}, extractor, logger)
	if err != nil {
		return fmt.Errorf("init headless fetcher: %w", err)
	}
	a.headless = rendered
	a.fetcher = fetcher.NewFallback(probe, rendered, logger)
	return nil
}

func (a *App) initStore(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.DB.DSN == "" {
		logger.Info("no database configured; records are kept in memory")
		a.store = memory.NewStore()
		return nil
	}
	pg, err := postgres.NewStore(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	}, sha256.New())
	if err != nil {
		return fmt.Errorf("init postgres store: %w", err)
	}
	a.pgStore = pg
	a.store = pg
	a.runLog = pg.RunLog()
	return nil
}

func (a *App) initPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.PubSub.ProjectID == "" {
		logger.Info("no pubsub project configured; run summaries stay in process")
		a.publisher = memorypub.New()
		return nil
	}
	pub, err := pubsub.New(ctx, cfg.PubSub.ProjectID, logger)
	if err != nil {
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.publisher = pub
	return nil
}

func (a *App) initProgress(cfg config.Config, logger *zap.Logger) error {
	a.metrics = metrics.New()
	promSink, err := sinks.NewPrometheusSink(a.metrics.Registry())
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	a.memSink = sinks.NewMemorySink()

	hubSinks := []progress.Sink{promSink, a.memSink}
	if cfg.Crawl.ProgressLogging {
		hubSinks = append(hubSinks, sinks.NewLogSink(logger))
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger}, hubSinks...)
	return nil
}

// StartAPI launches the operational HTTP listener in the background.
func (a *App) StartAPI() {
	go func() {
		a.logger.Info("starting http listener", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http listener failed", zap.Error(err))
		}
	}()
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Engine returns the crawl engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Detector returns the gap detector.
func (a *App) Detector() *gap.Detector {
	return a.detector
}

// Collector returns the gap collector.
func (a *App) Collector() *gap.Collector {
	return a.collector
}

// RunLog returns the Postgres run history, or nil without a database.
func (a *App) RunLog() *postgres.RunLog {
	return a.runLog
}

// GapOptions translates configuration into collection options.
func (a *App) GapOptions() gap.Options {
	return gap.Options{
		MaxConcurrentPages: a.cfg.Gaps.MaxConcurrentPages,
		DelayBetweenPages:  time.Duration(a.cfg.Gaps.DelayBetweenPagesSec) * time.Second,
		PrioritizePartial:  a.cfg.Gaps.PrioritizePartial,
	}
}

// Close shuts down services in reverse dependency order and flushes logs.
func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", zap.Error(err))
	}
	if err := a.hub.Close(shutdownCtx); err != nil {
		a.logger.Warn("progress hub close failed", zap.Error(err))
	}
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("publisher close failed", zap.Error(err))
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	_ = a.logger.Sync()
}

func stageConfig(c config.StageConfig) stage.Config {
	return stage.Config{
		InitialConcurrency: c.Concurrency,
		RetryConcurrency:   c.RetryConcurrency,
		RetryLimit:         c.RetryLimit,
		RetryDelay:         time.Duration(c.RetryDelaySeconds) * time.Second,
	}
}
