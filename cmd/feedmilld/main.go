package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/api"
	"github.com/feedmill/feedmill/internal/config"
	"github.com/feedmill/feedmill/internal/distill/rest"
	"github.com/feedmill/feedmill/internal/engine"
	gofeedcrawler "github.com/feedmill/feedmill/internal/feed/gofeed"
	collyfetch "github.com/feedmill/feedmill/internal/fetch/colly"
	"github.com/feedmill/feedmill/internal/ingest"
	"github.com/feedmill/feedmill/internal/logging"
	"github.com/feedmill/feedmill/internal/pipeline"
	"github.com/feedmill/feedmill/internal/progress"
	"github.com/feedmill/feedmill/internal/progress/sinks"
	pubsubpublisher "github.com/feedmill/feedmill/internal/publisher/pubsub"
	"github.com/feedmill/feedmill/internal/storage"
	memorystorage "github.com/feedmill/feedmill/internal/storage/memory"
	"github.com/feedmill/feedmill/internal/storage/postgres"
	"github.com/feedmill/feedmill/internal/telemetry"
)

const version = "0.1.0"

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	runOnStart := flag.Bool("run", false, "Launch a pipeline run once the server is up")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, "feedmill", version)
	if err != nil {
		logger.Fatal("telemetry init failed", zap.Error(err))
	}

	sinkList := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("prometheus sink init failed", zap.Error(err))
	}
	sinkList = append(sinkList, promSink)
	if cfg.PubSub.Enabled {
		pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub publisher init failed", zap.Error(err))
		}
		defer func() {
			if cerr := pub.Close(); cerr != nil {
				logger.Warn("pubsub publisher close error", zap.Error(cerr))
			}
		}()
		sinkList = append(sinkList, sinks.NewNotifySink(pub, cfg.PubSub.TopicName, logger.Named("notify")))
	}
	hub := progress.NewHub(progress.Config{
		BufferSize:   cfg.Progress.Buffer,
		MaxBatchWait: cfg.FlushInterval(),
		Logger:       logger.Named("progress"),
	}, sinkList...)

	registry := progress.NewRegistry(logger.Named("registry"))
	go registry.PruneLoop(ctx, time.Minute, cfg.Retention())

	var (
		feeds   ingest.FeedDirectory
		entries ingest.EntryStore
		pool    *pgxpool.Pool
	)
	switch cfg.Store.Provider {
	case "postgres":
		pool, err = postgres.Connect(ctx, postgres.Config{
			DSN:      cfg.Store.DSN,
			MaxConns: int32(cfg.Store.MaxOpenConns),
		})
		if err != nil {
			logger.Fatal("postgres connect failed", zap.Error(err))
		}
		defer pool.Close()
		feeds = postgres.NewFeedStore(pool)
		entries = postgres.NewEntryStore(pool)
	default:
		feeds = memorystorage.NewFeedStore()
		entries = memorystorage.NewEntryStore()
	}

	blobs, err := storage.NewBlobStore(ctx, cfg.Blob)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	if cfg.Services.DistillerURL == "" {
		logger.Fatal("services.distiller_url is required")
	}
	distiller, err := rest.NewDistiller(rest.Config{
		BaseURL: cfg.Services.DistillerURL,
		Timeout: cfg.DistillTimeout(),
		Logger:  logger.Named("distiller"),
	})
	if err != nil {
		logger.Fatal("distiller client init failed", zap.Error(err))
	}

	rt := engine.New(engine.Options{
		Logger:     logger.Named("engine"),
		RunTimeout: cfg.RunTimeout(),
	})

	deps := pipeline.Deps{
		Feeds: feeds,
		Crawler: gofeedcrawler.New(gofeedcrawler.Config{
			UserAgent: cfg.Feeds.UserAgent,
			Timeout:   time.Duration(cfg.Feeds.TimeoutSeconds) * time.Second,
		}, logger.Named("feeds")),
		Fetcher: collyfetch.New(collyfetch.Config{
			UserAgent:    cfg.Fetch.UserAgent,
			Timeout:      time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
			MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		}, logger.Named("fetch")),
		Entries:   entries,
		Blobs:     blobs,
		Distiller: distiller,
		Registry:  registry,
		Emitter:   hub,
		Runtime:   rt,
		Logger:    logger.Named("pipeline"),
	}
	if cfg.Services.EmbedderURL != "" {
		embedder, err := rest.NewEmbedder(rest.Config{BaseURL: cfg.Services.EmbedderURL, Logger: logger.Named("embedder")})
		if err != nil {
			logger.Fatal("embedder client init failed", zap.Error(err))
		}
		deps.Embedder = embedder
	}
	if cfg.Services.EvaluatorURL != "" {
		evaluator, err := rest.NewEvaluator(rest.Config{BaseURL: cfg.Services.EvaluatorURL, Logger: logger.Named("evaluator")})
		if err != nil {
			logger.Fatal("evaluator client init failed", zap.Error(err))
		}
		deps.Evaluator = evaluator
	}
	if cfg.Services.SearchURL != "" {
		indexer, err := rest.NewSearchIndexer(rest.Config{BaseURL: cfg.Services.SearchURL, Logger: logger.Named("search")})
		if err != nil {
			logger.Fatal("search indexer client init failed", zap.Error(err))
		}
		deps.Indexer = indexer
	}
	if cfg.Services.GraphURL != "" {
		graph, err := rest.NewGraphWriter(rest.Config{BaseURL: cfg.Services.GraphURL, Logger: logger.Named("graph")})
		if err != nil {
			logger.Fatal("graph writer client init failed", zap.Error(err))
		}
		deps.Graph = graph
	}

	pipe, err := pipeline.New(pipeline.Config{
		MaxConcurrentFeeds: cfg.Pipeline.MaxConcurrentFeeds,
		BatchSize:          cfg.Pipeline.BatchSize,
		DomainDelay:        cfg.DomainDelay(),
		HeartbeatEvery:     cfg.Pipeline.HeartbeatEvery,
		InlineDistill:      cfg.Pipeline.InlineDistill,
		EvalEnabled:        cfg.Pipeline.EvalEnabled,
		EvalSampleSize:     cfg.Pipeline.EvalSampleSize,
		MaxEntries:         cfg.Pipeline.MaxEntries,
		Retry: engine.RetryPolicy{
			MaxAttempts: cfg.Tasks.MaxAttempts,
			Interval:    cfg.RetryInterval(),
		},
		TaskTimeout:      cfg.TaskTimeout(),
		DistillTimeout:   cfg.DistillTimeout(),
		HeartbeatTimeout: cfg.HeartbeatTimeout(),
		BlobPrefix:       cfg.Blob.Prefix,
		BlobContentType:  cfg.Blob.ContentType,
	}, deps)
	if err != nil {
		logger.Fatal("pipeline init failed", zap.Error(err))
	}

	var apiOpts []api.Option
	if pool != nil {
		apiOpts = append(apiOpts, api.WithReadyCheck(pool.Ping))
	}
	apiServer := api.NewServer(pipe, logger.Named("api"), apiOpts...)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	if *runOnStart {
		runID := pipe.Launch(ctx)
		logger.Info("startup run launched", zap.String("run_id", runID))
	}

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	drained := make(chan struct{})
	go func() {
		rt.WaitDetached()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn("detached runs still in flight at shutdown")
	}

	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("progress hub close error", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
		logger.Warn("telemetry shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
