// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the speech-assessment analysis pipeline:
// HTTP routing, the event bus client, the per-question coordination and
// analysis state machines, the results store, file session management, and
// observability.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12310}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// Options carries dependency overrides (bus, database, analyzers) used by
// tests and alternative deployments.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/speechassess/pkg/vocabulary"
	"github.com/AleutianAI/speechassess/services/analyzers"
	"github.com/AleutianAI/speechassess/services/audio"
	"github.com/AleutianAI/speechassess/services/database"
	"github.com/AleutianAI/speechassess/services/orchestrator/aggregator"
	"github.com/AleutianAI/speechassess/services/orchestrator/analysis"
	"github.com/AleutianAI/speechassess/services/orchestrator/config"
	"github.com/AleutianAI/speechassess/services/orchestrator/coordinator"
	"github.com/AleutianAI/speechassess/services/orchestrator/eventbus"
	"github.com/AleutianAI/speechassess/services/orchestrator/filesession"
	"github.com/AleutianAI/speechassess/services/orchestrator/handlers"
	"github.com/AleutianAI/speechassess/services/orchestrator/maintenance"
	"github.com/AleutianAI/speechassess/services/orchestrator/observability"
	"github.com/AleutianAI/speechassess/services/orchestrator/resultstore"
	"github.com/AleutianAI/speechassess/services/orchestrator/routes"
	"github.com/AleutianAI/speechassess/services/transcribe"
)

// Service defines the contract for the orchestrator service.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for integration testing.
	Router() *gin.Engine
}

// Config holds orchestrator configuration. Zero values use defaults.
type Config struct {
	// Port is the HTTP server port. Default: 12310.
	Port int

	// GinMode sets the Gin framework mode (debug, release, test).
	GinMode string

	// ConfigPath points at the optional YAML config file (topic map,
	// cleanup intervals, push token). Watched for hot reload when set.
	ConfigPath string

	// ProjectID selects the broker project. Empty disables the broker;
	// events are logged only.
	ProjectID string

	// DatabaseDSN is the Postgres connection string. Empty disables
	// persistence (results are logged and dropped).
	DatabaseDSN string

	// OTelEndpoint is the OpenTelemetry collector endpoint. Empty
	// disables tracing.
	OTelEndpoint string

	// EnableMetrics mounts /metrics and registers pipeline metrics.
	// Default: true.
	EnableMetrics bool

	// OpenAIKey and OpenAIModel configure the text analyzers and the
	// transcription client.
	OpenAIKey   string
	OpenAIModel string

	// SpeechKey and SpeechRegion configure the pronunciation assessor.
	SpeechKey    string
	SpeechRegion string

	// WorkDir is where downloaded and transcoded audio lives. Default:
	// system temp directory.
	WorkDir string
}

// Options carries dependency overrides. Nil fields use production
// implementations.
type Options struct {
	Bus        eventbus.Publisher
	DB         database.Store
	Analyzers  *analysis.AnalyzerSet
	Audio      handlers.SubmissionProcessor
	Transcribe handlers.SubmissionProcessor
}

// service implements Service.
type service struct {
	config  Config
	file    *config.File
	router  *gin.Engine
	bus     eventbus.Publisher
	pubsub  *eventbus.PubSubPublisher
	store   *resultstore.Store
	files   *filesession.Manager
	sched   *maintenance.Scheduler
	watcher *config.Watcher
	db      database.Store
	dbPool  *pgxpool.Pool
	gcs     *storage.Client

	tracerCleanup func(context.Context)
}

// New creates a fully wired orchestrator Service.
func New(cfg Config, opts *Options) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	if opts == nil {
		opts = &Options{}
	}

	// Deployment config file (topic map, cleanup tuning, push token).
	if s.config.ConfigPath != "" {
		file, err := config.Load(s.config.ConfigPath)
		if err != nil {
			return nil, err
		}
		s.file = file
	} else {
		s.file = &config.File{}
	}

	if s.config.OTelEndpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	if s.config.EnableMetrics && observability.Default() == nil {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus pipeline metrics")
	}

	// The vocabulary registry loads before any handler is served; lazy
	// init inside request paths is exactly what the startup hook avoids.
	if path := s.file.Vocabulary.WordListPath; path != "" {
		if err := vocabulary.Init(path); err != nil {
			return nil, fmt.Errorf("failed to initialize vocabulary registry: %w", err)
		}
		slog.Info("vocabulary registry loaded", "path", path, "entries", vocabulary.Default().Len())
	} else {
		slog.Warn("no vocabulary word list configured; vocabulary analysis will error")
	}

	if err := s.initBus(opts); err != nil {
		s.cleanup()
		return nil, err
	}
	if err := s.initDatabase(opts); err != nil {
		s.cleanup()
		return nil, err
	}

	// Tap the bus for the debug event stream before wiring any consumer,
	// so the stream sees exactly what the broker sees.
	hub := handlers.NewEventHub()
	s.bus = eventbus.Multi(s.bus, hub)

	s.store = resultstore.New()
	s.files = filesession.NewManager()

	coordOpts := []coordinator.Option{}
	if m := s.file.Cleanup.CoordinatorMaxAgeMinutes; m > 0 {
		coordOpts = append(coordOpts, coordinator.WithMaxStateAge(time.Duration(m)*time.Minute))
	}
	coord := coordinator.New(s.bus, coordOpts...)

	analyzerSet := s.buildAnalyzers(opts)
	analysisCfg := analysis.Config{
		StageTimeout:   time.Duration(s.file.Analysis.StageTimeoutSeconds) * time.Second,
		FluencyUsesWAV: s.file.Analysis.FluencyUsesWAV,
	}
	analysisOrch := analysis.New(analyzerSet, s.bus, s.store, s.files, analysisCfg)

	agg := aggregator.New(s.store, s.db, s.bus, s.files)

	fileDeps := []string{analysis.StagePronunciation}
	if s.file.Analysis.FluencyUsesWAV {
		fileDeps = append(fileDeps, analysis.StageFluency)
	}

	sessionTimeout := time.Duration(s.file.Cleanup.SessionTimeoutMinutes) * time.Minute
	audioSvc := opts.Audio
	if audioSvc == nil {
		// Object storage access for gs:// recording URLs; credentials come
		// from the environment, like the broker's.
		if gcs, err := storage.NewClient(context.Background()); err != nil {
			slog.Warn("object storage client unavailable, gs:// URLs will fail", "error", err)
		} else {
			s.gcs = gcs
		}
		audioSvc = audio.New(s.bus, s.files, s.gcs, nil, s.config.WorkDir, fileDeps, sessionTimeout)
	}
	transcribeSvc := opts.Transcribe
	if transcribeSvc == nil {
		transcribeSvc = transcribe.New(s.bus, s.config.OpenAIKey, nil, s.config.WorkDir)
	}

	interval := maintenance.DefaultInterval
	if m := s.file.Cleanup.IntervalMinutes; m > 0 {
		interval = time.Duration(m) * time.Minute
	}
	s.sched = maintenance.NewScheduler(interval,
		maintenance.Task{Name: "file-sessions", Sweep: s.files.PeriodicCleanup},
		maintenance.Task{Name: "coordination-state", Sweep: coord.PurgeStale},
		maintenance.Task{Name: "analysis-state", Sweep: analysisOrch.PurgeStale(coordinator.DefaultMaxStateAge)},
	)

	s.initRouter(routes.Deps{
		Bus:           s.bus,
		Coordinator:   coord,
		Analysis:      analysisOrch,
		Aggregator:    agg,
		Store:         s.store,
		Files:         s.files,
		Scheduler:     s.sched,
		Audio:         audioSvc,
		Transcribe:    transcribeSvc,
		Analyzers:     analyzerSet,
		EventHub:      hub,
		PushToken:     s.file.PushToken,
		EnableMetrics: s.config.EnableMetrics,
	})

	if s.config.ConfigPath != "" {
		if err := s.initConfigWatcher(); err != nil {
			slog.Warn("config watcher initialization failed", "error", err)
			// Not fatal - continue without hot reload
		}
	}

	return s, nil
}

// Run starts the maintenance scheduler and the HTTP server, blocking until
// the server stops.
func (s *service) Run() error {
	defer s.cleanup()

	if err := s.sched.Start(context.Background()); err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting analysis orchestrator server", "port", s.config.Port)
	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	cfg.EnableMetrics = true
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing via OTLP/gRPC.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("speechassess-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}

// initBus selects the event bus implementation: injected, Pub/Sub, or
// log-only for local development.
func (s *service) initBus(opts *Options) error {
	if opts.Bus != nil {
		s.bus = opts.Bus
		return nil
	}
	if s.config.ProjectID == "" {
		slog.Info("no broker project configured, events are log-only")
		s.bus = eventbus.NopPublisher{}
		return nil
	}

	topicMap := eventbus.DefaultTopicMap()
	for name, id := range s.file.Topics {
		topicMap[name] = id
	}
	pub, err := eventbus.NewPubSubPublisher(context.Background(), s.config.ProjectID, topicMap)
	if err != nil {
		return err
	}
	s.pubsub = pub
	s.bus = pub
	return nil
}

// initDatabase selects the persistence implementation.
func (s *service) initDatabase(opts *Options) error {
	if opts.DB != nil {
		s.db = opts.DB
		return nil
	}
	if s.config.DatabaseDSN == "" {
		slog.Warn("no database configured, final results will not be persisted")
		s.db = database.NopStore{}
		return nil
	}

	pool, err := pgxpool.New(context.Background(), s.config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	store := database.NewPostgresStore(pool)
	if err := store.Migrate(context.Background()); err != nil {
		pool.Close()
		return err
	}
	s.dbPool = pool
	s.db = store
	slog.Info("database connection established")
	return nil
}

// buildAnalyzers wires the production analyzer set, honoring overrides.
func (s *service) buildAnalyzers(opts *Options) analysis.AnalyzerSet {
	if opts.Analyzers != nil {
		return *opts.Analyzers
	}
	client := analyzers.NewClient(s.config.OpenAIKey, s.config.OpenAIModel)
	assessor := analyzers.NewPronunciationAssessor(s.config.SpeechKey, s.config.SpeechRegion, nil)
	return analysis.AnalyzerSet{
		Pronunciation: assessor.Analyze,
		Grammar:       client.Grammar,
		Lexical:       client.Lexical,
		Vocabulary:    client.Vocabulary,
		Fluency:       client.Fluency,
	}
}

// initRouter sets up the Gin engine with all routes.
func (s *service) initRouter(deps routes.Deps) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	if s.config.OTelEndpoint != "" {
		s.router.Use(otelgin.Middleware("speechassess-orchestrator"))
	}
	routes.SetupRoutes(s.router, deps)
}

// initConfigWatcher hot-reloads the topic map when the config file
// changes. Other settings require a restart.
func (s *service) initConfigWatcher() error {
	watcher, err := config.NewWatcher(s.config.ConfigPath, func(_, file *config.File) {
		if s.pubsub == nil {
			return
		}
		topicMap := eventbus.DefaultTopicMap()
		for name, id := range file.Topics {
			topicMap[name] = id
		}
		s.pubsub.SetTopicMap(topicMap)
	})
	if err != nil {
		return err
	}
	s.watcher = watcher
	return nil
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.sched != nil {
		s.sched.Stop()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			slog.Warn("event bus close error", "error", err)
		}
	}
	if s.dbPool != nil {
		s.dbPool.Close()
	}
	if s.gcs != nil {
		if err := s.gcs.Close(); err != nil {
			slog.Warn("object storage client close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// Compile-time interface compliance.
var _ Service = (*service)(nil)
