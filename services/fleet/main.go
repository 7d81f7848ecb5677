// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/AleutianFleet/services/fleet/collaborators"
	"github.com/AleutianAI/AleutianFleet/services/fleet/correlator"
	"github.com/AleutianAI/AleutianFleet/services/fleet/middleware"
	"github.com/AleutianAI/AleutianFleet/services/fleet/observability"
	"github.com/AleutianAI/AleutianFleet/services/fleet/registry"
	"github.com/AleutianAI/AleutianFleet/services/fleet/routes"
	"github.com/AleutianAI/AleutianFleet/services/fleet/storage/badgerstore"
	"github.com/AleutianAI/AleutianFleet/services/fleet/ueba"
	"github.com/AleutianAI/AleutianFleet/services/fleet/workflow"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "aleutian-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("fleet-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	port := os.Getenv("FLEET_PORT")
	if port == "" {
		port = "12300"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	// --- Persistence tier ---
	var (
		runStore     workflow.RunStore
		vehicleStore workflow.VehicleStateStore
		orderStore   correlator.ProcurementStore
		actionLog    ueba.ActionLog
	)
	dataDir := os.Getenv("FLEET_DATA_DIR")
	if dataDir != "" {
		cfg := badgerstore.DefaultConfig()
		cfg.Path = dataDir
		cfg.Logger = logger
		db, err := badgerstore.Open(cfg)
		if err != nil {
			log.Fatalf("FATAL: could not open the embedded database: %v", err)
		}
		defer db.Close()
		runStore = badgerstore.NewRunStore(db)
		vehicleStore = badgerstore.NewVehicleStateStore(db)
		orderStore = badgerstore.NewProcurementStore(db)
		persistentActions, err := badgerstore.NewActionLog(db, logger)
		if err != nil {
			log.Fatalf("FATAL: could not open the action log: %v", err)
		}
		defer persistentActions.Release()
		actionLog = persistentActions
		slog.Info("embedded database opened", "path", dataDir)
	} else {
		slog.Info("FLEET_DATA_DIR not set, running with in-memory stores")
		runStore = workflow.NewMemRunStore()
		vehicleStore = workflow.NewMemVehicleStateStore()
		actionLog = ueba.NewMemActionLog()
	}

	// --- Timeseries sink ---
	var sink observability.TelemetrySink
	if influxURL := os.Getenv("INFLUX_URL"); influxURL != "" {
		influxSink, err := observability.NewInfluxSink(observability.InfluxConfig{
			URL:    influxURL,
			Token:  os.Getenv("INFLUX_TOKEN"),
			Org:    os.Getenv("INFLUX_ORG"),
			Bucket: os.Getenv("INFLUX_BUCKET"),
		})
		if err != nil {
			slog.Warn("timeseries sink disabled", "error", err)
		} else {
			defer influxSink.Close()
			sink = influxSink
			slog.Info("timeseries sink connected", "url", influxURL)
		}
	} else {
		slog.Info("INFLUX_URL not set, telemetry points will not be archived")
	}

	// --- Security guard ---
	reg, err := registry.NewAgentRegistry()
	if err != nil {
		log.Fatalf("FATAL: could not load the capability manifest: %v", err)
	}
	alertLog := ueba.NewMemAlertLog()
	guard, err := ueba.NewGuard(reg, actionLog, alertLog,
		ueba.DefaultConfig(), nil, logger)
	if err != nil {
		log.Fatalf("FATAL: could not initialize the behavioral guard: %v", err)
	}

	// --- Fleet correlator ---
	fleetCorrelator := correlator.New(correlator.DefaultConfig(),
		nil, orderStore, nil, logger, observability.DefaultMetrics)

	// --- Workflow orchestrator ---
	orch, err := workflow.NewOrchestrator(workflow.DefaultConfig(),
		workflow.DefaultTransitions(), workflow.Deps{
			Collaborators: workflow.Collaborators{
				Analyzer:  collaborators.NewAnalyzer(sink, logger),
				Predictor: collaborators.NewPredictor(),
				Engager:   collaborators.NewEngager(nil),
				Scheduler: collaborators.NewScheduler(nil),
				Feedback:  collaborators.NewFeedbackCollector(nil),
				Reporter:  collaborators.NewReporter(logger),
			},
			Guard:      guard,
			Correlator: fleetCorrelator,
			Runs:       runStore,
			Vehicles:   vehicleStore,
			Logger:     logger,
			Metrics:    observability.DefaultMetrics,
		})
	if err != nil {
		log.Fatalf("FATAL: could not initialize the workflow orchestrator: %v", err)
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("fleet-service"))

	routes.SetupRoutes(router, routes.Deps{
		Orchestrator: orch,
		Runs:         runStore,
		Vehicles:     vehicleStore,
		Guard:        guard,
		Actions:      actionLog,
		Alerts:       alertLog,
		Registry:     reg,
		Correlator:   fleetCorrelator,
		RateLimiter:  middleware.NewRateLimiter(middleware.DefaultRateLimitConfig()),
	})

	log.Println("Starting the fleet server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
