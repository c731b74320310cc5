package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/config"
	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/infra/database"
	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/infra/repository"
	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/present/rest"
	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/service"
	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/usecase"
)

const serviceName = "oer-finder"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	conf, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if conf.Server.EnableTrace {
		shutdown, err := setupTraceProvider(ctx, conf.Server.TraceEndpoint)
		if err != nil {
			slog.Error("failed to set up trace provider", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer func() {
			_ = shutdown(context.Background())
		}()
	}

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		panic("failed to connect database")
	}
	if err := database.MigratePostgres(db); err != nil {
		panic("failed to migrate database")
	}

	sourceRepo := repository.NewSourceRepository(db)
	oerRepo := repository.NewOERRepository(db)

	var seen usecase.SeenCache
	if conf.Server.RedisAddr != "" {
		rdb := database.NewRedis(conf.Server.RedisAddr, "", conf.Server.RedisDB)
		seen = repository.NewRedisSeenCache(rdb)
	}

	ingest := usecase.NewIngestUsecase(sourceRepo, seen, conf.Feed.SourceName)
	deletion := usecase.NewDeletionUsecase(sourceRepo, oerRepo, conf.Feed.SourceName)
	extraction := usecase.NewExtractionUsecase(sourceRepo, oerRepo, conf.Feed.SourceName)

	feed := service.NewFeedService(service.FeedOptions{
		Relays:         conf.Feed.RelayList(),
		ReconnectDelay: conf.Feed.ReconnectDelay(),
		SourceName:     conf.Feed.SourceName,
	}, ingest, deletion, extraction, sourceRepo)

	if conf.Feed.IsEnabled() {
		if err := feed.Start(ctx); err != nil {
			slog.Error("failed to start feed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		slog.Info("feed ingestion disabled by configuration")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	rest.NewHandler(feed).Register(e)

	go func() {
		if err := e.Start(conf.Server.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	feed.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down server", slog.String("error", err.Error()))
	}
}

func setupTraceProvider(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
