// cmd/rest-server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/cors"

	"github.com/Gammanik/chunked-storage/internal/api"
	"github.com/Gammanik/chunked-storage/internal/config"
	"github.com/Gammanik/chunked-storage/internal/logging"
	"github.com/Gammanik/chunked-storage/internal/metastore"
	"github.com/Gammanik/chunked-storage/internal/upload"
)

var configPath = flag.String("config", "", "Path to YAML config file")

func main() {
	flag.Parse()

	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New(*configPath)
	if err != nil {
		return err
	}
	logger := logging.Init(cfg.GetString("log.level"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Инициализируем хранилище метаданных
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := upload.OptionsFromConfig(cfg)
	svc := upload.NewService(upload.Dependency{
		Chunks:  store,
		Catalog: store,
		Logger:  logger,
	}, opts)

	// Первый проход подбирает сессии, брошенные до перезапуска
	go svc.RunJanitor(ctx, cfg.GetDuration("upload.janitor_interval"))

	fileHandler := &api.FileHandler{
		Uploads:       svc,
		MaxChunkSize:  opts.MaxChunkSize,
		MaxObjectSize: opts.MaxObjectSize,
		Logger:        logger,
	}
	router := api.NewRouter(fileHandler, api.NewGate(cfg.GetString("auth.token_sha256")))

	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.GetArray("server.cors_origins"),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "X-Vault-Token", api.HeaderCorrelationID},
		ExposedHeaders: []string{api.HeaderCorrelationID, "Content-Disposition"},
	}).Handler(router)

	// Настраиваем и запускаем HTTP сервер
	server := &http.Server{
		Addr:         cfg.GetString("server.address"),
		Handler:      handler,
		ReadTimeout:  cfg.GetDuration("server.read_timeout"),
		WriteTimeout: cfg.GetDuration("server.write_timeout"),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("REST server starting",
			"address", server.Addr,
			"backend", cfg.GetString("storage.backend"),
		)
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

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetDuration("server.shutdown_timeout"))
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (metastore.Store, error) {
	switch backend := cfg.GetString("storage.backend"); backend {
	case "bolt":
		store, err := metastore.NewBoltStore(cfg.GetString("storage.bolt.path"))
		if err != nil {
			return nil, fmt.Errorf("open metastore: %w", err)
		}
		return store, nil
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		store, err := metastore.NewMongoStore(connectCtx, cfg.GetString("storage.mongo.uri"), cfg.GetString("storage.mongo.database"), logger)
		if err != nil {
			return nil, fmt.Errorf("open metastore: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
