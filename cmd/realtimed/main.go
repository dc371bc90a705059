package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/di"
	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/dispatcher"
	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/eventlog"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/adapters/console"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/adapters/webhook"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/auth"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/logger"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/membership"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/push"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/store"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/storage"
)

var configPath = flag.String("config", "", "path to configuration file (optional)")

func main() {
	flag.Parse()

	cfg, engineCfg, err := loadServerConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := newZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	lgr := logger.NewZap(zapLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, cleanup, err := buildProviders(ctx, cfg)
	if err != nil {
		lgr.Error("storage init failed", logger.Field{Key: "error", Value: err})
		os.Exit(1)
	}
	defer cleanup()

	tokens := &auth.Static{Tokens: cfg.Tokens}
	engine, err := di.New(di.Options{
		Config:    engineCfg,
		Storage:   providers,
		Logger:    lgr,
		Directory: &membership.Static{Members: cfg.Topics},
		Auth:      tokens,
		Revoker:   tokens,
		Sender:    buildSender(cfg, lgr),
	})
	if err != nil {
		lgr.Error("engine init failed", logger.Field{Key: "error", Value: err})
		os.Exit(1)
	}

	go engine.Presence.Run(ctx)
	defer engine.Presence.Close()
	go engine.Dispatcher.Run(ctx)
	defer engine.Dispatcher.Close()
	go retentionLoop(ctx, engine.EventLog, lgr)

	mux := http.NewServeMux()
	mux.Handle("/ws", engine.Transport)
	mux.HandleFunc("POST /v1/publish", handleCommand(lgr, engine.Commands.PublishEvent.Execute))
	mux.HandleFunc("POST /v1/ack", handleCommand(lgr, engine.Commands.AckSequence.Execute))
	mux.HandleFunc("POST /v1/offline", handleCommand(lgr, engine.Commands.MarkOffline.Execute))
	mux.HandleFunc("POST /v1/revoke", handleCommand(lgr, engine.Commands.RevokeToken.Execute))
	mux.HandleFunc("POST /v1/prune", handleCommand(lgr, engine.Commands.PruneRetention.Execute))
	mux.HandleFunc("GET /v1/deadletters", handleDeadLetters(lgr, engine.Dispatcher))

	server := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		lgr.Info("listening", logger.Field{Key: "addr", Value: cfg.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lgr.Error("server failed", logger.Field{Key: "error", Value: err})
			stop()
		}
	}()

	<-ctx.Done()
	lgr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		lgr.Error("http shutdown failed", logger.Field{Key: "error", Value: err})
	}
	engine.Hub.Shutdown("server stopping")
}

func newZapLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// buildProviders selects the storage backend. SQLite keeps the event log
// and job queue across restarts; memory is for local development only.
func buildProviders(ctx context.Context, cfg *serverConfig) (storage.Providers, func(), error) {
	if cfg.Storage == "memory" {
		return storage.NewMemoryProviders(), func() {}, nil
	}

	sqldb, err := sql.Open(sqliteshim.DriverName(), cfg.DSN)
	if err != nil {
		return storage.Providers{}, nil, fmt.Errorf("open sqlite: %w", err)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())

	models := []any{
		(*domain.Event)(nil),
		(*domain.TopicSequence)(nil),
		(*domain.DeliveryJob)(nil),
		(*domain.DeadLetter)(nil),
		(*domain.ClientAck)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			db.Close()
			return storage.Providers{}, nil, fmt.Errorf("create table: %w", err)
		}
	}

	return storage.NewBunProviders(db), func() { db.Close() }, nil
}

func buildSender(cfg *serverConfig, lgr logger.Logger) push.Sender {
	switch cfg.Sender {
	case "webhook":
		return webhook.New(lgr, webhook.WithConfig(webhook.Config{URL: cfg.WebhookURL}))
	case "none":
		return &push.Nop{}
	default:
		return console.New(lgr)
	}
}

// retentionLoop enforces the event retention window in the background.
func retentionLoop(ctx context.Context, eventLog *eventlog.Service, lgr logger.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := eventLog.PruneAll(ctx); err != nil {
				lgr.Error("retention prune failed", logger.Field{Key: "error", Value: err})
			}
		}
	}
}

// handleCommand adapts a go-command handler to a JSON POST endpoint.
func handleCommand[T any](lgr logger.Logger, execute func(context.Context, T) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg T
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if err := execute(r.Context(), msg); err != nil {
			lgr.Warn("command failed", logger.Field{Key: "error", Value: err})
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleDeadLetters(lgr logger.Logger, pusher *dispatcher.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := r.URL.Query().Get("identity")
		if identity == "" {
			http.Error(w, "identity is required", http.StatusBadRequest)
			return
		}
		letters, err := pusher.DeadLetters(r.Context(), identity, store.ListOptions{Limit: 100})
		if err != nil {
			lgr.Error("dead letter lookup failed", logger.Field{Key: "error", Value: err})
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(letters)
	}
}
