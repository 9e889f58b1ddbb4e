package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/approval-relay/internal/api/handler"
	"github.com/xela07ax/approval-relay/internal/api/server"
	"github.com/xela07ax/approval-relay/internal/infra"
	"github.com/xela07ax/approval-relay/internal/relay"
	"github.com/xela07ax/approval-relay/internal/repository/postgres"
	"github.com/xela07ax/approval-relay/internal/store"
	"github.com/xela07ax/approval-relay/internal/telegram"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Redis: используется и как Store-бэкенд, и для трансляции решений
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	// 3. Хранилище запросов — граница персистентности
	requestStore, cleanup, err := buildStore(appCtx, cfg, rdb)
	if err != nil {
		logger.Fatal("store init failed", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer cleanup()
	logger.Info("request store ready", zap.String("backend", cfg.Store.Backend))

	// 4. Транспорт оператора: Bot API клиент + предохранитель
	tgClient := telegram.NewClient(cfg.Telegram, logger)
	notifier := telegram.NewReliabilityWrapper(tgClient)

	// 5. Метрики
	reg := prometheus.NewRegistry()
	metrics := relay.NewMetrics(reg)

	// 6. Ядро и слои API (Dependency Injection, без глобалов)
	svc := relay.NewService(requestStore, notifier, rdb, metrics, logger, cfg.Telegram.AdminChatID)

	srv := server.NewRelayServer(
		logger,
		handler.NewEventHandler(svc),
		handler.NewStatusHandler(svc),
		handler.NewWebhookHandler(svc, notifier, logger),
		reg,
	)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Регистрация вебхука. Идемпотентна на стороне Bot API, поэтому
	// здесь (и только здесь) допустимы повторы с бэкоффом.
	webhookEndpoint := strings.TrimRight(cfg.Telegram.WebhookURL, "/") + "/telegram"
	r := retry.New(retry.Context(appCtx), retry.Attempts(5))
	if err := r.Do(func() error {
		return notifier.SetWebhook(appCtx, webhookEndpoint)
	}); err != nil {
		logger.Fatal("webhook registration failed", zap.String("url", webhookEndpoint), zap.Error(err))
	}
	logger.Info("webhook registered", zap.String("url", webhookEndpoint))

	// 8. Запуск и Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("approval relay started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("approval relay stopping...")

	// Даем 5 секунд на завершение запросов и снятие вебхука
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := notifier.DeleteWebhook(shutdownCtx); err != nil {
		logger.Warn("webhook removal failed", zap.Error(err))
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("approval relay exited properly")
}

// buildStore выбирает бэкенд хранилища по конфигу.
// Контракт Store одинаков для всех трех реализаций.
func buildStore(ctx context.Context, cfg *infra.Config, rdb *redis.Client) (store.Store, func(), error) {
	noop := func() {}

	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStore(), noop, nil

	case "redis":
		if rdb == nil {
			return nil, noop, fmt.Errorf("redis.addr is required for the redis store backend")
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, noop, fmt.Errorf("redis unreachable: %w", err)
		}
		return store.NewRedisStore(rdb), noop, nil

	case "postgres":
		repo, err := postgres.NewRequestRepo(ctx, cfg.Database)
		if err != nil {
			return nil, noop, err
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		if err := repo.Ping(pingCtx); err != nil {
			repo.Close()
			return nil, noop, fmt.Errorf("database unreachable: %w", err)
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return nil, noop, err
		}
		return repo, repo.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
