package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/approval-relay/internal/api/handler"
	"go.uber.org/zap"
)

type RelayServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Обработчики внешних контрактов
	eventHandler   *handler.EventHandler   // POST /notify
	statusHandler  *handler.StatusHandler  // GET /check_status/{machine_id}
	webhookHandler *handler.WebhookHandler // POST /telegram
}

// NewRelayServer инициализирует сервер relay со всеми зависимостями
func NewRelayServer(
	logger *zap.Logger,
	eventH *handler.EventHandler,
	statusH *handler.StatusHandler,
	webhookH *handler.WebhookHandler,
	gatherer prometheus.Gatherer,
) *RelayServer {
	s := &RelayServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("relay-api"),
		eventHandler:   eventH,
		statusHandler:  statusH,
		webhookHandler: webhookH,
	}

	s.routes(gatherer)
	return s
}

func (s *RelayServer) routes(gatherer prometheus.Gatherer) {
	r := s.router

	// --- Инфраструктурные Middleware ---
	// Recoverer — страховка: один упавший запрос не валит процесс
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Liveness для мониторинга
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Контракт агентов (launchers)
	r.Post("/notify", s.eventHandler.Notify)
	r.Get("/check_status/{machine_id}", s.statusHandler.Check)

	// Транспорт оператора (Telegram webhook)
	r.Post("/telegram", s.webhookHandler.Receive)

	if gatherer != nil {
		r.Get("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	}
}

// ServeHTTP позволяет использовать RelayServer как стандартный http.Handler
func (s *RelayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
