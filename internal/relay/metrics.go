package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: входящие события по видам
	EventsTotal *prometheus.CounterVec

	// Решения оператора по исходам (applied / already_decided / not_found)
	DecisionsTotal *prometheus.CounterVec

	// Errors: сбои доставки в канал оператора (non-fatal)
	DeliveryFailures prometheus.Counter

	// Отклоненные callback'и (нераспознанное действие, битая метка)
	ActionsRejected prometheus.Counter

	// Поллинг статуса агентами
	StatusPolls prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		EventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Total number of inbound agent events by kind.",
		}, []string{"kind"}),

		DecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "relay_decisions_total",
			Help: "Total number of operator decision attempts by outcome.",
		}, []string{"result"}),

		DeliveryFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "relay_delivery_failures_total",
			Help: "Total number of failed deliveries to the operator channel.",
		}),

		ActionsRejected: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "relay_actions_rejected_total",
			Help: "Total number of rejected operator action tags.",
		}),

		StatusPolls: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "relay_status_polls_total",
			Help: "Total number of status poll requests.",
		}),
	}
}
