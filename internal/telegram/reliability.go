package telegram

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/approval-relay/internal/domain"
)

// Transport — полный контракт клиента Bot API, который оборачивает предохранитель
type Transport interface {
	Deliver(ctx context.Context, text string, buttons []domain.Button) (domain.MessageRef, error)
	Edit(ctx context.Context, ref domain.MessageRef, text string) error
	Send(ctx context.Context, chatID int64, text string) error
	AnswerCallback(ctx context.Context, callbackID string) error
	SetWebhook(ctx context.Context, url string) error
	DeleteWebhook(ctx context.Context) error
}

// ReliabilityWrapper — circuit breaker вокруг исходящих вызовов Bot API.
// Если Telegram лежит, открытый предохранитель отсекает вызовы быстро,
// не задерживая входящие HTTP-обработчики. Автоматических ретраев нет:
// сбой доставки репортится наверх, слепой повтор плодит дубли сообщений.
type ReliabilityWrapper struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
}

func NewReliabilityWrapper(next Transport) *ReliabilityWrapper {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telegram-bot-api",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
	})

	return &ReliabilityWrapper{next: next, cb: cb}
}

func (w *ReliabilityWrapper) Deliver(ctx context.Context, text string, buttons []domain.Button) (domain.MessageRef, error) {
	ref, err := w.cb.Execute(func() (interface{}, error) {
		return w.next.Deliver(ctx, text, buttons)
	})
	if err != nil {
		return domain.MessageRef{}, err
	}
	return ref.(domain.MessageRef), nil
}

func (w *ReliabilityWrapper) Edit(ctx context.Context, ref domain.MessageRef, text string) error {
	_, err := w.cb.Execute(func() (interface{}, error) {
		return nil, w.next.Edit(ctx, ref, text)
	})
	return err
}

func (w *ReliabilityWrapper) Send(ctx context.Context, chatID int64, text string) error {
	_, err := w.cb.Execute(func() (interface{}, error) {
		return nil, w.next.Send(ctx, chatID, text)
	})
	return err
}

func (w *ReliabilityWrapper) AnswerCallback(ctx context.Context, callbackID string) error {
	_, err := w.cb.Execute(func() (interface{}, error) {
		return nil, w.next.AnswerCallback(ctx, callbackID)
	})
	return err
}

// SetWebhook/DeleteWebhook идут мимо предохранителя: это не hot path,
// а стартовая регистрация со своей политикой повторов в main.
func (w *ReliabilityWrapper) SetWebhook(ctx context.Context, url string) error {
	return w.next.SetWebhook(ctx, url)
}

func (w *ReliabilityWrapper) DeleteWebhook(ctx context.Context) error {
	return w.next.DeleteWebhook(ctx)
}
