package store

import (
	"context"

	"github.com/xela07ax/approval-relay/internal/domain"
)

// DecideResult — типизированный исход перехода состояния.
// Ошибки гонок решений никогда не покидают хранилище как error —
// только как один из этих трех исходов.
type DecideResult string

const (
	DecideApplied        DecideResult = "applied"
	DecideAlreadyDecided DecideResult = "already_decided"
	DecideNotFound       DecideResult = "not_found"
)

// Store — граница персистентности. Контракт одинаков для всех бэкендов
// (memory / redis / postgres); смена бэкенда не меняет семантику операций.
type Store interface {
	// Create выделяет новый уникальный id и сохраняет запрос в состоянии pending
	Create(ctx context.Context, subjectID string, payload map[string]interface{}) (*domain.Request, error)

	// AttachMessageRef привязывает ссылку на доставленное сообщение.
	// Повторный вызов принимает последнюю запись, но возвращает
	// domain.ErrMessageRefReplaced — вызывающий обязан это залогировать.
	AttachMessageRef(ctx context.Context, id string, ref domain.MessageRef) error

	// Decide атомарно переводит pending -> state. При конкурентных вызовах
	// на одном id ровно один наблюдает DecideApplied.
	Decide(ctx context.Context, id string, state domain.RequestState) (DecideResult, error)

	// Get возвращает запрос по id или domain.ErrNotFound
	Get(ctx context.Context, id string) (*domain.Request, error)

	// StatusBySubject возвращает статус последнего созданного запроса субъекта
	// или domain.ErrNotFound, если таких запросов нет
	StatusBySubject(ctx context.Context, subjectID string) (domain.RequestState, error)

	// ClearAll очищает хранилище целиком (только административная команда)
	ClearAll(ctx context.Context) error
}
