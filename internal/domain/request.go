package domain

import (
	"errors"
	"time"
)

// Статусы State Machine
type RequestState string

const (
	StatePending  RequestState = "pending"
	StateApproved RequestState = "approved"
	StateDenied   RequestState = "denied"
	// StateNotFound — не хранится, используется только как ответ Status Query
	StateNotFound RequestState = "not_found"
)

var (
	ErrNotFound          = errors.New("approval request not found")
	ErrAlreadyDecided    = errors.New("approval request already decided")
	ErrInvalidTransition = errors.New("invalid request state transition")
	// ErrMessageRefReplaced — повторный AttachMessageRef: последняя запись принята, но это аномалия потока
	ErrMessageRefReplaced = errors.New("message ref was already attached and has been replaced")
)

// MessageRef — непрозрачная ссылка на доставленное уведомление (чат + сообщение).
// Выставляется один раз при создании и используется ТОЛЬКО для редактирования
// этого конкретного сообщения, никогда другого.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

type Request struct {
	ID        string                 `json:"id"`         // Системный UUID, не выдается вызывающим
	SubjectID string                 `json:"subject_id"` // Корреляционный ключ агента (machine id)
	Payload   map[string]interface{} `json:"payload"`    // Свободные метаданные события, хранятся как есть
	State     RequestState           `json:"state"`

	MessageRef *MessageRef `json:"message_ref,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

// IsTerminal проверяет, принято ли уже решение по запросу
func (s RequestState) IsTerminal() bool {
	return s == StateApproved || s == StateDenied
}

// CanTransitionTo проверяет правила конечного автомата:
// разрешен только переход pending -> approved|denied, ровно один раз.
func (r *Request) CanTransitionTo(next RequestState) error {
	if r.State != StatePending {
		return ErrAlreadyDecided
	}
	if !next.IsTerminal() {
		return ErrInvalidTransition
	}
	return nil
}
