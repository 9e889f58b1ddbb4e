package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Действия оператора — закрытое множество. Все прочие строки отклоняются
// парсером до обращения к хранилищу.
type Action string

const (
	ActionApprove Action = "approve"
	ActionDeny    Action = "deny"
)

var ErrUnknownAction = errors.New("unknown operator action")

// State возвращает терминальный статус, соответствующий действию
func (a Action) State() RequestState {
	if a == ActionApprove {
		return StateApproved
	}
	return StateDenied
}

// ActionTag — структурированная метка кнопки: действие + id запроса.
// В callback data несем именно request id, а не subject id, чтобы
// исключить неоднозначность при повторных запросах одного субъекта.
type ActionTag struct {
	Action    Action
	RequestID string
}

// String кодирует метку в формат "approve:{id}" / "deny:{id}"
func (t ActionTag) String() string {
	return fmt.Sprintf("%s:%s", t.Action, t.RequestID)
}

// ParseActionTag — единственная точка разбора callback data.
// Нераспознанное действие или пустой id — ошибка без каких-либо side effects.
func ParseActionTag(raw string) (ActionTag, error) {
	action, id, ok := strings.Cut(raw, ":")
	if !ok || id == "" {
		return ActionTag{}, fmt.Errorf("malformed action tag %q: %w", raw, ErrUnknownAction)
	}

	switch Action(action) {
	case ActionApprove, ActionDeny:
		return ActionTag{Action: Action(action), RequestID: id}, nil
	default:
		return ActionTag{}, fmt.Errorf("action %q is not allowed: %w", action, ErrUnknownAction)
	}
}

// Button — кнопка inline-клавиатуры, которую Notifier прикрепляет к сообщению
type Button struct {
	Label string
	Data  string
}
