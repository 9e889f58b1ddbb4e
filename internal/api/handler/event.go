package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/approval-relay/internal/domain"
)

// RelayService Описываем, что нам нужно от ядра relay
type RelayService interface {
	SubmitEvent(ctx context.Context, event domain.InboundEvent) error
	QueryStatus(ctx context.Context, subjectID string) (domain.RequestState, error)
	HandleAction(ctx context.Context, rawTag string, callbackRef domain.MessageRef) error
	HandleCommand(ctx context.Context, chatID int64, text string) error
}

type EventHandler struct {
	service RelayService
}

func NewEventHandler(s RelayService) *EventHandler {
	return &EventHandler{service: s}
}

// Notify принимает события от агентов (launchers).
// Malformed-события отклоняются здесь, до обращения к хранилищу.
// Сбой доставки оператору НЕ является ошибкой для отправителя:
// он уже залогирован внутри сервиса, наружу уходит accepted.
func (h *EventHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	event := eventFromBody(raw)
	if err := event.Validate(); err != nil {
		http.Error(w, "event and machine_id fields are required", http.StatusBadRequest)
		return
	}

	if err := h.service.SubmitEvent(r.Context(), event); err != nil {
		// Сюда попадают только ошибки хранилища — это не soft failure
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	status := "generic_notification_sent"
	if event.Kind == domain.EventKindPermission {
		status = "permission_request_received"
	}
	writeJSON(w, map[string]string{"status": status})
}

// eventFromBody разбирает свободный JSON агента: ключи event и machine_id
// служебные, все остальное — метаданные, хранящиеся как есть
func eventFromBody(raw map[string]interface{}) domain.InboundEvent {
	event := domain.InboundEvent{Metadata: make(map[string]interface{}, len(raw))}
	for k, v := range raw {
		switch k {
		case "event":
			if s, ok := v.(string); ok {
				event.Kind = s
			}
		case "machine_id":
			if s, ok := v.(string); ok {
				event.SubjectID = s
			}
		default:
			event.Metadata[k] = v
		}
	}
	return event
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}
