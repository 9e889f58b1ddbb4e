package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type StatusHandler struct {
	service RelayService
}

func NewStatusHandler(s RelayService) *StatusHandler {
	return &StatusHandler{service: s}
}

// Check — endpoint поллинга для агентов.
// Неизвестный субъект — это НЕ ошибка: отдаем 200 со статусом not_found.
func (h *StatusHandler) Check(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "machine_id")

	state, err := h.service.QueryStatus(r.Context(), subjectID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"status": string(state)})
}
