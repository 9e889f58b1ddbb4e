package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/xela07ax/approval-relay/internal/domain"
	"github.com/xela07ax/approval-relay/internal/telegram"
	"go.uber.org/zap"
)

// CallbackAcker снимает спиннер с нажатой кнопки
type CallbackAcker interface {
	AnswerCallback(ctx context.Context, callbackID string) error
}

// WebhookHandler принимает обновления от Telegram — доверенного транспорта
// оператора. Telegram всегда получает 200: ошибка обработки логируется,
// иначе Bot API будет бесконечно передоставлять то же обновление.
type WebhookHandler struct {
	service RelayService
	acker   CallbackAcker
	logger  *zap.Logger
}

func NewWebhookHandler(s RelayService, acker CallbackAcker, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: s,
		acker:   acker,
		logger:  logger.Named("webhook"),
	}
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var update telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.logger.Warn("undecodable webhook update", zap.Error(err))
		writeJSON(w, map[string]string{"status": "ok"})
		return
	}

	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(r.Context(), update.CallbackQuery)
	case update.Message != nil && strings.HasPrefix(update.Message.Text, "/"):
		if err := h.service.HandleCommand(r.Context(), update.Message.Chat.ID, update.Message.Text); err != nil {
			h.logger.Error("command handling failed",
				zap.String("text", update.Message.Text),
				zap.Error(err))
		}
	}

	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	// 1. Подтверждаем нажатие СРАЗУ, до и независимо от применения решения
	if err := h.acker.AnswerCallback(ctx, cb.ID); err != nil {
		h.logger.Warn("callback ack failed", zap.String("callback_id", cb.ID), zap.Error(err))
	}

	// 2. Ссылка на сообщение, с которого пришел callback — запасной адрес
	// редактирования для ветки not_found
	var callbackRef domain.MessageRef
	if cb.Message != nil {
		callbackRef = domain.MessageRef{ChatID: cb.Message.Chat.ID, MessageID: cb.Message.MessageID}
	}

	if err := h.service.HandleAction(ctx, cb.Data, callbackRef); err != nil {
		h.logger.Error("operator action failed",
			zap.String("tag", cb.Data),
			zap.Error(err))
	}
}
