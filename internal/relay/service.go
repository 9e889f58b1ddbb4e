package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/approval-relay/internal/domain"
	"github.com/xela07ax/approval-relay/internal/infra"
	"github.com/xela07ax/approval-relay/internal/store"
	"github.com/xela07ax/approval-relay/internal/telegram"
	"go.uber.org/zap"
)

// Notifier Описываем, что нам нужно от транспорта оператора
type Notifier interface {
	Deliver(ctx context.Context, text string, buttons []domain.Button) (domain.MessageRef, error)
	Edit(ctx context.Context, ref domain.MessageRef, text string) error
	Send(ctx context.Context, chatID int64, text string) error
}

// Service — ядро relay: корреляция запросов, машина состояний решения,
// команды оператора. Store и Notifier внедряются явно, никаких глобалов.
type Service struct {
	store    store.Store
	notifier Notifier
	rdb      *redis.Client // Опциональная трансляция решений; nil — выключена
	metrics  *Metrics
	logger   *zap.Logger

	adminChatID int64
}

func NewService(st store.Store, n Notifier, rdb *redis.Client, metrics *Metrics, logger *zap.Logger, adminChatID int64) *Service {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Service{
		store:       st,
		notifier:    n,
		rdb:         rdb,
		metrics:     metrics,
		logger:      logger.Named("relay"),
		adminChatID: adminChatID,
	}
}

// SubmitEvent обрабатывает входящее событие агента.
// Ровно одно исходящее сообщение на событие. Сбой доставки — soft failure:
// логируется, считается в метриках, созданный запрос остается pending и
// виден через поллинг. Откатов нет.
func (s *Service) SubmitEvent(ctx context.Context, event domain.InboundEvent) error {
	s.metrics.EventsTotal.WithLabelValues(event.Kind).Inc()

	// Не-permission события пересылаются как информационные, без состояния
	if event.Kind != domain.EventKindPermission {
		if _, err := s.notifier.Deliver(ctx, renderNotification(event), nil); err != nil {
			s.metrics.DeliveryFailures.Inc()
			s.logger.Warn("informational delivery failed",
				zap.String("kind", event.Kind),
				zap.Error(err))
		}
		return nil
	}

	// 1. Создаем запрос (pending) — до любых сетевых вызовов
	req, err := s.store.Create(ctx, event.SubjectID, event.Metadata)
	if err != nil {
		return fmt.Errorf("relay: create request: %w", err)
	}

	// 2. Доставляем оператору сообщение с двумя взаимоисключающими действиями.
	// В callback data несем request id, не subject id.
	buttons := []domain.Button{
		{Label: "✅ Approve", Data: domain.ActionTag{Action: domain.ActionApprove, RequestID: req.ID}.String()},
		{Label: "❌ Deny", Data: domain.ActionTag{Action: domain.ActionDeny, RequestID: req.ID}.String()},
	}
	ref, err := s.notifier.Deliver(ctx, renderRequestSummary(req), buttons)
	if err != nil {
		s.metrics.DeliveryFailures.Inc()
		s.logger.Error("request notification delivery failed, request stays pending",
			zap.String("request_id", req.ID),
			zap.String("subject_id", req.SubjectID),
			zap.Error(err))
		return nil
	}

	// 3. Привязываем ссылку на сообщение — решение отредактирует ровно его
	if err := s.store.AttachMessageRef(ctx, req.ID, ref); err != nil {
		if errors.Is(err, domain.ErrMessageRefReplaced) {
			s.logger.Warn("message ref attached twice",
				zap.String("request_id", req.ID))
			return nil
		}
		return fmt.Errorf("relay: attach message ref: %w", err)
	}

	s.logger.Info("permission request relayed to operator",
		zap.String("request_id", req.ID),
		zap.String("subject_id", req.SubjectID))
	return nil
}

// HandleAction применяет решение оператора по нажатой кнопке.
// Подтверждение нажатия (acknowledge) выполняет транспортный слой ДО этого
// вызова и независимо от исхода. callbackRef — сообщение, с которого пришел
// callback: используется только для ветки not_found, когда у нас нет
// сохраненной ссылки.
func (s *Service) HandleAction(ctx context.Context, rawTag string, callbackRef domain.MessageRef) error {
	tag, err := domain.ParseActionTag(rawTag)
	if err != nil {
		// Нераспознанное действие отклоняется без мутации состояния
		s.metrics.ActionsRejected.Inc()
		s.logger.Warn("rejected operator action", zap.String("tag", rawTag), zap.Error(err))
		return err
	}

	result, err := s.store.Decide(ctx, tag.RequestID, tag.Action.State())
	if err != nil {
		return fmt.Errorf("relay: decide: %w", err)
	}
	s.metrics.DecisionsTotal.WithLabelValues(string(result)).Inc()

	switch result {
	case store.DecideApplied:
		req, err := s.store.Get(ctx, tag.RequestID)
		if err != nil {
			return fmt.Errorf("relay: load decided request: %w", err)
		}
		s.editDecisionMessage(ctx, req, callbackRef, renderDecision(req))
		s.publishDecision(ctx, req)
		s.logger.Info("operator decision applied",
			zap.String("request_id", req.ID),
			zap.String("subject_id", req.SubjectID),
			zap.String("state", string(req.State)))

	case store.DecideAlreadyDecided:
		// Идемпотентный UI: двойной клик и повторная доставка callback'а
		// не меняют записанное решение
		req, err := s.store.Get(ctx, tag.RequestID)
		if err != nil {
			return fmt.Errorf("relay: load decided request: %w", err)
		}
		s.editDecisionMessage(ctx, req, callbackRef,
			fmt.Sprintf("⚠️ Already handled: %s\n\n%s", req.State, renderRequestSummary(req)))

	case store.DecideNotFound:
		s.editMessage(ctx, callbackRef, "⚠️ Unknown or expired request")
	}
	return nil
}

// QueryStatus — чистое чтение для поллинга агентами
func (s *Service) QueryStatus(ctx context.Context, subjectID string) (domain.RequestState, error) {
	s.metrics.StatusPolls.Inc()

	state, err := s.store.StatusBySubject(ctx, subjectID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.StateNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("relay: status lookup: %w", err)
	}
	return state, nil
}

// HandleCommand обрабатывает текстовые команды из чата.
// /clear_cache принимается ТОЛЬКО от настроенного оператора: от любого
// другого отправителя — молча игнорируется, без side effects.
func (s *Service) HandleCommand(ctx context.Context, chatID int64, text string) error {
	cmd, _, _ := strings.Cut(strings.TrimSpace(text), " ")

	switch cmd {
	case "/start":
		reply := fmt.Sprintf("Hello! I am the remote approval bot. Your Chat ID is: %d", chatID)
		if err := s.notifier.Send(ctx, chatID, reply); err != nil {
			s.metrics.DeliveryFailures.Inc()
			s.logger.Warn("start reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}

	case "/clear_cache":
		if chatID != s.adminChatID {
			s.logger.Warn("clear_cache rejected: caller is not the operator",
				zap.Int64("chat_id", chatID))
			return nil
		}
		if err := s.store.ClearAll(ctx); err != nil {
			return fmt.Errorf("relay: clear cache: %w", err)
		}
		s.logger.Info("request store cleared by operator")
		if err := s.notifier.Send(ctx, chatID, "✅ Server cache cleared."); err != nil {
			s.metrics.DeliveryFailures.Inc()
			s.logger.Warn("clear_cache confirmation failed", zap.Error(err))
		}
	}
	return nil
}

// editDecisionMessage редактирует исходное уведомление по сохраненной ссылке.
// callbackRef — запасной вариант, если доставка когда-то падала и ссылки нет.
func (s *Service) editDecisionMessage(ctx context.Context, req *domain.Request, callbackRef domain.MessageRef, text string) {
	ref := callbackRef
	if req.MessageRef != nil {
		ref = *req.MessageRef
	}
	s.editMessage(ctx, ref, text)
}

func (s *Service) editMessage(ctx context.Context, ref domain.MessageRef, text string) {
	if ref.ChatID == 0 || ref.MessageID == 0 {
		return
	}
	if err := s.notifier.Edit(ctx, ref, text); err != nil {
		s.metrics.DeliveryFailures.Inc()
		s.logger.Error("message edit failed",
			zap.Int64("chat_id", ref.ChatID),
			zap.Int64("message_id", ref.MessageID),
			zap.Error(err))
	}
}

// publishDecision транслирует принятое решение в Redis (best effort).
// Поллеры, живущие рядом с Redis, могут проснуться раньше очередного опроса;
// источником правды остается Status Query.
func (s *Service) publishDecision(ctx context.Context, req *domain.Request) {
	if s.rdb == nil {
		return
	}
	payload := fmt.Sprintf("%s:%s", req.SubjectID, req.State)
	if err := s.rdb.Publish(ctx, infra.RedisChanDecisions, payload).Err(); err != nil {
		s.logger.Warn("decision broadcast failed",
			zap.String("request_id", req.ID),
			zap.Error(err))
	}
}

// renderRequestSummary — человекочитаемое описание запроса (MarkdownV2-safe)
func renderRequestSummary(req *domain.Request) string {
	var b strings.Builder
	b.WriteString("❗️ New Permission Request ❗️\n\n")
	fmt.Fprintf(&b, "Machine ID: %s", telegram.EscapeText(req.SubjectID))

	// Стабильный порядок ключей, чтобы повторный рендер давал тот же текст
	keys := make([]string, 0, len(req.Payload))
	for k := range req.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s",
			telegram.EscapeText(k),
			telegram.EscapeText(fmt.Sprintf("%v", req.Payload[k])))
	}
	return b.String()
}

func renderDecision(req *domain.Request) string {
	banner := "❌ Denied"
	if req.State == domain.StateApproved {
		banner = "✅ Approved"
	}
	return fmt.Sprintf("%s\n\n%s", banner, renderRequestSummary(req))
}

func renderNotification(event domain.InboundEvent) string {
	var b strings.Builder
	b.WriteString("🔔 Notification: ")
	b.WriteString(telegram.EscapeText(event.Kind))

	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s",
			telegram.EscapeText(k),
			telegram.EscapeText(fmt.Sprintf("%v", event.Metadata[k])))
	}
	return b.String()
}
