package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xela07ax/approval-relay/internal/domain"
	"github.com/xela07ax/approval-relay/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const parseModeMarkdownV2 = "MarkdownV2"

// Client — тонкий HTTP-клиент Bot API. Все исходящие вызовы проходят через
// rate limiter (flood control Telegram), таймауты — на уровне http.Client
// и входящего контекста. Повторов доставки здесь нет by contract.
type Client struct {
	baseURL     string
	token       string
	adminChatID int64

	httpc   *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewClient(cfg infra.TelegramConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.APIBaseURL, "/"),
		token:       cfg.BotToken,
		adminChatID: cfg.AdminChatID,
		httpc:       &http.Client{Timeout: 10 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:      logger.Named("telegram"),
	}
}

// Deliver отправляет оператору сообщение с inline-кнопками (одна строка
// взаимоисключающих действий) и возвращает ссылку для последующего
// редактирования ровно этого сообщения.
func (c *Client) Deliver(ctx context.Context, text string, buttons []domain.Button) (domain.MessageRef, error) {
	req := sendMessageRequest{
		ChatID:    c.adminChatID,
		Text:      text,
		ParseMode: parseModeMarkdownV2,
	}
	if len(buttons) > 0 {
		row := make([]inlineKeyboardButton, 0, len(buttons))
		for _, b := range buttons {
			row = append(row, inlineKeyboardButton{Text: b.Label, CallbackData: b.Data})
		}
		req.ReplyMarkup = &inlineKeyboardMarkup{InlineKeyboard: [][]inlineKeyboardButton{row}}
	}

	var msg Message
	if err := c.call(ctx, "sendMessage", req, &msg); err != nil {
		return domain.MessageRef{}, err
	}
	return domain.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.MessageID}, nil
}

// Edit заменяет текст ранее доставленного сообщения (и убирает клавиатуру).
// Telegram отвечает "message is not modified" на повторное редактирование
// тем же текстом — для вызывающего это успех, дубликат не создается.
func (c *Client) Edit(ctx context.Context, ref domain.MessageRef, text string) error {
	err := c.call(ctx, "editMessageText", editMessageTextRequest{
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
		Text:      text,
		ParseMode: parseModeMarkdownV2,
	}, nil)
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

// Send — ответ на команду в произвольный чат (без клавиатуры, без разметки)
func (c *Client) Send(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text}, nil)
}

// AnswerCallback снимает спиннер "Loading..." с кнопки.
// Вызывается до применения решения и независимо от его исхода.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackQueryRequest{CallbackQueryID: callbackID}, nil)
}

// SetWebhook регистрирует endpoint вебхука (идемпотентно на стороне Bot API)
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	return c.call(ctx, "setWebhook", setWebhookRequest{URL: url}, nil)
}

// DeleteWebhook снимает регистрацию при остановке relay
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", struct{}{}, nil)
}

// call — единая точка вызова методов Bot API
func (c *Client) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: rate limit wait: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram: %s failed (code %d): %s", method, apiResp.ErrorCode, apiResp.Description)
	}

	if out != nil && len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, out); err != nil {
			return fmt.Errorf("telegram: unmarshal %s result: %w", method, err)
		}
	}
	return nil
}
