package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/approval-relay/internal/domain"
	"go.uber.org/zap"
)

type actionCall struct {
	tag string
	ref domain.MessageRef
}

type commandCall struct {
	chatID int64
	text   string
}

// fakeRelayService записывает вызовы ядра, сетевых зависимостей нет
type fakeRelayService struct {
	events   []domain.InboundEvent
	actions  []actionCall
	commands []commandCall

	submitErr error
	actionErr error
	status    domain.RequestState
	statusErr error
}

func (f *fakeRelayService) SubmitEvent(_ context.Context, event domain.InboundEvent) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeRelayService) QueryStatus(_ context.Context, _ string) (domain.RequestState, error) {
	return f.status, f.statusErr
}

func (f *fakeRelayService) HandleAction(_ context.Context, rawTag string, callbackRef domain.MessageRef) error {
	f.actions = append(f.actions, actionCall{tag: rawTag, ref: callbackRef})
	return f.actionErr
}

func (f *fakeRelayService) HandleCommand(_ context.Context, chatID int64, text string) error {
	f.commands = append(f.commands, commandCall{chatID: chatID, text: text})
	return nil
}

type fakeAcker struct {
	acked []string
}

func (f *fakeAcker) AnswerCallback(_ context.Context, callbackID string) error {
	f.acked = append(f.acked, callbackID)
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestNotifyPermissionRequest(t *testing.T) {
	svc := &fakeRelayService{}
	h := NewEventHandler(svc)

	payload := `{"event":"permission_requested","machine_id":"mac-001","user":"alice","reason":"deploy"}`
	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Notify(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "permission_request_received", decodeBody(t, rec)["status"])

	require.Len(t, svc.events, 1)
	event := svc.events[0]
	assert.Equal(t, domain.EventKindPermission, event.Kind)
	assert.Equal(t, "mac-001", event.SubjectID)
	// Служебные ключи не дублируются в метаданных
	assert.Equal(t, map[string]interface{}{"user": "alice", "reason": "deploy"}, event.Metadata)
}

func TestNotifyGenericEvent(t *testing.T) {
	svc := &fakeRelayService{}
	h := NewEventHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(`{"event":"backup_finished"}`))
	rec := httptest.NewRecorder()
	h.Notify(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "generic_notification_sent", decodeBody(t, rec)["status"])
}

func TestNotifyRejectsMalformedPayload(t *testing.T) {
	for name, payload := range map[string]string{
		"broken json":        `{"event":`,
		"missing event":      `{"machine_id":"mac-001"}`,
		"missing machine_id": `{"event":"permission_requested"}`,
	} {
		t.Run(name, func(t *testing.T) {
			svc := &fakeRelayService{}
			h := NewEventHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(payload))
			rec := httptest.NewRecorder()
			h.Notify(rec, req)

			// Отклоняем до обращения к ядру
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, svc.events)
		})
	}
}

func TestNotifyStoreFailure(t *testing.T) {
	svc := &fakeRelayService{submitErr: errors.New("relay: create request: connection refused")}
	h := NewEventHandler(svc)

	payload := `{"event":"permission_requested","machine_id":"mac-001"}`
	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Notify(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func statusRouter(svc RelayService) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/check_status/{machine_id}", NewStatusHandler(svc).Check)
	return r
}

func TestCheckStatus(t *testing.T) {
	svc := &fakeRelayService{status: domain.StateApproved}
	rec := httptest.NewRecorder()
	statusRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/check_status/mac-001", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", decodeBody(t, rec)["status"])
}

func TestCheckStatusUnknownSubjectIsNotAnError(t *testing.T) {
	svc := &fakeRelayService{status: domain.StateNotFound}
	rec := httptest.NewRecorder()
	statusRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/check_status/ghost", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["status"])
}

func TestCheckStatusBackendFailure(t *testing.T) {
	svc := &fakeRelayService{statusErr: errors.New("relay: status lookup: timeout")}
	rec := httptest.NewRecorder()
	statusRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/check_status/mac-001", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookCallbackAcksThenDispatches(t *testing.T) {
	svc := &fakeRelayService{}
	acker := &fakeAcker{}
	h := NewWebhookHandler(svc, acker, zap.NewNop())

	update := `{
		"update_id": 10,
		"callback_query": {
			"id": "cb-1",
			"data": "approve:req-42",
			"message": {"message_id": 1007, "chat": {"id": 777}, "text": "..."}
		}
	}`
	rec := httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(update)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	// Нажатие подтверждено независимо от исхода действия
	assert.Equal(t, []string{"cb-1"}, acker.acked)

	require.Len(t, svc.actions, 1)
	assert.Equal(t, "approve:req-42", svc.actions[0].tag)
	assert.Equal(t, domain.MessageRef{ChatID: 777, MessageID: 1007}, svc.actions[0].ref)
}

func TestWebhookRejectedActionStillReturnsOK(t *testing.T) {
	svc := &fakeRelayService{actionErr: domain.ErrUnknownAction}
	acker := &fakeAcker{}
	h := NewWebhookHandler(svc, acker, zap.NewNop())

	update := `{"callback_query": {"id": "cb-2", "data": "ban:req-42"}}`
	rec := httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(update)))

	// Telegram всегда получает 200, иначе update будет передоставляться вечно
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"cb-2"}, acker.acked)
}

func TestWebhookCommandMessage(t *testing.T) {
	svc := &fakeRelayService{}
	h := NewWebhookHandler(svc, &fakeAcker{}, zap.NewNop())

	update := `{"message": {"message_id": 5, "chat": {"id": 12345}, "text": "/start"}}`
	rec := httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(update)))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.commands, 1)
	assert.Equal(t, commandCall{chatID: 12345, text: "/start"}, svc.commands[0])
}

func TestWebhookIgnoresPlainTextAndGarbage(t *testing.T) {
	svc := &fakeRelayService{}
	h := NewWebhookHandler(svc, &fakeAcker{}, zap.NewNop())

	for _, body := range []string{
		`{"message": {"message_id": 5, "chat": {"id": 12345}, "text": "hello there"}}`,
		`not json at all`,
		`{}`,
	} {
		rec := httptest.NewRecorder()
		h.Receive(rec, httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(body)))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Empty(t, svc.commands)
	assert.Empty(t, svc.actions)
}
