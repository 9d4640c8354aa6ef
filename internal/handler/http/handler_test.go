package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aniladanir/wa-inbox/internal/domain"
	"github.com/aniladanir/wa-inbox/internal/ingest"
	messageRepo "github.com/aniladanir/wa-inbox/internal/repository/message"
	"github.com/aniladanir/wa-inbox/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testVerifyToken = "verify-me"

	webhookMessage = `{
  "payload_type": "whatsapp_webhook",
  "metaData": {"entry": [{"changes": [{"field": "messages", "value": {
    "metadata": {"display_phone_number": "918329446654"},
    "contacts": [{"profile": {"name": "Ravi Kumar"}, "wa_id": "919937320320"}],
    "messages": [{"from": "919937320320", "id": "wamid.abc", "timestamp": "1754400000",
      "text": {"body": "Hi there"}, "type": "text"}]
  }}]}]}
}`

	webhookDelivered = `{
  "payload_type": "whatsapp_webhook",
  "metaData": {"entry": [{"changes": [{"field": "messages", "value": {
    "statuses": [{"id": "wamid.abc", "status": "delivered", "timestamp": "1754400005"}]
  }}]}]}
}`
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) Ingest(ctx context.Context, raw []byte) (ingest.Outcome, error) {
	args := m.Called(ctx, raw)
	return args.Get(0).(ingest.Outcome), args.Error(1)
}

func (m *MockMessenger) IngestBatch(ctx context.Context, raws []json.RawMessage) (int, error) {
	args := m.Called(ctx, raws)
	return args.Int(0), args.Error(1)
}

func (m *MockMessenger) SendMessage(ctx context.Context, req service.SendRequest) (domain.Message, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.Message), args.Error(1)
}

func (m *MockMessenger) SetStatus(ctx context.Context, msgID string, status string) (domain.Message, error) {
	args := m.Called(ctx, msgID, status)
	return args.Get(0).(domain.Message), args.Error(1)
}

func (m *MockMessenger) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Conversation), args.Error(1)
}

func (m *MockMessenger) ListMessages(ctx context.Context, waID string) ([]domain.Message, error) {
	args := m.Called(ctx, waID)
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockMessenger) SimulateStatusProgression(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockMessenger) Stop() {}

func newTestHandler(t *testing.T, svc service.Messenger, opts Options) http.Handler {
	t.Helper()
	if opts.VerifyToken == "" {
		opts.VerifyToken = testVerifyToken
	}
	h := NewHttpHandler(":0", svc, nil, opts, slog.New(slog.DiscardHandler))
	return h.server.Handler
}

func newServiceHandler(t *testing.T, opts Options) http.Handler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	repo := messageRepo.NewMemoryRepository()
	svc := service.NewMessengerService(repo, ingest.NewIngestor(repo, logger), nil, logger, service.DefaultProgression)
	t.Cleanup(svc.Stop)
	return newTestHandler(t, svc, opts)
}

func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	h := newServiceHandler(t, Options{})

	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = do(t, h, http.MethodGet, "/health", "", requestIDHeader, "req-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(requestIDHeader))
}

func TestVerifyWebhook(t *testing.T) {
	h := newServiceHandler(t, Options{})

	rec := do(t, h, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=12345", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/webhook?hub.mode=unsubscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=12345", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReceiveWebhook_BodyHandshake(t *testing.T) {
	h := newServiceHandler(t, Options{})

	rec := do(t, h, http.MethodPost, "/webhook", `{"hub.mode":"subscribe","hub.verify_token":"`+testVerifyToken+`","hub.challenge":"abc"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Body.String())

	rec = do(t, h, http.MethodPost, "/webhook", `{"hub.mode":"subscribe","hub.verify_token":"nope","hub.challenge":"abc"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReceiveWebhook_SinglePayload(t *testing.T) {
	h := newServiceHandler(t, Options{})

	rec := do(t, h, http.MethodPost, "/webhook", webhookMessage)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "wamid.abc", body["message"])
	assert.Equal(t, "Hi there", body["text"])

	rec = do(t, h, http.MethodPost, "/webhook", webhookDelivered)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wamid.abc", decode[map[string]any](t, rec)["message"])

	rec = do(t, h, http.MethodGet, "/api/conversations/919937320320/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[[]domain.Message](t, rec)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.StatusDelivered, msgs[0].Status)
	assert.Equal(t, "Ravi Kumar", msgs[0].Name)
}

func TestReceiveWebhook_NoMessageCreated(t *testing.T) {
	h := newServiceHandler(t, Options{})

	rec := do(t, h, http.MethodPost, "/webhook", `{"wa_id":"919937320320"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "No message created", body["message"])
	assert.Equal(t, "missing wa_id or text", body["reason"])

	rec = do(t, h, http.MethodPost, "/webhook", webhookDelivered)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No message created", decode[map[string]any](t, rec)["message"])
}

func TestReceiveWebhook_Array(t *testing.T) {
	h := newServiceHandler(t, Options{})

	rec := do(t, h, http.MethodPost, "/webhook", "["+webhookMessage+`,{"text":"orphan"},`+webhookDelivered+"]")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"processed":2}`, rec.Body.String())
}

func TestReceiveWebhook_Signature(t *testing.T) {
	const secret = "app-secret"
	h := newServiceHandler(t, Options{AppSecret: secret})

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(webhookMessage))
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	rec := do(t, h, http.MethodPost, "/webhook", webhookMessage, signatureHeader, signature)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/webhook", webhookMessage, signatureHeader, "sha256=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/webhook", webhookMessage)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReceiveWebhook_StoreFailure(t *testing.T) {
	svc := new(MockMessenger)
	svc.On("Ingest", mock.Anything, mock.Anything).Return(ingest.Outcome{}, errors.New("connection refused"))
	svc.On("IngestBatch", mock.Anything, mock.Anything).Return(0, errors.New("connection refused"))
	h := newTestHandler(t, svc, Options{})

	rec := do(t, h, http.MethodPost, "/webhook", webhookMessage)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"connection refused"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/webhook", "["+webhookMessage+"]")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	svc.AssertExpectations(t)
}

func TestSendMessage(t *testing.T) {
	h := newServiceHandler(t, Options{})

	rec := do(t, h, http.MethodPost, "/api/messages", `{"wa_id":"919937320320","text":"On my way","name":"Ravi Kumar"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	msg := decode[domain.Message](t, rec)
	assert.Equal(t, domain.DirectionOutbound, msg.Direction)
	assert.Equal(t, domain.StatusSent, msg.Status)
	assert.True(t, strings.HasPrefix(msg.MessageID, "local-"))

	rec = do(t, h, http.MethodPost, "/api/messages", `{"wa_id":"919937320320"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/messages", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatus(t *testing.T) {
	h := newServiceHandler(t, Options{})
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/webhook", webhookMessage).Code)

	rec := do(t, h, http.MethodPut, "/api/messages/wamid.abc/status", `{"status":"read"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusRead, decode[domain.Message](t, rec).Status)

	rec = do(t, h, http.MethodPut, "/api/messages/wamid.abc/status", `{"status":"failed"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/messages/wamid.missing/status", `{"status":"read"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListConversations(t *testing.T) {
	h := newServiceHandler(t, Options{})

	rec := do(t, h, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/webhook", webhookMessage).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/messages", `{"wa_id":"919937320320","text":"reply"}`).Code)

	rec = do(t, h, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	convs := decode[[]map[string]any](t, rec)
	require.Len(t, convs, 1)
	assert.Equal(t, "919937320320", convs[0]["_id"])
	assert.EqualValues(t, 2, convs[0]["count"])
	assert.Equal(t, "reply", convs[0]["lastMessage"].(map[string]any)["text"])
}

func TestSimulateStatusProgression(t *testing.T) {
	svc := new(MockMessenger)
	svc.On("SimulateStatusProgression", mock.Anything).Return(3, nil).Once()
	h := newTestHandler(t, svc, Options{})

	rec := do(t, h, http.MethodPost, "/api/demo/status-progression", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Status progression simulation started","scheduled":3}`, rec.Body.String())
	svc.AssertExpectations(t)
}

func TestSimulateStatusProgression_ShuttingDown(t *testing.T) {
	svc := new(MockMessenger)
	svc.On("SimulateStatusProgression", mock.Anything).Return(0, service.ErrStopped).Once()
	h := newTestHandler(t, svc, Options{})

	rec := do(t, h, http.MethodPost, "/api/demo/status-progression", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	svc.AssertExpectations(t)
}

func TestCORS(t *testing.T) {
	h := newServiceHandler(t, Options{AllowedOrigins: []string{"http://localhost:5173"}})

	rec := do(t, h, http.MethodGet, "/api/conversations", "", "Origin", "http://localhost:5173")
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodGet, "/api/conversations", "", "Origin", "http://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
