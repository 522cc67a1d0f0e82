package handlers_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/internal/handlers"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/webhook"
)

const (
	testAppSecret   = "app-secret"
	testVerifyToken = "verify-me"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fakeIntegrations struct {
	byAddress map[string]*models.Integration
}

func (f *fakeIntegrations) Create(ctx context.Context, i *models.Integration) error { return nil }
func (f *fakeIntegrations) GetByID(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	return nil, nil
}
func (f *fakeIntegrations) FindReusable(ctx context.Context, userID *uuid.UUID, channel models.ChannelKind) (*models.Integration, error) {
	return nil, nil
}
func (f *fakeIntegrations) FindByExternalAddress(ctx context.Context, channel models.ChannelKind, address string) (*models.Integration, error) {
	if i, ok := f.byAddress[address]; ok {
		return i, nil
	}
	return nil, nil
}
func (f *fakeIntegrations) List(ctx context.Context) ([]models.Integration, error) { return nil, nil }
func (f *fakeIntegrations) SetStatus(ctx context.Context, tenantID, id uuid.UUID, status models.IntegrationStatus, address *string) error {
	return nil
}
func (f *fakeIntegrations) ClearCredentialRef(ctx context.Context, tenantID, id uuid.UUID) error {
	return nil
}
func (f *fakeIntegrations) ListConnectedPaired(ctx context.Context) ([]models.Integration, error) {
	return nil, nil
}
func (f *fakeIntegrations) Delete(ctx context.Context, id uuid.UUID) error { return nil }

type fakeIngestor struct {
	mu     sync.Mutex
	events []ingest.InboundEvent
}

func (f *fakeIngestor) Ingest(ctx context.Context, event ingest.InboundEvent) (*ingest.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return &ingest.Result{}, nil
}

func signBody(body string) string {
	mac := hmac.New(sha256.New, []byte(testAppSecret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newWebhookFixture(tenantID, integrationID uuid.UUID) (*handlers.WebhookHandler, *fakeIngestor) {
	auth := webhook.NewAuthenticator(testAppSecret, testVerifyToken)
	integrations := &fakeIntegrations{
		byAddress: map[string]*models.Integration{
			"page-1": {
				ID:       integrationID,
				TenantID: tenantID,
				Channel:  models.ChannelMessenger,
			},
		},
	}
	pipeline := &fakeIngestor{}
	return handlers.NewWebhookHandler(auth, integrations, pipeline, getTestLogger()), pipeline
}

func TestSubscribeEchoesChallenge(t *testing.T) {
	h, _ := newWebhookFixture(uuid.New(), uuid.New())
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/messenger?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, h.Subscribe(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
}

func TestSubscribeRejectsBadToken(t *testing.T) {
	h, _ := newWebhookFixture(uuid.New(), uuid.New())
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/messenger?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()

	err := h.Subscribe(e.NewContext(req, rec))
	require.Error(t, err)
}

func TestReceiveIngestsSignedDelivery(t *testing.T) {
	tenantID, integrationID := uuid.New(), uuid.New()
	h, pipeline := newWebhookFixture(tenantID, integrationID)
	e := echo.New()

	body := `{"object":"page","entry":[{"id":"page-1","messaging":[` +
		`{"sender":{"id":"user-a"},"message":{"mid":"m1","text":"hello"}}]}]}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/messenger", strings.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, signBody(body))
	rec := httptest.NewRecorder()

	require.NoError(t, h.Receive(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, pipeline.events, 1)
	event := pipeline.events[0]
	assert.Equal(t, tenantID, event.TenantID)
	require.NotNil(t, event.IntegrationID)
	assert.Equal(t, integrationID, *event.IntegrationID)
	assert.Equal(t, models.ChannelMessenger, event.Channel)
	assert.Equal(t, "user-a", event.ExternalContactID)
	assert.Equal(t, "m1", event.ExternalMessageID)
	assert.Equal(t, "hello", event.Text)
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	h, pipeline := newWebhookFixture(uuid.New(), uuid.New())
	e := echo.New()

	body := `{"object":"page","entry":[]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/messenger", strings.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, signBody(body+"tampered"))
	rec := httptest.NewRecorder()

	err := h.Receive(e.NewContext(req, rec))
	require.Error(t, err)
	assert.Empty(t, pipeline.events, "unverified payloads must never reach the pipeline")
}

func TestReceiveRejectsMissingSignature(t *testing.T) {
	h, pipeline := newWebhookFixture(uuid.New(), uuid.New())
	e := echo.New()

	body := `{"object":"page","entry":[]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/messenger", strings.NewReader(body))
	rec := httptest.NewRecorder()

	err := h.Receive(e.NewContext(req, rec))
	require.Error(t, err)
	assert.Empty(t, pipeline.events)
}

func TestReceiveSkipsUnknownPages(t *testing.T) {
	h, pipeline := newWebhookFixture(uuid.New(), uuid.New())
	e := echo.New()

	body := `{"object":"page","entry":[{"id":"page-unknown","messaging":[` +
		`{"sender":{"id":"user-a"},"message":{"mid":"m1","text":"hello"}}]}]}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/messenger", strings.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, signBody(body))
	rec := httptest.NewRecorder()

	require.NoError(t, h.Receive(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, pipeline.events)
}
