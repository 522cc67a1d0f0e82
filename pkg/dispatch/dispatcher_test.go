package dispatch_test

import (
	"context"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/pkg/dispatch"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/session"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fixtureStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*models.Conversation
	contacts      map[uuid.UUID]*models.Contact
	integrations  map[uuid.UUID]*models.Integration
	messages      []*models.Message
}

func newFixtureStore() *fixtureStore {
	return &fixtureStore{
		conversations: make(map[uuid.UUID]*models.Conversation),
		contacts:      make(map[uuid.UUID]*models.Contact),
		integrations:  make(map[uuid.UUID]*models.Integration),
	}
}

// ConversationRepo

func (s *fixtureStore) GetOrCreate(ctx context.Context, c *models.Conversation) (*models.Conversation, bool, error) {
	panic("not used")
}

func (s *fixtureStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, repositories.NotFound("conversation %s does not exist", id)
}

func (s *fixtureStore) IncrementUnread(ctx context.Context, tenantID, id uuid.UUID) error { return nil }
func (s *fixtureStore) MarkRead(ctx context.Context, id uuid.UUID) error                  { return nil }
func (s *fixtureStore) TouchLastMessage(ctx context.Context, tenantID, id uuid.UUID) error {
	return nil
}

type contactStore struct{ store *fixtureStore }

func (s contactStore) GetByExternalID(ctx context.Context, tenantID uuid.UUID, channel models.ChannelKind, externalID string) (*models.Contact, error) {
	return nil, nil
}

func (s contactStore) GetOrCreate(ctx context.Context, contact *models.Contact) (*models.Contact, bool, error) {
	panic("not used")
}

func (s contactStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Contact, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if c, ok := s.store.contacts[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, repositories.NotFound("contact %s does not exist", id)
}

func (s contactStore) UpdateProfile(ctx context.Context, tenantID, id uuid.UUID, name string, avatarURL *string) error {
	return nil
}

type messageStore struct{ store *fixtureStore }

func (s messageStore) Insert(ctx context.Context, message *models.Message) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	message.ID = uuid.New()
	stored := *message
	s.store.messages = append(s.store.messages, &stored)
	return nil
}

func (s messageStore) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	return false, nil
}

func (s messageStore) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	return nil, nil
}

func (s messageStore) MarkDelivered(ctx context.Context, tenantID, id uuid.UUID, externalID string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, m := range s.store.messages {
		if m.ID == id {
			m.Delivered = true
			m.ExternalID = &externalID
			return nil
		}
	}
	return repositories.NotFound("message %s does not exist", id)
}

type integrationStore struct{ store *fixtureStore }

func (s integrationStore) Create(ctx context.Context, i *models.Integration) error { return nil }

func (s integrationStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if i, ok := s.store.integrations[id]; ok {
		copied := *i
		return &copied, nil
	}
	return nil, repositories.NotFound("integration %s does not exist", id)
}

func (s integrationStore) FindReusable(ctx context.Context, userID *uuid.UUID, channel models.ChannelKind) (*models.Integration, error) {
	return nil, nil
}

func (s integrationStore) FindByExternalAddress(ctx context.Context, channel models.ChannelKind, address string) (*models.Integration, error) {
	return nil, nil
}

func (s integrationStore) List(ctx context.Context) ([]models.Integration, error) { return nil, nil }

func (s integrationStore) SetStatus(ctx context.Context, tenantID, id uuid.UUID, status models.IntegrationStatus, address *string) error {
	return nil
}

func (s integrationStore) ClearCredentialRef(ctx context.Context, tenantID, id uuid.UUID) error {
	return nil
}

func (s integrationStore) ListConnectedPaired(ctx context.Context) ([]models.Integration, error) {
	return nil, nil
}

func (s integrationStore) Delete(ctx context.Context, id uuid.UUID) error { return nil }

type fakeSessionSender struct {
	externalID string
	err        error
	calls      int
}

func (f *fakeSessionSender) Send(ctx context.Context, integrationID uuid.UUID, address, text string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.externalID, nil
}

type fakeAPISender struct {
	externalID string
	err        error
	gotToken   string
	gotTo      string
}

func (f *fakeAPISender) SendText(ctx context.Context, accessToken, recipientID, text string) (string, error) {
	f.gotToken = accessToken
	f.gotTo = recipientID
	if f.err != nil {
		return "", f.err
	}
	return f.externalID, nil
}

type dispatcherFixture struct {
	store      *fixtureStore
	sessions   *fakeSessionSender
	api        *fakeAPISender
	dispatcher *dispatch.Dispatcher
	tenantID   uuid.UUID
}

func newDispatcherFixture() *dispatcherFixture {
	store := newFixtureStore()
	sessions := &fakeSessionSender{externalID: "ext-1"}
	api := &fakeAPISender{externalID: "mid-1"}
	return &dispatcherFixture{
		store:    store,
		sessions: sessions,
		api:      api,
		dispatcher: dispatch.NewDispatcher(
			store,
			contactStore{store},
			messageStore{store},
			integrationStore{store},
			sessions,
			api,
			getTestLogger(),
		),
		tenantID: uuid.New(),
	}
}

func (f *dispatcherFixture) seedConversation(channel models.ChannelKind, integrationID *uuid.UUID) *models.Conversation {
	contact := &models.Contact{
		ID:         uuid.New(),
		TenantID:   f.tenantID,
		Channel:    channel,
		ExternalID: "peer-1",
	}
	conversation := &models.Conversation{
		ID:            uuid.New(),
		TenantID:      f.tenantID,
		Channel:       channel,
		ContactID:     contact.ID,
		IntegrationID: integrationID,
	}
	f.store.contacts[contact.ID] = contact
	f.store.conversations[conversation.ID] = conversation
	return conversation
}

func TestSendOverPairedChannel(t *testing.T) {
	f := newDispatcherFixture()
	integrationID := uuid.New()
	conversation := f.seedConversation(models.ChannelWhatsApp, &integrationID)

	message, err := f.dispatcher.Send(context.Background(), f.tenantID, conversation.ID, "hi")
	require.NoError(t, err)

	assert.True(t, message.Delivered)
	require.NotNil(t, message.ExternalID)
	assert.Equal(t, "ext-1", *message.ExternalID)
	assert.Equal(t, models.DirectionUser, message.Direction)
	assert.Equal(t, 1, f.sessions.calls)
}

func TestSendRecordsUndeliveredWhenNotConnected(t *testing.T) {
	f := newDispatcherFixture()
	f.sessions.err = session.ErrNotConnected
	integrationID := uuid.New()
	conversation := f.seedConversation(models.ChannelWhatsApp, &integrationID)

	message, err := f.dispatcher.Send(context.Background(), f.tenantID, conversation.ID, "hi")
	require.ErrorIs(t, err, dispatch.ErrChannelNotConnected)

	// The message is still on record, undelivered.
	require.NotNil(t, message)
	assert.False(t, message.Delivered)
	require.Len(t, f.store.messages, 1)
	assert.False(t, f.store.messages[0].Delivered)
}

func TestSendOverMessengerUsesStoredToken(t *testing.T) {
	f := newDispatcherFixture()
	token := "page-token"
	integration := &models.Integration{
		ID:            uuid.New(),
		TenantID:      f.tenantID,
		Channel:       models.ChannelMessenger,
		CredentialRef: &token,
	}
	f.store.integrations[integration.ID] = integration
	conversation := f.seedConversation(models.ChannelMessenger, &integration.ID)

	message, err := f.dispatcher.Send(context.Background(), f.tenantID, conversation.ID, "hi")
	require.NoError(t, err)

	assert.True(t, message.Delivered)
	assert.Equal(t, "page-token", f.api.gotToken)
	assert.Equal(t, "peer-1", f.api.gotTo)
}

func TestSendOverMessengerWithoutCredentialFails(t *testing.T) {
	f := newDispatcherFixture()
	integration := &models.Integration{
		ID:       uuid.New(),
		TenantID: f.tenantID,
		Channel:  models.ChannelMessenger,
	}
	f.store.integrations[integration.ID] = integration
	conversation := f.seedConversation(models.ChannelMessenger, &integration.ID)

	message, err := f.dispatcher.Send(context.Background(), f.tenantID, conversation.ID, "hi")
	require.ErrorIs(t, err, dispatch.ErrChannelNotConnected)
	require.NotNil(t, message)
	assert.False(t, message.Delivered)
}

func TestSendWithoutIntegrationFails(t *testing.T) {
	f := newDispatcherFixture()
	conversation := f.seedConversation(models.ChannelWhatsApp, nil)

	_, err := f.dispatcher.Send(context.Background(), f.tenantID, conversation.ID, "hi")
	require.ErrorIs(t, err, dispatch.ErrChannelNotConnected)
}

func TestSendRejectsEmptyText(t *testing.T) {
	f := newDispatcherFixture()
	integrationID := uuid.New()
	conversation := f.seedConversation(models.ChannelWhatsApp, &integrationID)

	_, err := f.dispatcher.Send(context.Background(), f.tenantID, conversation.ID, "")
	require.ErrorIs(t, err, dispatch.ErrEmptyMessage)
	assert.Empty(t, f.store.messages)
}

func TestSendUnknownConversationFails(t *testing.T) {
	f := newDispatcherFixture()

	_, err := f.dispatcher.Send(context.Background(), f.tenantID, uuid.New(), "hi")
	require.Error(t, err)
	assert.Empty(t, f.store.messages)
}
