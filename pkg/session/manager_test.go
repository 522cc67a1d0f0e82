package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/pkg/credentials"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/session"
	"github.com/Ramsey-B/clover/pkg/transport"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fakeConn struct {
	events    chan transport.Event
	sendID    string
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan transport.Event, 8),
		sendID: "sent-1",
	}
}

func (c *fakeConn) Events() <-chan transport.Event { return c.events }

func (c *fakeConn) Send(ctx context.Context, address, text string) (string, error) {
	return c.sendID, nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {})
	return nil
}

// fakeDialer hands out queued connections; Dial blocks until one is queued
// or the context is cancelled.
type fakeDialer struct {
	mu    sync.Mutex
	conns chan *fakeConn
	err   error
	dials int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, credentialPath string) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	err := d.err
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}

	select {
	case conn := <-d.conns:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type statusWrite struct {
	tenantID uuid.UUID
	id       uuid.UUID
	status   models.IntegrationStatus
	address  *string
}

type fakeStatusStore struct {
	mu      sync.Mutex
	writes  []statusWrite
	cleared []uuid.UUID
	listed  []models.Integration
}

func (s *fakeStatusStore) SetStatus(ctx context.Context, tenantID, id uuid.UUID, status models.IntegrationStatus, address *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, statusWrite{tenantID: tenantID, id: id, status: status, address: address})
	return nil
}

func (s *fakeStatusStore) ClearCredentialRef(ctx context.Context, tenantID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, id)
	return nil
}

func (s *fakeStatusStore) ListConnectedPaired(ctx context.Context) ([]models.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listed, nil
}

func (s *fakeStatusStore) lastStatus() (models.IntegrationStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return "", false
	}
	return s.writes[len(s.writes)-1].status, true
}

func (s *fakeStatusStore) countStatus(status models.IntegrationStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.writes {
		if w.status == status {
			n++
		}
	}
	return n
}

func (s *fakeStatusStore) clearCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cleared)
}

type managerFixture struct {
	manager *session.Manager
	dialer  *fakeDialer
	store   *fakeStatusStore
	creds   *credentials.FileStore
}

func newManagerFixture(t *testing.T, inbound session.InboundHandler) *managerFixture {
	t.Helper()

	creds, err := credentials.NewFileStore(t.TempDir())
	require.NoError(t, err)

	dialer := newFakeDialer()
	store := &fakeStatusStore{}
	cfg := session.Config{
		BackoffBase: time.Millisecond,
		BackoffCap:  4 * time.Millisecond,
		MaxRetries:  3,
	}

	return &managerFixture{
		manager: session.NewManager(dialer, creds, store, inbound, nil, cfg, getTestLogger()),
		dialer:  dialer,
		store:   store,
		creds:   creds,
	}
}

func waitStatus(t *testing.T, f *managerFixture, integrationID uuid.UUID, want session.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, ok := f.manager.GetSession(integrationID)
		return ok && snap.Status == want
	}, 2*time.Second, 2*time.Millisecond, "session never reached %s", want)
}

func TestSessionPairingThenConnected(t *testing.T) {
	f := newManagerFixture(t, nil)
	integrationID, tenantID, userID := uuid.New(), uuid.New(), uuid.New()

	conn := newFakeConn()
	f.dialer.conns <- conn

	require.NoError(t, f.manager.StartSession(context.Background(), integrationID, tenantID, userID))

	// Credential entry is created up front so the transport has a blob.
	exists, err := f.creds.Exists(integrationID)
	require.NoError(t, err)
	assert.True(t, exists)

	conn.events <- transport.Event{Kind: transport.EventPairing, PairingArtifact: []byte("qr-payload-1")}
	waitStatus(t, f, integrationID, session.StatusAwaitingPairing)

	artifact, status := f.manager.PairingArtifact(integrationID)
	assert.Equal(t, session.StatusAwaitingPairing, status)
	assert.Equal(t, []byte("qr-payload-1"), artifact)

	// A rotated pairing payload replaces the old one.
	conn.events <- transport.Event{Kind: transport.EventPairing, PairingArtifact: []byte("qr-payload-2")}
	require.Eventually(t, func() bool {
		artifact, _ := f.manager.PairingArtifact(integrationID)
		return string(artifact) == "qr-payload-2"
	}, 2*time.Second, 2*time.Millisecond)

	conn.events <- transport.Event{Kind: transport.EventConnected, Address: "155500011@c.us"}
	waitStatus(t, f, integrationID, session.StatusConnected)

	snap, ok := f.manager.GetSession(integrationID)
	require.True(t, ok)
	assert.Empty(t, snap.PairingArtifact, "pairing payload must be dropped once connected")
	assert.Equal(t, "155500011@c.us", snap.Address)
	assert.Zero(t, snap.RetryCount)

	require.Eventually(t, func() bool {
		return f.store.countStatus(models.IntegrationConnected) == 1
	}, 2*time.Second, 2*time.Millisecond, "connected status never persisted")

	externalID, err := f.manager.Send(context.Background(), integrationID, "peer", "hello")
	require.NoError(t, err)
	assert.Equal(t, "sent-1", externalID)
}

func TestTerminalRevocationWipesCredentials(t *testing.T) {
	f := newManagerFixture(t, nil)
	integrationID, tenantID, userID := uuid.New(), uuid.New(), uuid.New()

	conn := newFakeConn()
	f.dialer.conns <- conn
	require.NoError(t, f.manager.StartSession(context.Background(), integrationID, tenantID, userID))

	conn.events <- transport.Event{Kind: transport.EventConnected, Address: "addr"}
	waitStatus(t, f, integrationID, session.StatusConnected)

	conn.events <- transport.Event{Kind: transport.EventDisconnected, Terminal: true, Reason: "logged out on phone"}

	require.Eventually(t, func() bool {
		_, ok := f.manager.GetSession(integrationID)
		return !ok
	}, 2*time.Second, 2*time.Millisecond, "revoked session never deregistered")

	require.Eventually(t, func() bool {
		last, ok := f.store.lastStatus()
		return ok && last == models.IntegrationDisconnected
	}, 2*time.Second, 2*time.Millisecond)
	assert.GreaterOrEqual(t, f.store.clearCount(), 1, "credential reference must be cleared")

	exists, err := f.creds.Exists(integrationID)
	require.NoError(t, err)
	assert.False(t, exists, "credential blob must be wiped on revocation")

	// No further reconnect attempts.
	dials := f.dialer.dialCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, dials, f.dialer.dialCount())
}

func TestTransientDropReconnects(t *testing.T) {
	f := newManagerFixture(t, nil)
	integrationID, tenantID, userID := uuid.New(), uuid.New(), uuid.New()

	conn1 := newFakeConn()
	f.dialer.conns <- conn1
	require.NoError(t, f.manager.StartSession(context.Background(), integrationID, tenantID, userID))

	conn1.events <- transport.Event{Kind: transport.EventConnected, Address: "addr"}
	waitStatus(t, f, integrationID, session.StatusConnected)

	conn2 := newFakeConn()
	f.dialer.conns <- conn2
	conn1.events <- transport.Event{Kind: transport.EventDisconnected, Terminal: false, Reason: "stream error"}

	conn2.events <- transport.Event{Kind: transport.EventConnected, Address: "addr"}
	require.Eventually(t, func() bool {
		return f.store.countStatus(models.IntegrationConnected) == 2
	}, 2*time.Second, 2*time.Millisecond, "session never reconnected")

	snap, ok := f.manager.GetSession(integrationID)
	require.True(t, ok)
	assert.Equal(t, session.StatusConnected, snap.Status)
	assert.Zero(t, snap.RetryCount, "retry counter must reset on successful connect")
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.dialer.err = errors.New("socket refused")
	integrationID, tenantID, userID := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, f.manager.StartSession(context.Background(), integrationID, tenantID, userID))

	require.Eventually(t, func() bool {
		last, ok := f.store.lastStatus()
		return ok && last == models.IntegrationDisconnected
	}, 2*time.Second, 2*time.Millisecond, "exhausted session never marked disconnected")

	_, ok := f.manager.GetSession(integrationID)
	assert.False(t, ok, "exhausted session must leave the registry")

	// The initial attempt plus one per allowed retry, then it stops.
	dials := f.dialer.dialCount()
	assert.Equal(t, 4, dials)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, dials, f.dialer.dialCount())
}

func TestDisconnectSessionIsIdempotent(t *testing.T) {
	f := newManagerFixture(t, nil)
	integrationID, tenantID, userID := uuid.New(), uuid.New(), uuid.New()

	// Dial blocks forever; the session stays in connecting.
	require.NoError(t, f.manager.StartSession(context.Background(), integrationID, tenantID, userID))

	require.NoError(t, f.manager.DisconnectSession(context.Background(), tenantID, integrationID))
	require.NoError(t, f.manager.DisconnectSession(context.Background(), tenantID, integrationID))

	_, ok := f.manager.GetSession(integrationID)
	assert.False(t, ok)

	exists, err := f.creds.Exists(integrationID)
	require.NoError(t, err)
	assert.False(t, exists)

	// Both calls write the durable status; the second is a harmless repeat.
	assert.Equal(t, 2, f.store.countStatus(models.IntegrationDisconnected))
}

func TestStartSessionReplacesExisting(t *testing.T) {
	f := newManagerFixture(t, nil)
	integrationID, tenantID, userID := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, f.manager.StartSession(context.Background(), integrationID, tenantID, userID))
	require.NoError(t, f.manager.StartSession(context.Background(), integrationID, tenantID, userID))

	assert.Equal(t, 1, f.manager.ActiveSessions())
}

func TestReconnectAllRestoresOwnedSessions(t *testing.T) {
	f := newManagerFixture(t, nil)
	userID := uuid.New()
	f.store.listed = []models.Integration{
		{ID: uuid.New(), TenantID: uuid.New(), UserID: &userID, Channel: models.ChannelWhatsApp},
		// No owning user; nothing to pair as. Skipped.
		{ID: uuid.New(), TenantID: uuid.New(), Channel: models.ChannelWhatsApp},
	}

	require.NoError(t, f.manager.ReconnectAll(context.Background()))
	assert.Equal(t, 1, f.manager.ActiveSessions())
}

func TestShutdownAllKeepsDurableState(t *testing.T) {
	f := newManagerFixture(t, nil)
	integrationID, tenantID, userID := uuid.New(), uuid.New(), uuid.New()

	conn := newFakeConn()
	f.dialer.conns <- conn
	require.NoError(t, f.manager.StartSession(context.Background(), integrationID, tenantID, userID))
	conn.events <- transport.Event{Kind: transport.EventConnected, Address: "addr"}
	waitStatus(t, f, integrationID, session.StatusConnected)

	f.manager.ShutdownAll()

	assert.Zero(t, f.manager.ActiveSessions())
	// The durable row still says connected so a restart re-pairs it.
	assert.Equal(t, 0, f.store.countStatus(models.IntegrationDisconnected))

	exists, err := f.creds.Exists(integrationID)
	require.NoError(t, err)
	assert.True(t, exists, "shutdown must not wipe credentials")
}

func TestSendRequiresConnectedSession(t *testing.T) {
	f := newManagerFixture(t, nil)
	integrationID, tenantID, userID := uuid.New(), uuid.New(), uuid.New()

	_, err := f.manager.Send(context.Background(), integrationID, "peer", "hi")
	assert.ErrorIs(t, err, session.ErrNotConnected)

	// Session exists but is still connecting.
	require.NoError(t, f.manager.StartSession(context.Background(), integrationID, tenantID, userID))
	_, err = f.manager.Send(context.Background(), integrationID, "peer", "hi")
	assert.ErrorIs(t, err, session.ErrNotConnected)
}

func TestInboundMessagesReachTheHandler(t *testing.T) {
	var mu sync.Mutex
	var received []ingest.InboundEvent
	handler := func(ctx context.Context, event ingest.InboundEvent) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event)
		return nil
	}

	f := newManagerFixture(t, handler)
	integrationID, tenantID, userID := uuid.New(), uuid.New(), uuid.New()

	conn := newFakeConn()
	f.dialer.conns <- conn
	require.NoError(t, f.manager.StartSession(context.Background(), integrationID, tenantID, userID))
	conn.events <- transport.Event{Kind: transport.EventConnected, Address: "addr"}
	waitStatus(t, f, integrationID, session.StatusConnected)

	conn.events <- transport.Event{
		Kind:       transport.EventMessage,
		SenderID:   "15550001111",
		SenderName: "Ada",
		MessageID:  "wamid-1",
		Text:       "hello",
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 2*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	event := received[0]
	assert.Equal(t, tenantID, event.TenantID)
	require.NotNil(t, event.IntegrationID)
	assert.Equal(t, integrationID, *event.IntegrationID)
	assert.Equal(t, models.ChannelWhatsApp, event.Channel)
	assert.Equal(t, "15550001111", event.ExternalContactID)
	assert.Equal(t, "wamid-1", event.ExternalMessageID)
	assert.Equal(t, "hello", event.Text)
}
