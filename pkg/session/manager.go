// Package session runs the connection lifecycle for paired-channel
// integrations: one registry-owned state machine per integration, with
// exponential-backoff reconnects and write-through of durable transitions.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/credentials"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/transport"
)

// ErrNotConnected is returned by Send when the integration has no live,
// authenticated session.
var ErrNotConnected = errors.New("session not connected")

// StatusStore is the slice of the integration repository the manager needs.
// It takes tenant ids explicitly because the manager runs outside any
// request context.
type StatusStore interface {
	SetStatus(ctx context.Context, tenantID, id uuid.UUID, status models.IntegrationStatus, address *string) error
	ClearCredentialRef(ctx context.Context, tenantID, id uuid.UUID) error
	ListConnectedPaired(ctx context.Context) ([]models.Integration, error)
}

// StatusPublisher announces durable session transitions to the platform.
type StatusPublisher interface {
	PublishSessionStatus(ctx context.Context, event kafka.SessionStatusEvent) error
}

// InboundHandler receives normalized inbound messages from live sessions.
// Errors are contained by the pipeline; the manager only logs them.
type InboundHandler func(ctx context.Context, event ingest.InboundEvent) error

// runtime is one registered session plus its connection handles. The mu
// guards the session fields; the connection and loop lifetime are owned by
// the run goroutine and torn down via cancel.
type runtime struct {
	mu      sync.Mutex
	session Session

	cancel context.CancelFunc
	done   chan struct{}

	connMu sync.Mutex
	conn   transport.Conn
}

func (rt *runtime) setConn(conn transport.Conn) {
	rt.connMu.Lock()
	rt.conn = conn
	rt.connMu.Unlock()
}

func (rt *runtime) closeConn() {
	rt.connMu.Lock()
	conn := rt.conn
	rt.conn = nil
	rt.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Manager supervises every paired-channel session. Start/disconnect are
// serialized through the registry; connection establishment is
// asynchronous, StartSession returns once the attempt is scheduled.
type Manager struct {
	registry  *Registry
	dialer    transport.Dialer
	creds     credentials.Store
	store     StatusStore
	inbound   InboundHandler
	publisher StatusPublisher
	config    Config
	logger    ectologger.Logger
}

// NewManager creates a session manager. publisher may be nil.
func NewManager(
	dialer transport.Dialer,
	creds credentials.Store,
	store StatusStore,
	inbound InboundHandler,
	publisher StatusPublisher,
	config Config,
	logger ectologger.Logger,
) *Manager {
	return &Manager{
		registry:  NewRegistry(),
		dialer:    dialer,
		creds:     creds,
		store:     store,
		inbound:   inbound,
		publisher: publisher,
		config:    config.normalize(),
		logger:    logger,
	}
}

// StartSession begins a connection attempt for an integration. Any existing
// session for the id is torn down first, so restarts are idempotent. The
// credential entry is created when absent; a fresh (empty) entry makes the
// transport begin a pairing flow.
func (m *Manager) StartSession(ctx context.Context, integrationID, tenantID, userID uuid.UUID) error {
	if err := m.creds.Ensure(integrationID); err != nil {
		return err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	rt := &runtime{
		session: Session{
			IntegrationID: integrationID,
			TenantID:      tenantID,
			UserID:        userID,
			Status:        StatusConnecting,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if old := m.registry.put(integrationID, rt); old != nil {
		m.teardown(old)
	}

	metrics.SessionsActive.WithLabelValues(string(StatusConnecting)).Inc()
	m.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integrationID,
		"tenant_id":      tenantID,
	}).Info("Starting paired session")

	go m.run(sessCtx, rt)
	return nil
}

// GetSession returns a snapshot of the session for an integration.
func (m *Manager) GetSession(integrationID uuid.UUID) (Snapshot, bool) {
	rt := m.registry.get(integrationID)
	if rt == nil {
		return Snapshot{}, false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.session.snapshot(), true
}

// PairingArtifact returns the last-known pairing payload and status. An
// absent session reports Disconnected.
func (m *Manager) PairingArtifact(integrationID uuid.UUID) ([]byte, Status) {
	snap, ok := m.GetSession(integrationID)
	if !ok {
		return nil, StatusDisconnected
	}
	return snap.PairingArtifact, snap.Status
}

// DisconnectSession tears down the session for an integration, deletes its
// credential entry, and writes the durable status. Safe to call when no
// live session exists; any in-flight reconnect timer is cancelled.
func (m *Manager) DisconnectSession(ctx context.Context, tenantID, integrationID uuid.UUID) error {
	if rt := m.registry.pop(integrationID); rt != nil {
		m.teardown(rt)
	}

	if err := m.creds.Delete(integrationID); err != nil {
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": integrationID,
		}).Warn("failed to delete credential entry on disconnect")
	}

	cleared := ""
	if err := m.store.SetStatus(ctx, tenantID, integrationID, models.IntegrationDisconnected, &cleared); err != nil {
		return err
	}
	if err := m.store.ClearCredentialRef(ctx, tenantID, integrationID); err != nil {
		return err
	}

	metrics.SessionTransitionsTotal.WithLabelValues(string(StatusDisconnected)).Inc()
	m.publishStatus(ctx, tenantID, integrationID, uuid.Nil, StatusDisconnected, "", "user disconnect")

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integrationID,
	}).Info("Session disconnected")
	return nil
}

// ReconnectAll restores a session for every integration last observed as
// connected with an owning user. Individual failures are logged and do not
// abort the batch.
func (m *Manager) ReconnectAll(ctx context.Context) error {
	integrations, err := m.store.ListConnectedPaired(ctx)
	if err != nil {
		return err
	}

	for _, integration := range integrations {
		if integration.UserID == nil {
			continue
		}
		if err := m.StartSession(ctx, integration.ID, integration.TenantID, *integration.UserID); err != nil {
			m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"integration_id": integration.ID,
			}).Error("failed to restore session")
		}
	}

	m.logger.WithContext(ctx).Infof("Restore pass attempted %d sessions", len(integrations))
	return nil
}

// ShutdownAll closes every live transport best-effort. Durable statuses are
// left untouched so a restart re-attempts these sessions.
func (m *Manager) ShutdownAll() {
	for _, rt := range m.registry.drain() {
		m.teardown(rt)
	}
	m.logger.Info("All sessions shut down")
}

// ActiveSessions returns the number of registered sessions.
func (m *Manager) ActiveSessions() int {
	return m.registry.Len()
}

// Send relays a text message over an integration's live session. The
// session must be Connected.
func (m *Manager) Send(ctx context.Context, integrationID uuid.UUID, address, text string) (string, error) {
	rt := m.registry.get(integrationID)
	if rt == nil {
		return "", ErrNotConnected
	}

	rt.mu.Lock()
	status := rt.session.Status
	rt.mu.Unlock()
	if status != StatusConnected {
		return "", ErrNotConnected
	}

	rt.connMu.Lock()
	conn := rt.conn
	rt.connMu.Unlock()
	if conn == nil {
		return "", ErrNotConnected
	}

	return conn.Send(ctx, address, text)
}

// teardown cancels the run loop, closes the transport, and waits for the
// loop to exit. The runtime must already be out of the registry.
func (m *Manager) teardown(rt *runtime) {
	rt.cancel()
	rt.closeConn()
	<-rt.done

	rt.mu.Lock()
	prev := rt.session.Status
	rt.session.Status = StatusDisconnected
	rt.mu.Unlock()
	metrics.SessionsActive.WithLabelValues(string(prev)).Dec()
}

// run is the per-session event loop: dial, consume events, and on transient
// drops sleep out the backoff and dial again. It exits when the session
// context is cancelled, on terminal revocation, or when retries are
// exhausted.
func (m *Manager) run(ctx context.Context, rt *runtime) {
	defer close(rt.done)

	log := m.logger.WithFields(map[string]any{
		"integration_id": rt.session.IntegrationID,
		"tenant_id":      rt.session.TenantID,
	})

	for {
		conn, err := m.dialer.Dial(ctx, m.creds.Path(rt.session.IntegrationID))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("transport dial failed")
			if !m.sleepBackoff(ctx, rt) {
				return
			}
			continue
		}
		rt.setConn(conn)

		terminal, redial := m.consume(ctx, rt, conn, log)
		rt.closeConn()
		if terminal || ctx.Err() != nil {
			return
		}
		if !redial {
			return
		}
		if !m.sleepBackoff(ctx, rt) {
			return
		}
	}
}

// consume drains one connection's events. Returns terminal=true when the
// session is finished for good, redial=true when a transient drop warrants
// another attempt.
func (m *Manager) consume(ctx context.Context, rt *runtime, conn transport.Conn, log ectologger.Logger) (terminal bool, redial bool) {
	for {
		select {
		case <-ctx.Done():
			return true, false
		case event, ok := <-conn.Events():
			if !ok {
				// Transport went away without a disconnect event.
				return false, true
			}

			switch event.Kind {
			case transport.EventPairing:
				m.transition(rt, func(s *Session) {
					s.Status = StatusAwaitingPairing
					s.PairingArtifact = event.PairingArtifact
				})
				// Pairing payloads rotate and are ephemeral: in-memory only,
				// never written through to the durable store.
				log.Debug("Pairing artifact updated")

			case transport.EventConnected:
				m.transition(rt, func(s *Session) {
					s.Status = StatusConnected
					s.PairingArtifact = nil
					s.Address = event.Address
					s.RetryCount = 0
				})
				address := event.Address
				if err := m.store.SetStatus(ctx, rt.session.TenantID, rt.session.IntegrationID, models.IntegrationConnected, &address); err != nil {
					log.WithError(err).Error("failed to persist connected status")
				}
				metrics.SessionTransitionsTotal.WithLabelValues(string(StatusConnected)).Inc()
				m.publishStatus(ctx, rt.session.TenantID, rt.session.IntegrationID, rt.session.UserID, StatusConnected, event.Address, "")
				log.WithField("address", event.Address).Info("Session connected")

			case transport.EventDisconnected:
				if event.Terminal {
					m.revoke(ctx, rt, event.Reason, log)
					return true, false
				}
				log.WithField("reason", event.Reason).Warn("transient transport drop")
				return false, true

			case transport.EventMessage:
				m.handleMessage(ctx, rt, event, log)
			}
		}
	}
}

// revoke handles a terminal revocation: credentials are wiped immediately
// so a stale blob is never offered to the transport again, and the durable
// status goes straight to disconnected with no backoff.
func (m *Manager) revoke(ctx context.Context, rt *runtime, reason string, log ectologger.Logger) {
	m.transition(rt, func(s *Session) {
		s.Status = StatusDisconnected
		s.PairingArtifact = nil
	})

	if err := m.creds.Delete(rt.session.IntegrationID); err != nil {
		log.WithError(err).Warn("failed to wipe revoked credentials")
	}
	if err := m.store.ClearCredentialRef(ctx, rt.session.TenantID, rt.session.IntegrationID); err != nil {
		log.WithError(err).Error("failed to clear credential reference")
	}
	cleared := ""
	if err := m.store.SetStatus(ctx, rt.session.TenantID, rt.session.IntegrationID, models.IntegrationDisconnected, &cleared); err != nil {
		log.WithError(err).Error("failed to persist disconnected status")
	}

	metrics.SessionTransitionsTotal.WithLabelValues(string(StatusDisconnected)).Inc()
	m.publishStatus(ctx, rt.session.TenantID, rt.session.IntegrationID, rt.session.UserID, StatusDisconnected, "", reason)
	m.registry.popIf(rt.session.IntegrationID, rt)
	metrics.SessionsActive.WithLabelValues(string(StatusDisconnected)).Dec()
	log.WithField("reason", reason).Warn("Session revoked by transport")
}

// sleepBackoff applies the reconnect policy after a transient drop. Returns
// false when the session should stop: retries exhausted (durable status is
// written) or the context was cancelled mid-wait.
func (m *Manager) sleepBackoff(ctx context.Context, rt *runtime) bool {
	rt.mu.Lock()
	retry := rt.session.RetryCount
	rt.mu.Unlock()

	if retry >= m.config.MaxRetries {
		m.transition(rt, func(s *Session) {
			s.Status = StatusDisconnected
		})
		metrics.SessionsActive.WithLabelValues(string(StatusDisconnected)).Dec()

		cleared := ""
		if err := m.store.SetStatus(ctx, rt.session.TenantID, rt.session.IntegrationID, models.IntegrationDisconnected, &cleared); err != nil {
			m.logger.WithError(err).WithField("integration_id", rt.session.IntegrationID).Error("failed to persist disconnected status")
		}
		metrics.SessionTransitionsTotal.WithLabelValues(string(StatusDisconnected)).Inc()
		m.publishStatus(ctx, rt.session.TenantID, rt.session.IntegrationID, rt.session.UserID, StatusDisconnected, "", "retries exhausted")
		m.registry.popIf(rt.session.IntegrationID, rt)
		m.logger.WithField("integration_id", rt.session.IntegrationID).Warn("Session gave up after max retries")
		return false
	}

	m.transition(rt, func(s *Session) {
		s.RetryCount = retry + 1
		s.Status = StatusConnecting
	})

	metrics.SessionReconnectsTotal.Inc()
	delay := m.config.Delay(retry)
	m.logger.WithFields(map[string]any{
		"integration_id": rt.session.IntegrationID,
		"retry":          retry + 1,
		"delay":          delay.String(),
	}).Info("Scheduling reconnect")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) handleMessage(ctx context.Context, rt *runtime, event transport.Event, log ectologger.Logger) {
	if m.inbound == nil {
		return
	}

	integrationID := rt.session.IntegrationID
	inboundEvent := ingest.InboundEvent{
		TenantID:          rt.session.TenantID,
		IntegrationID:     &integrationID,
		Channel:           models.ChannelWhatsApp,
		ExternalContactID: event.SenderID,
		ExternalMessageID: event.MessageID,
		Text:              event.Text,
		DisplayName:       event.SenderName,
	}

	if err := m.inbound(ctx, inboundEvent); err != nil {
		// Ingestion failures never take the session down.
		log.WithError(err).WithField("external_message_id", event.MessageID).Error("inbound message ingestion failed")
	}
}

func (m *Manager) transition(rt *runtime, apply func(*Session)) {
	rt.mu.Lock()
	prev := rt.session.Status
	apply(&rt.session)
	next := rt.session.Status
	rt.mu.Unlock()

	if prev != next {
		metrics.SessionsActive.WithLabelValues(string(prev)).Dec()
		metrics.SessionsActive.WithLabelValues(string(next)).Inc()
	}
}

func (m *Manager) publishStatus(ctx context.Context, tenantID, integrationID, userID uuid.UUID, status Status, address, reason string) {
	if m.publisher == nil {
		return
	}
	event := kafka.SessionStatusEvent{
		TenantID:      tenantID,
		IntegrationID: integrationID,
		UserID:        userID,
		Channel:       string(models.ChannelWhatsApp),
		Status:        string(status),
		Address:       address,
		Reason:        reason,
	}
	if err := m.publisher.PublishSessionStatus(ctx, event); err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("failed to publish session status event")
	}
}
