package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/radsync/domain"
	rserrors "go.pilab.hu/radsync/errors"
)

// OpenStudyRequest asks the coordinator to record a study being opened in
// the source application and fan the fact out to the target applications.
type OpenStudyRequest struct {
	StudyID string
	Source  string
	Target  []domain.AppType
	Payload domain.OpenStudyPayload
}

// CloseStudyRequest is the close counterpart; only the study id is
// required beyond addressing.
type CloseStudyRequest struct {
	StudyID string
	Source  string
	Target  []domain.AppType
	Payload domain.CloseStudyPayload
}

// StudyResult is the outcome of a study open/close: the materialized event
// and the stream message id, empty when the stream was unavailable and the
// publish degraded to best-effort.
type StudyResult struct {
	Event           *domain.SessionEvent `json:"event"`
	StreamMessageID string               `json:"stream_message_id,omitempty"`
}

// LogoutResult reports what a logout cleaned up.
type LogoutResult struct {
	ClearedSessions         int `json:"cleared_sessions"`
	DisconnectedConnections int `json:"disconnected_connections"`
}

// StreamHealth lets the coordinator's health check reach the stream
// transport without owning it.
type StreamHealth func(ctx context.Context) error

// SessionCoordinator is the coordination core: it derives session identity
// from verified claims, appends events to the durable log, publishes them
// onto the stream strictly after commit, and triggers realtime
// notification of targeted applications. All collaborators are injected;
// tests substitute fakes per instance.
type SessionCoordinator struct {
	repo      domain.SessionRepository
	publisher StreamPublisher
	notifier  EventNotifier
	registry  ConnectionRegistry

	streamHealth StreamHealth

	now   func() time.Time
	newID func() string
}

// NewSessionCoordinator creates a SessionCoordinator.
func NewSessionCoordinator(
	repo domain.SessionRepository,
	publisher StreamPublisher,
	notifier EventNotifier,
	registry ConnectionRegistry,
	streamHealth StreamHealth,
) *SessionCoordinator {
	return &SessionCoordinator{
		repo:         repo,
		publisher:    publisher,
		notifier:     notifier,
		registry:     registry,
		streamHealth: streamHealth,
		now:          time.Now,
		newID:        func() string { return uuid.NewString() },
	}
}

// GetOrCreateSession resolves the session for a claim set. The provider's
// session marker, when present, is the session id so provider-side logout
// can be correlated later; otherwise a fresh id is generated. The upsert
// touches last_updated on an existing row.
func (c *SessionCoordinator) GetOrCreateSession(ctx context.Context, claims domain.Claims) (string, error) {
	if err := claims.Validate(); err != nil {
		return "", err
	}

	sessionID := claims.SessionState
	if sessionID == "" {
		sessionID = c.newID()
		log.Debug().Str("session_id", sessionID).Msg("No session marker in claims, generated session id")
	}

	if _, err := c.repo.UpsertSession(ctx, sessionID, claims.Subject); err != nil {
		return "", err
	}
	return sessionID, nil
}

// OpenStudy validates, records, publishes and dispatches an open_study
// event. Validation failures perform no write; storage failures perform no
// publish; a publish failure still returns success with an empty stream
// message id because the event is already durable.
func (c *SessionCoordinator) OpenStudy(ctx context.Context, claims domain.Claims, req OpenStudyRequest) (*StudyResult, error) {
	if err := validateAddressing(req.StudyID, req.Source, req.Target); err != nil {
		return nil, err
	}
	if err := req.Payload.Validate(); err != nil {
		return nil, err
	}
	return c.appendAndFanOut(ctx, claims, domain.EventOpenStudy, req.StudyID, req.Source, req.Target, req.Payload)
}

// CloseStudy validates, records, publishes and dispatches a close_study
// event.
func (c *SessionCoordinator) CloseStudy(ctx context.Context, claims domain.Claims, req CloseStudyRequest) (*StudyResult, error) {
	if err := validateAddressing(req.StudyID, req.Source, req.Target); err != nil {
		return nil, err
	}
	return c.appendAndFanOut(ctx, claims, domain.EventCloseStudy, req.StudyID, req.Source, req.Target, req.Payload)
}

func (c *SessionCoordinator) appendAndFanOut(
	ctx context.Context,
	claims domain.Claims,
	eventType domain.EventType,
	studyID, source string,
	target []domain.AppType,
	payload domain.EventPayload,
) (*StudyResult, error) {
	sessionID, err := c.GetOrCreateSession(ctx, claims)
	if err != nil {
		return nil, err
	}

	encoded, err := domain.EncodePayload(payload)
	if err != nil {
		return nil, rserrors.NewInvalidEvent("payload", err.Error())
	}

	event := &domain.SessionEvent{
		EventID:    c.newID(),
		SessionID:  sessionID,
		UserID:     claims.Subject,
		Type:       eventType,
		StudyID:    strings.TrimSpace(studyID),
		OccurredAt: c.now().UTC(),
		Source:     source,
		Target:     target,
		Payload:    encoded,
	}

	if err := c.repo.AppendEvent(ctx, event); err != nil {
		// No publish: the fact never durably happened.
		return nil, err
	}

	log.Info().
		Str("event_id", event.EventID).
		Str("session_id", sessionID).
		Str("event", string(eventType)).
		Str("study_id", event.StudyID).
		Msg("Session event recorded")

	result := &StudyResult{Event: event}

	messageID, err := c.publisher.Publish(ctx, event)
	if err != nil {
		var unavailable *rserrors.StreamUnavailableError
		if !errors.As(err, &unavailable) {
			// Publisher contract: every error is a stream failure. Anything
			// else still degrades the same way.
			log.Error().Err(err).Str("event_id", event.EventID).Msg("Unexpected publish error")
		}
		log.Warn().Err(err).
			Str("event_id", event.EventID).
			Msg("Stream publish degraded, clients fall back to session-state polling")
	} else {
		result.StreamMessageID = messageID
	}

	for _, appType := range event.Target {
		c.notifier.Notify(ctx, claims.Subject, appType, event)
	}

	return result, nil
}

// GetSessionState projects the session and its ordered events for client
// display. No session marker and no session row are both valid empty
// states, never errors.
func (c *SessionCoordinator) GetSessionState(ctx context.Context, claims domain.Claims) (*domain.SessionState, error) {
	if err := claims.Validate(); err != nil {
		return nil, err
	}

	state := &domain.SessionState{
		Session: domain.SessionView{
			UserID: claims.Subject,
			Events: []*domain.SessionEvent{},
		},
		UserInfo: claims.UserInfo(),
	}

	if claims.SessionState == "" {
		log.Debug().Str("user_id", claims.Subject).Msg("No session marker in claims, returning empty session state")
		return state, nil
	}
	state.Session.SessionID = claims.SessionState

	session, events, err := c.repo.GetSessionWithEvents(ctx, claims.SessionState)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return state, nil
	}

	state.Session.UserID = session.UserID
	if events != nil {
		state.Session.Events = events
	}
	return state, nil
}

// RegisterIntent acknowledges an upcoming connection attempt.
func (c *SessionCoordinator) RegisterIntent(claims domain.Claims, appType domain.AppType, clientInfo map[string]string) (domain.IntentRecord, error) {
	if err := claims.Validate(); err != nil {
		return domain.IntentRecord{}, err
	}
	return c.registry.RegisterIntent(claims.Subject, appType, clientInfo), nil
}

// ConnectionStatus answers whether the user has a live connection of the
// given application type.
func (c *SessionCoordinator) ConnectionStatus(ctx context.Context, claims domain.Claims, appType domain.AppType) (*domain.ConnectionStatus, error) {
	if err := claims.Validate(); err != nil {
		return nil, err
	}
	return c.registry.Status(ctx, claims.Subject, appType)
}

// ActiveConnections lists the user's live connections.
func (c *SessionCoordinator) ActiveConnections(ctx context.Context, claims domain.Claims) ([]*domain.Connection, error) {
	if err := claims.Validate(); err != nil {
		return nil, err
	}
	return c.registry.Connections(ctx, claims.Subject)
}

// Logout tears down the user's realtime connections. Session rows are
// retained (they are the audit trail); cleared_sessions counts the session
// correlated to the provider marker whose live activity ended.
func (c *SessionCoordinator) Logout(ctx context.Context, claims domain.Claims) (*LogoutResult, error) {
	if err := claims.Validate(); err != nil {
		return nil, err
	}

	result := &LogoutResult{}

	if claims.SessionState != "" {
		session, _, err := c.repo.GetSessionWithEvents(ctx, claims.SessionState)
		if err != nil {
			return nil, err
		}
		if session != nil {
			result.ClearedSessions = 1
		}
	}

	disconnected, err := c.registry.DisconnectAll(ctx, claims.Subject, "user_logged_out")
	if err != nil {
		return nil, err
	}
	result.DisconnectedConnections = disconnected

	log.Info().
		Str("user_id", claims.Subject).
		Int("disconnected", disconnected).
		Msg("User logged out")
	return result, nil
}

// Health reports per-subsystem status. The overall status is degraded as
// soon as any subsystem fails; the service itself keeps running since the
// durable log path may still be fine.
func (c *SessionCoordinator) Health(ctx context.Context) map[string]interface{} {
	overall := "healthy"
	subsystems := make(map[string]interface{}, 3)

	if err := c.repo.Ping(ctx); err != nil {
		subsystems["store"] = map[string]interface{}{"status": "unhealthy", "error": err.Error()}
		overall = "degraded"
	} else {
		subsystems["store"] = map[string]interface{}{"status": "healthy"}
	}

	if c.streamHealth != nil {
		if err := c.streamHealth(ctx); err != nil {
			subsystems["stream"] = map[string]interface{}{"status": "unhealthy", "error": err.Error()}
			overall = "degraded"
		} else {
			subsystems["stream"] = map[string]interface{}{"status": "healthy"}
		}
	}

	regHealth, err := c.registry.Health(ctx)
	subsystems["registry"] = regHealth
	if err != nil {
		overall = "degraded"
	}

	return map[string]interface{}{
		"status":     overall,
		"subsystems": subsystems,
		"timestamp":  c.now().UTC().Format(time.RFC3339),
	}
}

// validateAddressing checks the fields every study event must carry.
func validateAddressing(studyID, source string, target []domain.AppType) error {
	if strings.TrimSpace(studyID) == "" {
		return rserrors.NewInvalidEvent("study_id", "study id is required")
	}
	if strings.TrimSpace(source) == "" {
		return rserrors.NewInvalidEvent("source", "source application is required")
	}
	if len(target) == 0 {
		return rserrors.NewInvalidEvent("target", "target list must not be empty")
	}
	for _, appType := range target {
		if !appType.Valid() {
			return rserrors.NewInvalidEvent("target", "unknown application type "+string(appType))
		}
	}
	return nil
}
