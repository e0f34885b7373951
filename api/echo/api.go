package echo

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/radsync/domain"
	rserrors "go.pilab.hu/radsync/errors"
	"go.pilab.hu/radsync/middleware"
	"go.pilab.hu/radsync/services"
	"go.pilab.hu/radsync/ws"
)

// Coordinator is the session coordination surface the HTTP layer exposes.
// Implemented by services.SessionCoordinator.
type Coordinator interface {
	OpenStudy(ctx context.Context, claims domain.Claims, req services.OpenStudyRequest) (*services.StudyResult, error)
	CloseStudy(ctx context.Context, claims domain.Claims, req services.CloseStudyRequest) (*services.StudyResult, error)
	GetSessionState(ctx context.Context, claims domain.Claims) (*domain.SessionState, error)
	RegisterIntent(claims domain.Claims, appType domain.AppType, clientInfo map[string]string) (domain.IntentRecord, error)
	ConnectionStatus(ctx context.Context, claims domain.Claims, appType domain.AppType) (*domain.ConnectionStatus, error)
	ActiveConnections(ctx context.Context, claims domain.Claims) ([]*domain.Connection, error)
	Logout(ctx context.Context, claims domain.Claims) (*services.LogoutResult, error)
	Health(ctx context.Context) map[string]interface{}
}

// ConnectionLifecycle is the registry surface the websocket endpoint
// drives. Implemented by registry.Registry.
type ConnectionLifecycle interface {
	Register(ctx context.Context, conn *domain.Connection) error
	Unregister(ctx context.Context, connectionID string) (bool, error)
	Touch(ctx context.Context, connectionID string) (bool, error)
}

// SessionAPI holds the HTTP surface dependencies.
type SessionAPI struct {
	coordinator Coordinator
	lifecycle   ConnectionLifecycle
	hub         *ws.Hub
	auth        *middleware.Authenticator
}

// NewSessionAPI initializes the session API.
func NewSessionAPI(coordinator Coordinator, lifecycle ConnectionLifecycle, hub *ws.Hub, auth *middleware.Authenticator) *SessionAPI {
	return &SessionAPI{
		coordinator: coordinator,
		lifecycle:   lifecycle,
		hub:         hub,
		auth:        auth,
	}
}

// RegisterRoutes registers the session API routes. Health stays outside
// the authenticated group so probes need no token.
func (sa *SessionAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/session/api/health", sa.HealthHandler)

	g := e.Group("/session/api", sa.auth.Middleware())
	g.POST("/studies/:study_id/open", sa.OpenStudyHandler)
	g.POST("/studies/:study_id/close", sa.CloseStudyHandler)
	g.GET("/state", sa.StateHandler)
	g.POST("/connections/intent/:app_type", sa.IntentHandler)
	g.GET("/connections/status/:app_type", sa.ConnectionStatusHandler)
	g.GET("/connections", sa.ConnectionsHandler)
	g.POST("/logout", sa.LogoutHandler)
	g.GET("/ws/:app_type", sa.WebSocketHandler)
}

type openStudyBody struct {
	Source           string   `json:"source"`
	Target           []string `json:"target"`
	PatientID        string   `json:"patient_id"`
	PatientName      string   `json:"patient_name"`
	PatientDOB       string   `json:"patient_dob"`
	AccessionNumber  string   `json:"accession_number"`
	StudyDescription string   `json:"study_description"`
}

type closeStudyBody struct {
	Source string   `json:"source"`
	Target []string `json:"target"`
	Reason string   `json:"reason"`
}

// OpenStudyHandler records a study being opened and fans it out.
func (sa *SessionAPI) OpenStudyHandler(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorBody("missing credentials"))
	}

	var body openStudyBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	result, err := sa.coordinator.OpenStudy(c.Request().Context(), claims, services.OpenStudyRequest{
		StudyID: c.Param("study_id"),
		Source:  body.Source,
		Target:  toAppTypes(body.Target),
		Payload: domain.OpenStudyPayload{
			PatientID:        body.PatientID,
			PatientName:      body.PatientName,
			PatientDOB:       body.PatientDOB,
			AccessionNumber:  body.AccessionNumber,
			StudyDescription: body.StudyDescription,
		},
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// CloseStudyHandler records a study being closed and fans it out.
func (sa *SessionAPI) CloseStudyHandler(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorBody("missing credentials"))
	}

	var body closeStudyBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	result, err := sa.coordinator.CloseStudy(c.Request().Context(), claims, services.CloseStudyRequest{
		StudyID: c.Param("study_id"),
		Source:  body.Source,
		Target:  toAppTypes(body.Target),
		Payload: domain.CloseStudyPayload{Reason: body.Reason},
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// StateHandler returns the session with its ordered events for display.
func (sa *SessionAPI) StateHandler(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorBody("missing credentials"))
	}

	state, err := sa.coordinator.GetSessionState(c.Request().Context(), claims)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

type intentBody struct {
	ClientInfo map[string]string `json:"client_info"`
}

// IntentHandler acknowledges an upcoming websocket connection attempt.
func (sa *SessionAPI) IntentHandler(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorBody("missing credentials"))
	}

	appType, err := domain.ParseAppType(c.Param("app_type"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}

	var body intentBody
	if err := c.Bind(&body); err != nil && c.Request().ContentLength > 0 {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	record, err := sa.coordinator.RegisterIntent(claims, appType, body.ClientInfo)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

// ConnectionStatusHandler reports whether the user has a live connection
// of the given application type.
func (sa *SessionAPI) ConnectionStatusHandler(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorBody("missing credentials"))
	}

	appType, err := domain.ParseAppType(c.Param("app_type"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}

	status, err := sa.coordinator.ConnectionStatus(c.Request().Context(), claims, appType)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// ConnectionsHandler lists the user's live connections.
func (sa *SessionAPI) ConnectionsHandler(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorBody("missing credentials"))
	}

	conns, err := sa.coordinator.ActiveConnections(c.Request().Context(), claims)
	if err != nil {
		return writeError(c, err)
	}
	if conns == nil {
		conns = []*domain.Connection{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"connections": conns,
		"count":       len(conns),
	})
}

// LogoutHandler tears down the user's realtime connections.
func (sa *SessionAPI) LogoutHandler(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorBody("missing credentials"))
	}

	result, err := sa.coordinator.Logout(c.Request().Context(), claims)
	if err != nil {
		return writeError(c, err)
	}

	// Tell this instance's live clients to close; other instances notice
	// their registry entries are gone.
	for _, appType := range domain.AppTypes {
		sa.hub.Send(claims.Subject, appType, ws.Message{
			Type: "disconnected",
			Data: map[string]string{"reason": "user_logged_out"},
		})
	}
	return c.JSON(http.StatusOK, result)
}

// HealthHandler reports per-subsystem health. A degraded report still
// answers 200; orchestration reads the status field.
func (sa *SessionAPI) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, sa.coordinator.Health(c.Request().Context()))
}

func toAppTypes(raw []string) []domain.AppType {
	targets := make([]domain.AppType, 0, len(raw))
	for _, s := range raw {
		targets = append(targets, domain.AppType(s))
	}
	return targets
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// writeError maps typed service errors onto HTTP statuses.
func writeError(c echo.Context, err error) error {
	var (
		authErr    *rserrors.AuthenticationError
		invalidErr *rserrors.InvalidEventError
		storageErr *rserrors.StorageError
		streamErr  *rserrors.StreamUnavailableError
	)
	switch {
	case errors.As(err, &authErr):
		return c.JSON(http.StatusUnauthorized, errorBody(authErr.Error()))
	case errors.As(err, &invalidErr):
		return c.JSON(http.StatusBadRequest, errorBody(invalidErr.Error()))
	case errors.As(err, &storageErr), errors.As(err, &streamErr):
		log.Error().Err(err).Str("path", c.Path()).Msg("Backend unavailable")
		return c.JSON(http.StatusServiceUnavailable, errorBody("backend unavailable"))
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("Unhandled error")
		return c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
}
