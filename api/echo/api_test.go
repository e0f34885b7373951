package echo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/radsync/domain"
	rserrors "go.pilab.hu/radsync/errors"
	"go.pilab.hu/radsync/middleware"
	"go.pilab.hu/radsync/services"
	"go.pilab.hu/radsync/ws"
)

const testSigningKey = "test-signing-key"

// MockCoordinator is a mock implementation of Coordinator.
type MockCoordinator struct {
	mock.Mock
}

func (m *MockCoordinator) OpenStudy(ctx context.Context, claims domain.Claims, req services.OpenStudyRequest) (*services.StudyResult, error) {
	args := m.Called(ctx, claims, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StudyResult), args.Error(1)
}

func (m *MockCoordinator) CloseStudy(ctx context.Context, claims domain.Claims, req services.CloseStudyRequest) (*services.StudyResult, error) {
	args := m.Called(ctx, claims, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StudyResult), args.Error(1)
}

func (m *MockCoordinator) GetSessionState(ctx context.Context, claims domain.Claims) (*domain.SessionState, error) {
	args := m.Called(ctx, claims)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionState), args.Error(1)
}

func (m *MockCoordinator) RegisterIntent(claims domain.Claims, appType domain.AppType, clientInfo map[string]string) (domain.IntentRecord, error) {
	args := m.Called(claims, appType, clientInfo)
	return args.Get(0).(domain.IntentRecord), args.Error(1)
}

func (m *MockCoordinator) ConnectionStatus(ctx context.Context, claims domain.Claims, appType domain.AppType) (*domain.ConnectionStatus, error) {
	args := m.Called(ctx, claims, appType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConnectionStatus), args.Error(1)
}

func (m *MockCoordinator) ActiveConnections(ctx context.Context, claims domain.Claims) ([]*domain.Connection, error) {
	args := m.Called(ctx, claims)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Connection), args.Error(1)
}

func (m *MockCoordinator) Logout(ctx context.Context, claims domain.Claims) (*services.LogoutResult, error) {
	args := m.Called(ctx, claims)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.LogoutResult), args.Error(1)
}

func (m *MockCoordinator) Health(ctx context.Context) map[string]interface{} {
	args := m.Called(ctx)
	return args.Get(0).(map[string]interface{})
}

// MockLifecycle is a mock implementation of ConnectionLifecycle.
type MockLifecycle struct {
	mock.Mock
}

func (m *MockLifecycle) Register(ctx context.Context, conn *domain.Connection) error {
	args := m.Called(ctx, conn)
	return args.Error(0)
}

func (m *MockLifecycle) Unregister(ctx context.Context, connectionID string) (bool, error) {
	args := m.Called(ctx, connectionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockLifecycle) Touch(ctx context.Context, connectionID string) (bool, error) {
	args := m.Called(ctx, connectionID)
	return args.Bool(0), args.Error(1)
}

func newTestServer(t *testing.T, coordinator *MockCoordinator) *echo.Echo {
	t.Helper()
	e := echo.New()
	api := NewSessionAPI(coordinator, new(MockLifecycle), ws.NewHub(), middleware.NewAuthenticator(testSigningKey))
	api.RegisterRoutes(e)
	return e
}

func bearerToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":           "user-1",
		"session_state": "sess-1",
		"exp":           time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return "Bearer " + signed
}

func doRequest(t *testing.T, e *echo.Echo, method, path, body, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestOpenStudyHandler_Success(t *testing.T) {
	coordinator := new(MockCoordinator)
	e := newTestServer(t, coordinator)

	coordinator.On("OpenStudy", mock.Anything,
		mock.MatchedBy(func(c domain.Claims) bool { return c.Subject == "user-1" && c.SessionState == "sess-1" }),
		mock.MatchedBy(func(req services.OpenStudyRequest) bool {
			return req.StudyID == "study-42" &&
				req.Source == "viewer" &&
				len(req.Target) == 1 && req.Target[0] == domain.AppDictation &&
				req.Payload.PatientID == "PAT-1"
		}),
	).Return(&services.StudyResult{
		Event:           &domain.SessionEvent{EventID: "e1", Type: domain.EventOpenStudy},
		StreamMessageID: "1700000000-0",
	}, nil)

	body := `{
		"source": "viewer",
		"target": ["dictation"],
		"patient_id": "PAT-1",
		"accession_number": "ACC-1"
	}`
	rec := doRequest(t, e, http.MethodPost, "/session/api/studies/study-42/open", body, bearerToken(t))

	require.Equal(t, http.StatusOK, rec.Code)
	var result services.StudyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "1700000000-0", result.StreamMessageID)
	coordinator.AssertExpectations(t)
}

func TestOpenStudyHandler_ValidationErrorIs400(t *testing.T) {
	coordinator := new(MockCoordinator)
	e := newTestServer(t, coordinator)

	coordinator.On("OpenStudy", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, rserrors.NewInvalidEvent("patient_id", "patient id is required"))

	body := `{"source": "viewer", "target": ["dictation"]}`
	rec := doRequest(t, e, http.MethodPost, "/session/api/studies/study-42/open", body, bearerToken(t))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpenStudyHandler_StorageErrorIs503(t *testing.T) {
	coordinator := new(MockCoordinator)
	e := newTestServer(t, coordinator)

	coordinator.On("OpenStudy", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, rserrors.NewStorage("insert event", assert.AnError))

	body := `{"source": "viewer", "target": ["dictation"], "patient_id": "p", "accession_number": "a"}`
	rec := doRequest(t, e, http.MethodPost, "/session/api/studies/study-42/open", body, bearerToken(t))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOpenStudyHandler_NoTokenIs401(t *testing.T) {
	coordinator := new(MockCoordinator)
	e := newTestServer(t, coordinator)

	rec := doRequest(t, e, http.MethodPost, "/session/api/studies/study-42/open", `{}`, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	coordinator.AssertNotCalled(t, "OpenStudy", mock.Anything, mock.Anything, mock.Anything)
}

func TestCloseStudyHandler_Success(t *testing.T) {
	coordinator := new(MockCoordinator)
	e := newTestServer(t, coordinator)

	coordinator.On("CloseStudy", mock.Anything, mock.Anything,
		mock.MatchedBy(func(req services.CloseStudyRequest) bool {
			return req.StudyID == "study-42" && req.Payload.Reason == "reading complete"
		}),
	).Return(&services.StudyResult{
		Event: &domain.SessionEvent{EventID: "e2", Type: domain.EventCloseStudy},
	}, nil)

	body := `{"source": "viewer", "target": ["dictation"], "reason": "reading complete"}`
	rec := doRequest(t, e, http.MethodPost, "/session/api/studies/study-42/close", body, bearerToken(t))

	require.Equal(t, http.StatusOK, rec.Code)
	coordinator.AssertExpectations(t)
}

func TestStateHandler_ReturnsSessionState(t *testing.T) {
	coordinator := new(MockCoordinator)
	e := newTestServer(t, coordinator)

	coordinator.On("GetSessionState", mock.Anything, mock.Anything).
		Return(&domain.SessionState{
			Session: domain.SessionView{
				SessionID: "sess-1",
				UserID:    "user-1",
				Events:    []*domain.SessionEvent{{EventID: "e1"}},
			},
		}, nil)

	rec := doRequest(t, e, http.MethodGet, "/session/api/state", "", bearerToken(t))

	require.Equal(t, http.StatusOK, rec.Code)
	var state domain.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "sess-1", state.Session.SessionID)
	require.Len(t, state.Session.Events, 1)
}

func TestIntentHandler_UnknownAppTypeIs400(t *testing.T) {
	coordinator := new(MockCoordinator)
	e := newTestServer(t, coordinator)

	rec := doRequest(t, e, http.MethodPost, "/session/api/connections/intent/fax_machine", "", bearerToken(t))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	coordinator.AssertNotCalled(t, "RegisterIntent", mock.Anything, mock.Anything, mock.Anything)
}

func TestIntentHandler_Success(t *testing.T) {
	coordinator := new(MockCoordinator)
	e := newTestServer(t, coordinator)

	coordinator.On("RegisterIntent", mock.Anything, domain.AppDictation, mock.Anything).
		Return(domain.IntentRecord{
			UserID:  "user-1",
			AppType: domain.AppDictation,
			Status:  domain.IntentStatusAwaiting,
		}, nil)

	rec := doRequest(t, e, http.MethodPost, "/session/api/connections/intent/dictation", "", bearerToken(t))

	require.Equal(t, http.StatusOK, rec.Code)
	var record domain.IntentRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, domain.IntentStatusAwaiting, record.Status)
}

func TestConnectionStatusHandler_Success(t *testing.T) {
	coordinator := new(MockCoordinator)
	e := newTestServer(t, coordinator)

	coordinator.On("ConnectionStatus", mock.Anything, mock.Anything, domain.AppViewer).
		Return(&domain.ConnectionStatus{Connected: true, ConnectionID: "conn-1"}, nil)

	rec := doRequest(t, e, http.MethodGet, "/session/api/connections/status/viewer", "", bearerToken(t))

	require.Equal(t, http.StatusOK, rec.Code)
	var status domain.ConnectionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Connected)
}

func TestConnectionsHandler_EmptyListNotNull(t *testing.T) {
	coordinator := new(MockCoordinator)
	e := newTestServer(t, coordinator)

	coordinator.On("ActiveConnections", mock.Anything, mock.Anything).
		Return([]*domain.Connection{}, nil)

	rec := doRequest(t, e, http.MethodGet, "/session/api/connections", "", bearerToken(t))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"connections":[]`)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestLogoutHandler_Success(t *testing.T) {
	coordinator := new(MockCoordinator)
	e := newTestServer(t, coordinator)

	coordinator.On("Logout", mock.Anything, mock.Anything).
		Return(&services.LogoutResult{ClearedSessions: 1, DisconnectedConnections: 2}, nil)

	rec := doRequest(t, e, http.MethodPost, "/session/api/logout", "", bearerToken(t))

	require.Equal(t, http.StatusOK, rec.Code)
	var result services.LogoutResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.ClearedSessions)
	assert.Equal(t, 2, result.DisconnectedConnections)
}

func TestHealthHandler_NoAuthRequired(t *testing.T) {
	coordinator := new(MockCoordinator)
	e := newTestServer(t, coordinator)

	coordinator.On("Health", mock.Anything).
		Return(map[string]interface{}{"status": "healthy"})

	rec := doRequest(t, e, http.MethodGet, "/session/api/health", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}
