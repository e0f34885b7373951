package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "test-signing-key"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return signed
}

func runMiddleware(t *testing.T, authHeader string) (*httptest.ResponseRecorder, echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/session/api/state", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := NewAuthenticator(testSigningKey).Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return rec, c, handler(c)
}

func TestMiddleware_ValidTokenPopulatesClaims(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":                "user-1",
		"session_state":      "sess-1",
		"preferred_username": "drsmith",
		"email":              "drsmith@example.com",
		"roles":              []string{"radiologist"},
		"exp":                time.Now().Add(time.Hour).Unix(),
	})

	_, c, err := runMiddleware(t, "Bearer "+token)

	require.NoError(t, err)
	claims, ok := ClaimsFrom(c)
	require.True(t, ok)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "sess-1", claims.SessionState)
	assert.Equal(t, "drsmith", claims.PreferredUsername)
	assert.Equal(t, []string{"radiologist"}, claims.Roles)
}

func TestMiddleware_RejectsMissingHeader(t *testing.T) {
	_, _, err := runMiddleware(t, "")

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestMiddleware_RejectsNonBearerScheme(t *testing.T) {
	_, _, err := runMiddleware(t, "Basic dXNlcjpwYXNz")

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestMiddleware_RejectsExpiredToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, _, err := runMiddleware(t, "Bearer "+token)

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestMiddleware_RejectsWrongKey(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("other-key"))
	require.NoError(t, err)

	_, _, mwErr := runMiddleware(t, "Bearer "+signed)

	var httpErr *echo.HTTPError
	require.ErrorAs(t, mwErr, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestMiddleware_RejectsTokenWithoutSubject(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"session_state": "sess-1",
		"exp":           time.Now().Add(time.Hour).Unix(),
	})

	_, _, err := runMiddleware(t, "Bearer "+token)

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}
