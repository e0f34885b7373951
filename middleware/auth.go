package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/radsync/domain"
	rserrors "go.pilab.hu/radsync/errors"
)

// claimsContextKey is the echo context key the verified claim set is
// stored under.
const claimsContextKey = "radsync_claims"

// bearerTokenClaims is the raw JWT claim shape issued by the identity
// provider. Only the fields the coordinator needs are mapped.
type bearerTokenClaims struct {
	jwt.RegisteredClaims
	SessionState      string   `json:"session_state"`
	PreferredUsername string   `json:"preferred_username"`
	Email             string   `json:"email"`
	Roles             []string `json:"roles"`
}

// Authenticator verifies bearer tokens and projects them into the typed
// claim set downstream handlers consume. With an empty signing key the
// signature is not checked; that mode is for deployments where the
// ingress already verified the token.
type Authenticator struct {
	signingKey []byte
}

// NewAuthenticator creates an Authenticator with the shared HMAC key. An
// empty key switches to extract-only mode.
func NewAuthenticator(signingKey string) *Authenticator {
	return &Authenticator{signingKey: []byte(signingKey)}
}

// Middleware returns the echo middleware enforcing bearer authentication.
// Requests without a valid token never reach the handler.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := a.authenticate(c.Request().Header.Get("Authorization"))
			if err != nil {
				log.Debug().Err(err).
					Str("path", c.Path()).
					Msg("Request authentication failed")
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			c.Set(claimsContextKey, claims)
			return next(c)
		}
	}
}

func (a *Authenticator) authenticate(authHeader string) (domain.Claims, error) {
	if authHeader == "" {
		return domain.Claims{}, rserrors.NewAuthentication("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return domain.Claims{}, rserrors.NewAuthentication("authorization header is not a bearer token")
	}

	var raw bearerTokenClaims
	if len(a.signingKey) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(parts[1], &raw); err != nil {
			return domain.Claims{}, rserrors.NewAuthentication("malformed token: " + err.Error())
		}
	} else {
		token, err := jwt.ParseWithClaims(parts[1], &raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, rserrors.NewAuthentication("unexpected signing method " + t.Method.Alg())
			}
			return a.signingKey, nil
		})
		if err != nil {
			return domain.Claims{}, rserrors.NewAuthentication("invalid token: " + err.Error())
		}
		if !token.Valid {
			return domain.Claims{}, rserrors.NewAuthentication("token is not valid")
		}
	}

	claims := domain.Claims{
		Subject:           raw.Subject,
		SessionState:      raw.SessionState,
		PreferredUsername: raw.PreferredUsername,
		Email:             raw.Email,
		Roles:             raw.Roles,
	}
	if err := claims.Validate(); err != nil {
		return domain.Claims{}, err
	}
	return claims, nil
}

// ClaimsFrom retrieves the verified claim set stored by Middleware. The
// boolean is false on routes that skipped authentication.
func ClaimsFrom(c echo.Context) (domain.Claims, bool) {
	claims, ok := c.Get(claimsContextKey).(domain.Claims)
	return claims, ok
}
