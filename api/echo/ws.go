package echo

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/radsync/domain"
	"go.pilab.hu/radsync/middleware"
	"go.pilab.hu/radsync/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients carry the bearer token, not a cookie; origin policy
	// is enforced at the ingress.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketHandler upgrades the request and registers the connection. The
// connection is keyed (user, app type); registry bookkeeping is written
// before the pumps start so status queries see it immediately.
func (sa *SessionAPI) WebSocketHandler(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorBody("missing credentials"))
	}

	appType, err := domain.ParseAppType(c.Param("app_type"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}

	connectionID := uuid.NewString()
	now := time.Now().UTC()
	conn := &domain.Connection{
		ConnectionID: connectionID,
		UserID:       claims.Subject,
		AppType:      appType,
		ConnectedAt:  now,
		LastActivity: now,
		Metadata: map[string]string{
			"remote_addr": c.Request().RemoteAddr,
			"user_agent":  c.Request().UserAgent(),
		},
	}
	if err := sa.lifecycle.Register(c.Request().Context(), conn); err != nil {
		log.Error().Err(err).
			Str("user_id", claims.Subject).
			Str("app_type", string(appType)).
			Msg("Connection registration failed")
		return c.JSON(http.StatusServiceUnavailable, errorBody("connection registry unavailable"))
	}

	socket, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		if _, uerr := sa.lifecycle.Unregister(c.Request().Context(), connectionID); uerr != nil {
			log.Error().Err(uerr).Str("connection_id", connectionID).Msg("Rollback unregister failed")
		}
		return nil
	}

	log.Info().
		Str("connection_id", connectionID).
		Str("user_id", claims.Subject).
		Str("app_type", string(appType)).
		Msg("WebSocket connection established")

	client := ws.NewClient(sa.hub, socket, connectionID, claims.Subject, appType, sa.touchConnection, sa.closeConnection)
	client.Start()
	return nil
}

// registryOpTimeout bounds registry calls made from socket pumps, which
// have no request context to inherit.
const registryOpTimeout = 5 * time.Second

// touchConnection refreshes the registry activity timestamp on inbound
// traffic. Runs on the read pump; errors only get logged.
func (sa *SessionAPI) touchConnection(connectionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), registryOpTimeout)
	defer cancel()
	if _, err := sa.lifecycle.Touch(ctx, connectionID); err != nil {
		log.Warn().Err(err).Str("connection_id", connectionID).Msg("Activity touch failed")
	}
}

// closeConnection drops the registry entry once the socket is gone.
func (sa *SessionAPI) closeConnection(connectionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), registryOpTimeout)
	defer cancel()
	if _, err := sa.lifecycle.Unregister(ctx, connectionID); err != nil {
		log.Warn().Err(err).Str("connection_id", connectionID).Msg("Connection unregister failed")
	}
}
