package ws

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/radsync/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Inbound/outbound frame types.
const (
	MessageTypePing  = "ping"
	MessageTypePong  = "pong"
	MessageTypeEvent = "session_event"
)

// Client is the middleman between one websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	connectionID string
	userID       string
	appType      domain.AppType

	// onActivity is invoked on every inbound frame so the connection
	// registry's last_activity stays fresh. onClose fires once when the
	// read pump exits, after the hub unregister.
	onActivity func(connectionID string)
	onClose    func(connectionID string)
}

// NewClient wraps an upgraded connection. onActivity and onClose may be nil.
func NewClient(hub *Hub, conn *websocket.Conn, connectionID, userID string, appType domain.AppType, onActivity, onClose func(string)) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan Message, 256),
		connectionID: connectionID,
		userID:       userID,
		appType:      appType,
		onActivity:   onActivity,
		onClose:      onClose,
	}
}

func (c *Client) ConnectionID() string    { return c.connectionID }
func (c *Client) UserID() string          { return c.userID }
func (c *Client) AppType() domain.AppType { return c.appType }

// Start registers the client with the hub and begins its pumps. It returns
// immediately; the pumps run until the connection closes.
func (c *Client) Start() {
	c.hub.Register <- c
	go c.writePump()
	go c.readPump()
}

// readPump pumps inbound frames until the connection errors or closes,
// then unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.release(c)
		_ = c.conn.Close()
		if c.onClose != nil {
			c.onClose(c.connectionID)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Error().Err(err).Msg("Failed to set websocket read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).
					Str("connection_id", c.connectionID).
					Msg("Unexpected websocket close")
			}
			return
		}

		if c.onActivity != nil {
			c.onActivity(c.connectionID)
		}

		if msg.Type == MessageTypePing {
			select {
			case c.send <- Message{Type: MessageTypePong}:
			default:
			}
		}
	}
}

// writePump pumps hub messages to the connection and keeps it alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Error().Err(err).
					Str("connection_id", c.connectionID).
					Msg("Failed to write websocket message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
