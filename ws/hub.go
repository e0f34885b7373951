// Package ws is the realtime transport: a websocket hub tracking the live
// clients of this server instance, indexed by (user, application type) so
// the notification dispatcher can push an event to exactly the applications
// it targets. Cross-instance delivery is the stream consumer's job; the hub
// only ever speaks to sockets it owns.
package ws

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/radsync/domain"
)

// Message is one frame pushed to a client.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Hub maintains the set of active clients and delivers messages to them.
// Lifecycle events flow through the Register/Unregister channels; lookups
// go through the mutex-guarded index.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client

	// done is closed when Run exits so pump teardown never blocks on a
	// lifecycle channel nobody is draining anymore.
	done chan struct{}

	mu      sync.RWMutex
	clients map[*Client]struct{}
	// byUserApp indexes clients for targeted delivery.
	byUserApp map[userAppKey][]*Client
}

type userAppKey struct {
	userID  string
	appType domain.AppType
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		byUserApp:  make(map[userAppKey][]*Client),
	}
}

// Run processes client lifecycle events until ctx is cancelled. On
// shutdown every remaining client is closed and done is closed, so late
// pump teardowns fall through release instead of blocking. A stopped hub
// is spent; a supervisor restarts with a fresh one.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			log.Info().Msg("Websocket hub stopped")
			return ctx.Err()

		case client := <-h.Register:
			h.add(client)
			log.Info().
				Str("connection_id", client.ConnectionID()).
				Str("user_id", client.UserID()).
				Str("app_type", string(client.AppType())).
				Int("total_clients", h.count()).
				Msg("Websocket client connected")

		case client := <-h.Unregister:
			if h.remove(client) {
				log.Info().
					Str("connection_id", client.ConnectionID()).
					Int("total_clients", h.count()).
					Msg("Websocket client disconnected")
			}
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
	key := userAppKey{client.UserID(), client.AppType()}
	h.byUserApp[key] = append(h.byUserApp[key], client)
}

func (h *Hub) remove(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	close(client.send)

	key := userAppKey{client.UserID(), client.AppType()}
	peers := h.byUserApp[key]
	for i, peer := range peers {
		if peer == client {
			h.byUserApp[key] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	if len(h.byUserApp[key]) == 0 {
		delete(h.byUserApp, key)
	}
	return true
}

// release hands a client back to the run loop. After Run has exited the
// client is already closed by closeAll, so the handoff is dropped instead
// of blocking the read pump forever.
func (h *Hub) release(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.byUserApp = make(map[userAppKey][]*Client)
}

// Send delivers a message to every local client of the given user and app
// type, reporting whether at least one client received it. A client whose
// send buffer is full is skipped rather than blocking delivery to others.
// The sends happen under the read lock; remove and closeAll close send
// channels under the write lock, so a channel can never close mid-send.
func (h *Hub) Send(userID string, appType domain.AppType, msg Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := false
	for _, client := range h.byUserApp[userAppKey{userID, appType}] {
		select {
		case client.send <- msg:
			delivered = true
		default:
			log.Warn().
				Str("connection_id", client.ConnectionID()).
				Msg("Client send buffer full, dropping message")
		}
	}
	return delivered
}

// Broadcast delivers a message to every local client of the given app
// type, returning the number of clients it reached. Sends hold the read
// lock for the same reason Send does.
func (h *Hub) Broadcast(appType domain.AppType, msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for key, peers := range h.byUserApp {
		if key.appType != appType {
			continue
		}
		for _, client := range peers {
			select {
			case client.send <- msg:
				sent++
			default:
			}
		}
	}
	return sent
}
