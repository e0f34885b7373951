package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/radsync/domain"
)

func testClient(hub *Hub, connectionID, userID string, appType domain.AppType) *Client {
	return NewClient(hub, nil, connectionID, userID, appType, nil, nil)
}

func TestSend_TargetsUserAndAppType(t *testing.T) {
	hub := NewHub()
	viewer := testClient(hub, "conn-1", "user-1", domain.AppViewer)
	dictation := testClient(hub, "conn-2", "user-1", domain.AppDictation)
	other := testClient(hub, "conn-3", "user-2", domain.AppDictation)
	hub.add(viewer)
	hub.add(dictation)
	hub.add(other)

	delivered := hub.Send("user-1", domain.AppDictation, Message{Type: "open_study"})

	require.True(t, delivered)
	select {
	case msg := <-dictation.send:
		assert.Equal(t, "open_study", msg.Type)
	default:
		t.Fatal("expected message on dictation client")
	}
	assert.Empty(t, viewer.send)
	assert.Empty(t, other.send)
}

func TestSend_NoMatchingClient(t *testing.T) {
	hub := NewHub()

	delivered := hub.Send("user-1", domain.AppDictation, Message{Type: "open_study"})

	assert.False(t, delivered)
}

func TestSend_FullBufferSkipsClient(t *testing.T) {
	hub := NewHub()
	client := testClient(hub, "conn-1", "user-1", domain.AppDictation)
	client.send = make(chan Message) // unbuffered and never drained
	hub.add(client)

	delivered := hub.Send("user-1", domain.AppDictation, Message{Type: "open_study"})

	assert.False(t, delivered)
}

func TestBroadcast_ReachesEveryClientOfAppType(t *testing.T) {
	hub := NewHub()
	a := testClient(hub, "conn-1", "user-1", domain.AppWorklist)
	b := testClient(hub, "conn-2", "user-2", domain.AppWorklist)
	c := testClient(hub, "conn-3", "user-3", domain.AppViewer)
	hub.add(a)
	hub.add(b)
	hub.add(c)

	sent := hub.Broadcast(domain.AppWorklist, Message{Type: "close_study"})

	assert.Equal(t, 2, sent)
	assert.Len(t, a.send, 1)
	assert.Len(t, b.send, 1)
	assert.Empty(t, c.send)
}

func TestRemove_DropsClientFromIndex(t *testing.T) {
	hub := NewHub()
	client := testClient(hub, "conn-1", "user-1", domain.AppDictation)
	hub.add(client)

	require.True(t, hub.remove(client))
	assert.False(t, hub.remove(client))
	assert.False(t, hub.Send("user-1", domain.AppDictation, Message{Type: "open_study"}))
}

func TestSend_ConcurrentWithDisconnect(t *testing.T) {
	// A disconnect racing a delivery must never reach the client's send
	// channel after it has been closed.
	hub := NewHub()
	for i := 0; i < 1000; i++ {
		client := testClient(hub, "conn-1", "user-1", domain.AppViewer)
		hub.add(client)

		done := make(chan struct{})
		go func() {
			for j := 0; j < 10; j++ {
				hub.Send("user-1", domain.AppViewer, Message{Type: "session_event"})
			}
			close(done)
		}()
		hub.remove(client)
		<-done
	}
}

func TestRelease_AfterHubStoppedDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	client := testClient(hub, "conn-1", "user-1", domain.AppDictation)
	hub.Register <- client
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	released := make(chan struct{})
	go func() {
		hub.release(client)
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("release blocked after hub stopped")
	}
}

func TestRun_ClosesClientsOnShutdown(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	client := testClient(hub, "conn-1", "user-1", domain.AppDictation)
	hub.Register <- client
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("hub did not stop on cancel")
	}

	_, open := <-client.send
	assert.False(t, open)
	assert.Zero(t, hub.count())
}
