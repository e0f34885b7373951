package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/radsync/domain"
	"go.pilab.hu/radsync/redisstream"
	"go.pilab.hu/radsync/ws"
)

type fakeDedup struct {
	seen map[string]bool
}

func (f *fakeDedup) Seen(eventID string) bool {
	if f.seen[eventID] {
		return true
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	f.seen[eventID] = true
	return false
}

type recordingTransport struct {
	sent      []ws.Message
	broadcast []ws.Message
	// admins is the number of local admin clients the fake pretends to have.
	admins int
}

func (r *recordingTransport) Send(userID string, appType domain.AppType, msg ws.Message) bool {
	r.sent = append(r.sent, msg)
	return true
}

func (r *recordingTransport) Broadcast(appType domain.AppType, msg ws.Message) int {
	r.broadcast = append(r.broadcast, msg)
	return r.admins
}

func TestDispatcher_DeliversToEveryTarget(t *testing.T) {
	transport := &recordingTransport{}
	d := NewDispatcher(&fakeDedup{}, transport)

	err := d.Handle(context.Background(), redisstream.Message{
		ID:        "1700000000-0",
		Event:     domain.EventOpenStudy,
		EventID:   "e1",
		SessionID: "sess-1",
		UserID:    "user-1",
		Source:    "viewer",
		Target:    []domain.AppType{domain.AppDictation, domain.AppWorklist},
		Data:      []byte(`{"patient_id":"PAT-1"}`),
	})

	require.NoError(t, err)
	require.Len(t, transport.sent, 2)
	assert.Equal(t, string(domain.EventOpenStudy), transport.sent[0].Type)
}

func TestDispatcher_BroadcastsToAdminConsoles(t *testing.T) {
	transport := &recordingTransport{admins: 2}
	d := NewDispatcher(&fakeDedup{}, transport)

	err := d.Handle(context.Background(), redisstream.Message{
		ID:        "1700000000-0",
		Event:     domain.EventOpenStudy,
		EventID:   "e1",
		SessionID: "sess-1",
		UserID:    "user-1",
		Source:    "viewer",
		Target:    []domain.AppType{domain.AppDictation, domain.AppAdmin},
		Data:      []byte(`{"patient_id":"PAT-1"}`),
	})

	require.NoError(t, err)
	// The dictation target stays scoped to the acting user; the admin
	// target reaches every admin client.
	require.Len(t, transport.sent, 1)
	require.Len(t, transport.broadcast, 1)
	assert.Equal(t, string(domain.EventOpenStudy), transport.broadcast[0].Type)
}

func TestDispatcher_SkipsDuplicateDeliveries(t *testing.T) {
	transport := &recordingTransport{}
	d := NewDispatcher(&fakeDedup{}, transport)

	msg := redisstream.Message{
		ID:      "1700000000-0",
		Event:   domain.EventCloseStudy,
		EventID: "e1",
		UserID:  "user-1",
		Target:  []domain.AppType{domain.AppDictation},
	}

	require.NoError(t, d.Handle(context.Background(), msg))
	require.NoError(t, d.Handle(context.Background(), msg))

	assert.Len(t, transport.sent, 1)
}

func TestDispatcher_NoTargetsStillAcks(t *testing.T) {
	transport := &recordingTransport{}
	d := NewDispatcher(&fakeDedup{}, transport)

	err := d.Handle(context.Background(), redisstream.Message{
		ID:      "1700000000-1",
		Event:   domain.EventOpenStudy,
		EventID: "e2",
		UserID:  "user-1",
	})

	require.NoError(t, err)
	assert.Empty(t, transport.sent)
}
