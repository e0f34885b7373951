package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/radsync/domain"
	rserrors "go.pilab.hu/radsync/errors"
)

// SessionRepositoryMongo implements domain.SessionRepository using MongoDB.
// Event appends run in a multi-document transaction so the event insert and
// the session's last_updated touch commit or roll back together.
type SessionRepositoryMongo struct {
	store    *Store
	sessions *mongo.Collection
	events   *mongo.Collection
}

// NewSessionRepositoryMongo creates the repository and ensures indexes.
func NewSessionRepositoryMongo(ctx context.Context, store *Store) (domain.SessionRepository, error) {
	repo := &SessionRepositoryMongo{
		store:    store,
		sessions: store.DB().Collection(SessionsCollection),
		events:   store.DB().Collection(SessionEventsCollection),
	}

	sessionIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "last_updated", Value: -1}},
		},
	}
	eventIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "occurred_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
	}

	if _, err := repo.sessions.Indexes().CreateMany(ctx, sessionIndexes); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for sessions collection (might already exist)")
	}
	if _, err := repo.events.Indexes().CreateMany(ctx, eventIndexes); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for session events collection (might already exist)")
	}

	return repo, nil
}

// UpsertSession creates the session row if absent, otherwise touches
// last_updated. Implemented as a single upsert so two near-simultaneous
// requests for the same new session ID converge on one row instead of one
// of them failing with a duplicate key.
func (r *SessionRepositoryMongo) UpsertSession(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	now := time.Now().UTC()

	filter := bson.M{"_id": sessionID}
	update := bson.M{
		"$set": bson.M{"last_updated": now},
		"$setOnInsert": bson.M{
			"user_id":    userID,
			"created_at": now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var session domain.Session
	if err := r.sessions.FindOneAndUpdate(ctx, filter, update, opts).Decode(&session); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Error upserting session")
		return nil, rserrors.NewStorage("upsert session", err)
	}
	return &session, nil
}

// AppendEvent durably inserts the event and advances the owning session's
// last_updated in one transaction.
func (r *SessionRepositoryMongo) AppendEvent(ctx context.Context, event *domain.SessionEvent) error {
	mongoSession, err := r.store.Client().StartSession()
	if err != nil {
		return rserrors.NewStorage("start transaction", err)
	}
	defer mongoSession.EndSession(ctx)

	_, err = mongoSession.WithTransaction(ctx, func(txCtx mongo.SessionContext) (interface{}, error) {
		if _, err := r.events.InsertOne(txCtx, event); err != nil {
			return nil, err
		}
		result, err := r.sessions.UpdateOne(txCtx,
			bson.M{"_id": event.SessionID},
			bson.M{"$set": bson.M{"last_updated": event.OccurredAt}},
		)
		if err != nil {
			return nil, err
		}
		if result.MatchedCount == 0 {
			return nil, errors.New("owning session not found for event append")
		}
		return nil, nil
	})
	if err != nil {
		log.Error().Err(err).
			Str("event_id", event.EventID).
			Str("session_id", event.SessionID).
			Msg("Error appending session event")
		return rserrors.NewStorage("append event", err)
	}

	log.Debug().
		Str("event_id", event.EventID).
		Str("session_id", event.SessionID).
		Str("event", string(event.Type)).
		Msg("Session event appended")
	return nil
}

// GetSessionWithEvents returns the session and its events ordered by
// occurred_at ascending. A missing session returns (nil, nil, nil).
func (r *SessionRepositoryMongo) GetSessionWithEvents(ctx context.Context, sessionID string) (*domain.Session, []*domain.SessionEvent, error) {
	var session domain.Session
	err := r.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil, nil
		}
		log.Error().Err(err).Str("session_id", sessionID).Msg("Error getting session")
		return nil, nil, rserrors.NewStorage("get session", err)
	}

	events, err := r.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return &session, events, nil
}

// ListEvents returns the session's events ordered by occurred_at ascending.
func (r *SessionRepositoryMongo) ListEvents(ctx context.Context, sessionID string) ([]*domain.SessionEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}})
	cursor, err := r.events.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Error listing session events")
		return nil, rserrors.NewStorage("list events", err)
	}
	defer cursor.Close(ctx)

	var events []*domain.SessionEvent
	if err := cursor.All(ctx, &events); err != nil {
		log.Error().Err(err).Msg("Error decoding session events")
		return nil, rserrors.NewStorage("decode events", err)
	}
	return events, nil
}

// Ping verifies the store is reachable.
func (r *SessionRepositoryMongo) Ping(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return rserrors.NewStorage("ping", err)
	}
	return nil
}

// Ensure interface compliance.
var _ domain.SessionRepository = (*SessionRepositoryMongo)(nil)
