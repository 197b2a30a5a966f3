package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/grigta/hotspot/pkg/crypto"
	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/services/payment-service/internal/models"
)

const sessionsCollection = "payment_sessions"

// SessionRepository is the audit trail of payment sessions. Payer phone
// numbers are stored encrypted when an encryptor is configured, alongside a
// hash for lookups.
type SessionRepository struct {
	collection *mongo.Collection
	encryptor  *crypto.Encryptor
	logger     *logrus.Logger
}

func NewSessionRepository(db *mongo.Database, encryptor *crypto.Encryptor, logger *logrus.Logger) *SessionRepository {
	return &SessionRepository{
		collection: db.Collection(sessionsCollection),
		encryptor:  encryptor,
		logger:     logger,
	}
}

// EnsureIndexes makes correlation tokens and session ids unique.
func (r *SessionRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		database.UniqueIndex("session_id"),
		database.UniqueIndex("correlation_token"),
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "client_identity_hash", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}
	return nil
}

func (r *SessionRepository) Create(ctx context.Context, session *models.PaymentSession) error {
	doc, err := r.seal(session)
	if err != nil {
		return err
	}

	result, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", database.TranslateError(err))
	}

	if id, ok := result.InsertedID.(primitive.ObjectID); ok {
		session.ID = id
	}
	return nil
}

func (r *SessionRepository) Update(ctx context.Context, session *models.PaymentSession) error {
	doc, err := r.seal(session)
	if err != nil {
		return err
	}
	doc.ID = primitive.NilObjectID

	result, err := r.collection.ReplaceOne(ctx, bson.M{"session_id": session.SessionID}, doc)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", database.TranslateError(err))
	}
	if result.MatchedCount == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) FindBySessionID(ctx context.Context, sessionID string) (*models.PaymentSession, error) {
	return r.findOne(ctx, bson.M{"session_id": sessionID})
}

func (r *SessionRepository) FindByCorrelationToken(ctx context.Context, token string) (*models.PaymentSession, error) {
	return r.findOne(ctx, bson.M{"correlation_token": token})
}

func (r *SessionRepository) FindCreatedSince(ctx context.Context, since time.Time) ([]*models.PaymentSession, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return r.find(ctx, bson.M{"created_at": bson.M{"$gte": since}}, opts)
}

func (r *SessionRepository) findOne(ctx context.Context, filter bson.M) (*models.PaymentSession, error) {
	var session models.PaymentSession
	if err := r.collection.FindOne(ctx, filter).Decode(&session); err != nil {
		return nil, database.TranslateError(err)
	}
	if err := r.open(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *SessionRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.PaymentSession, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []*models.PaymentSession
	for cursor.Next(ctx) {
		var session models.PaymentSession
		if err := cursor.Decode(&session); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		if err := r.open(&session); err != nil {
			r.logger.WithError(err).WithField("session_id", session.SessionID).Warn("Failed to decrypt payer identity")
			session.ClientIdentity = ""
		}
		sessions = append(sessions, &session)
	}

	return sessions, cursor.Err()
}

func (r *SessionRepository) seal(session *models.PaymentSession) (*models.PaymentSession, error) {
	doc := *session
	doc.ClientIdentityHash = crypto.SHA256Hash(session.ClientIdentity)

	if r.encryptor != nil && session.ClientIdentity != "" {
		encrypted, err := r.encryptor.Encrypt(session.ClientIdentity)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt payer identity: %w", err)
		}
		doc.ClientIdentity = encrypted
		doc.Encrypted = true
	}
	return &doc, nil
}

func (r *SessionRepository) open(session *models.PaymentSession) error {
	if !session.Encrypted {
		return nil
	}
	if r.encryptor == nil {
		return fmt.Errorf("session %s is encrypted but no key is configured", session.SessionID)
	}

	plain, err := r.encryptor.Decrypt(session.ClientIdentity)
	if err != nil {
		return fmt.Errorf("failed to decrypt payer identity: %w", err)
	}
	session.ClientIdentity = plain
	session.Encrypted = false
	return nil
}
