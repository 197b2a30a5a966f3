package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/services/access-service/internal/models"
)

const grantsCollection = "access_grants"

type GrantRepository struct {
	collection *mongo.Collection
}

func NewGrantRepository(db *mongo.Database) *GrantRepository {
	return &GrantRepository{collection: db.Collection(grantsCollection)}
}

// EnsureIndexes makes session_id unique so a session can never hold two grants.
func (r *GrantRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		database.UniqueIndex("session_id"),
		{Keys: bson.D{{Key: "mac", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create grant indexes: %w", err)
	}
	return nil
}

func (r *GrantRepository) Create(ctx context.Context, grant *models.Grant) error {
	result, err := r.collection.InsertOne(ctx, grant)
	if err != nil {
		return fmt.Errorf("failed to insert grant: %w", database.TranslateError(err))
	}
	if id, ok := result.InsertedID.(primitive.ObjectID); ok {
		grant.ID = id
	}
	return nil
}

func (r *GrantRepository) Update(ctx context.Context, grant *models.Grant) error {
	update := bson.M{
		"$set": bson.M{
			"status":         grant.Status,
			"controller_ref": grant.ControllerRef,
			"attempts":       grant.Attempts,
			"last_error":     grant.LastError,
			"simulated":      grant.Simulated,
			"updated_at":     grant.UpdatedAt,
			"expires_at":     grant.ExpiresAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"session_id": grant.SessionID}, update)
	if err != nil {
		return fmt.Errorf("failed to update grant: %w", err)
	}
	if result.MatchedCount == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (r *GrantRepository) FindBySessionID(ctx context.Context, sessionID string) (*models.Grant, error) {
	var grant models.Grant
	if err := r.collection.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&grant); err != nil {
		return nil, database.TranslateError(err)
	}
	return &grant, nil
}
