package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"leadflow/backend/internal/otp/domain"
)

const otpCollection = "otp_records"

type recordDocument struct {
	ID             string     `bson:"_id"`
	UserID         string     `bson:"user_id"`
	Purpose        string     `bson:"purpose"`
	Channel        string     `bson:"channel"`
	CodeHash       string     `bson:"code_hash"`
	ExpiresAt      time.Time  `bson:"expires_at"`
	Used           bool       `bson:"used"`
	UsedAt         *time.Time `bson:"used_at,omitempty"`
	ResetTokenHash string     `bson:"reset_token_hash,omitempty"`
	ResetExpiresAt *time.Time `bson:"reset_expires_at,omitempty"`
	PurgeAt        time.Time  `bson:"purge_at"`
	CreatedAt      time.Time  `bson:"created_at"`
}

// MongoRepository stores OTP records in a document collection. Expired records are
// removed by the server through a TTL index on purge_at.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository ensures the collection indexes exist and returns the repository.
func NewMongoRepository(ctx context.Context, db *mongo.Database) (*MongoRepository, error) {
	coll := db.Collection(otpCollection)
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "purpose", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "reset_token_hash", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "purge_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("otp: create indexes: %w", err)
	}
	return &MongoRepository{coll: coll}, nil
}

func (r *MongoRepository) Create(ctx context.Context, rec *domain.Record) error {
	_, err := r.coll.InsertOne(ctx, toDocument(rec))
	return err
}

func (r *MongoRepository) Latest(ctx context.Context, userID string, purpose domain.Purpose) (*domain.Record, error) {
	filter := bson.M{"user_id": userID, "purpose": string(purpose), "code_hash": bson.M{"$ne": ""}}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	return r.findOne(ctx, filter, opts)
}

// Claim flips used with a filter on used=false; the update matches nothing if another caller won.
func (r *MongoRepository) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "used": false},
		bson.M{"$set": bson.M{"used": true, "used_at": at}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *MongoRepository) AttachResetToken(ctx context.Context, id, tokenHash string, expiresAt, purgeAt time.Time) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "used": true},
		bson.M{
			"$set": bson.M{"reset_token_hash": tokenHash, "reset_expires_at": expiresAt},
			"$max": bson.M{"purge_at": purgeAt},
		},
	)
	return err
}

func (r *MongoRepository) GetByResetToken(ctx context.Context, userID, tokenHash string) (*domain.Record, error) {
	filter := bson.M{
		"user_id":          userID,
		"purpose":          string(domain.PurposeForgotPassword),
		"reset_token_hash": tokenHash,
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return r.findOne(ctx, filter, opts)
}

func (r *MongoRepository) ExpireResetToken(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "reset_expires_at": bson.M{"$gt": at}},
		bson.M{"$set": bson.M{"reset_expires_at": at}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// DeleteExpired is a fallback for the TTL monitor, which runs roughly once a minute.
func (r *MongoRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"purge_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptionsBuilder) (*domain.Record, error) {
	var doc recordDocument
	if err := r.coll.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return fromDocument(&doc), nil
}

func toDocument(rec *domain.Record) *recordDocument {
	return &recordDocument{
		ID:             rec.ID,
		UserID:         rec.UserID,
		Purpose:        string(rec.Purpose),
		Channel:        string(rec.Channel),
		CodeHash:       rec.CodeHash,
		ExpiresAt:      rec.ExpiresAt,
		Used:           rec.Used,
		UsedAt:         rec.UsedAt,
		ResetTokenHash: rec.ResetTokenHash,
		ResetExpiresAt: rec.ResetExpiresAt,
		PurgeAt:        rec.PurgeAt,
		CreatedAt:      rec.CreatedAt,
	}
}

func fromDocument(doc *recordDocument) *domain.Record {
	return &domain.Record{
		ID:             doc.ID,
		UserID:         doc.UserID,
		Purpose:        domain.Purpose(doc.Purpose),
		Channel:        domain.Channel(doc.Channel),
		CodeHash:       doc.CodeHash,
		ExpiresAt:      doc.ExpiresAt,
		Used:           doc.Used,
		UsedAt:         doc.UsedAt,
		ResetTokenHash: doc.ResetTokenHash,
		ResetExpiresAt: doc.ResetExpiresAt,
		PurgeAt:        doc.PurgeAt,
		CreatedAt:      doc.CreatedAt,
	}
}
