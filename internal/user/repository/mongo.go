package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"leadflow/backend/internal/user/domain"
)

const userCollection = "users"

type userDocument struct {
	ID                    string     `bson:"_id"`
	Email                 string     `bson:"email,omitempty"`
	Name                  string     `bson:"name,omitempty"`
	Phone                 string     `bson:"phone,omitempty"`
	Role                  string     `bson:"role"`
	Verified              bool       `bson:"verified"`
	PasswordHash          string     `bson:"password_hash,omitempty"`
	RefreshTokenHash      string     `bson:"refresh_token_hash,omitempty"`
	RefreshTokenExpiresAt *time.Time `bson:"refresh_token_expires_at,omitempty"`
	CreatedAt             time.Time  `bson:"created_at"`
	UpdatedAt             time.Time  `bson:"updated_at"`
}

// MongoRepository stores users in a document collection.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository ensures a unique sparse index on email and returns the repository.
func NewMongoRepository(ctx context.Context, db *mongo.Database) (*MongoRepository, error) {
	coll := db.Collection(userCollection)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true),
	})
	if err != nil {
		return nil, fmt.Errorf("user: create indexes: %w", err)
	}
	return &MongoRepository{coll: coll}, nil
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.coll.InsertOne(ctx, &userDocument{
		ID:                    u.ID,
		Email:                 u.Email,
		Name:                  u.Name,
		Phone:                 u.Phone,
		Role:                  u.Role,
		Verified:              u.Verified,
		PasswordHash:          u.PasswordHash,
		RefreshTokenHash:      u.RefreshTokenHash,
		RefreshTokenExpiresAt: u.RefreshTokenExpiresAt,
		CreatedAt:             u.CreatedAt,
		UpdatedAt:             u.UpdatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *MongoRepository) SetRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	return r.set(ctx, userID, bson.M{"refresh_token_hash": tokenHash, "refresh_token_expires_at": expiresAt})
}

func (r *MongoRepository) ClearRefreshToken(ctx context.Context, userID string) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$unset": bson.M{"refresh_token_hash": "", "refresh_token_expires_at": ""},
		"$set":   bson.M{"updated_at": time.Now().UTC()},
	})
	return err
}

func (r *MongoRepository) MarkVerified(ctx context.Context, userID string) error {
	return r.setExisting(ctx, userID, bson.M{"verified": true})
}

func (r *MongoRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return r.setExisting(ctx, userID, bson.M{"password_hash": passwordHash})
}

func (r *MongoRepository) set(ctx context.Context, userID string, fields bson.M) error {
	_, err := r.update(ctx, userID, fields)
	return err
}

func (r *MongoRepository) setExisting(ctx context.Context, userID string, fields bson.M) error {
	matched, err := r.update(ctx, userID, fields)
	if err != nil {
		return err
	}
	if matched == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) update(ctx context.Context, userID string, fields bson.M) (int64, error) {
	fields["updated_at"] = time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": fields})
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var doc userDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &domain.User{
		ID:                    doc.ID,
		Email:                 doc.Email,
		Name:                  doc.Name,
		Phone:                 doc.Phone,
		Role:                  doc.Role,
		Verified:              doc.Verified,
		PasswordHash:          doc.PasswordHash,
		RefreshTokenHash:      doc.RefreshTokenHash,
		RefreshTokenExpiresAt: doc.RefreshTokenExpiresAt,
		CreatedAt:             doc.CreatedAt,
		UpdatedAt:             doc.UpdatedAt,
	}, nil
}
