// Package docstore opens the MongoDB client used by the document-store repositories.
package docstore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const connectTimeout = 10 * time.Second

// Store is a connected client plus the database the repositories live in.
type Store struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// Connect dials uri, pings the primary and selects database. Caller must call Close.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, errors.New("docstore: MONGO_URI is empty")
	}
	if database == "" {
		return nil, errors.New("docstore: database name is empty")
	}
	opts := options.Client().ApplyURI(uri).SetConnectTimeout(connectTimeout)
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, err
	}
	s := &Store{Client: client, Database: client.Database(database)}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := s.PingContext(pingCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// PingContext satisfies health.Pinger.
func (s *Store) PingContext(ctx context.Context) error {
	return s.Client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}
