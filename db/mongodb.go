package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const pingTimeout = 3 * time.Second

type MongoRepo struct {
	Client        *mongo.Client
	DB            *mongo.Database
	AccountColl   *mongo.Collection
	OwnerColl     *mongo.Collection
	TransferColl  *mongo.Collection
	SignatureColl *mongo.Collection
}

func NewMongoRepo(ctx context.Context, uri, dbName string) (*MongoRepo, error) {
	clientOpts := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}
	// ping
	ctx2, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(ctx2, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	db := client.Database(dbName)
	return &MongoRepo{
		Client:        client,
		DB:            db,
		AccountColl:   db.Collection("accounts"),
		OwnerColl:     db.Collection("owners"),
		TransferColl:  db.Collection("transfers"),
		SignatureColl: db.Collection("signatures"),
	}, nil
}

func (m *MongoRepo) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// createIndexSafe ignores "already exists" so bootstrap can be rerun.
func createIndexSafe(ctx context.Context, col *mongo.Collection, index mongo.IndexModel) error {
	_, err := col.Indexes().CreateOne(ctx, index)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return nil
		}
		return err
	}
	return nil
}

// EnsureIndexes creates the secondary indexes used by history and approval
// queries. Uniqueness of addresses, hashes, owner pairs and signature pairs
// is carried by _id and needs no extra index.
func (m *MongoRepo) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		m.TransferColl: {
			{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "seq", Value: -1}}},
			{Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "seq", Value: -1}}},
			{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.M{"seq": -1}},
		},
		m.OwnerColl: {
			{Keys: bson.D{{Key: "wallet_address", Value: 1}, {Key: "position", Value: 1}}},
		},
		m.SignatureColl: {
			{Keys: bson.M{"transfer_hash": 1}},
		},
	}
	for col, models := range indexes {
		for _, idx := range models {
			if err := createIndexSafe(ctx, col, idx); err != nil {
				return fmt.Errorf("%s index error: %w", col.Name(), err)
			}
		}
	}
	return nil
}
