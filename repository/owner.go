package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linlinbupt123-crypto/ledger_service/db"
	"github.com/linlinbupt123-crypto/ledger_service/entity"
)

// ownerDoc uses "<wallet>:<owner>" as _id so a pair can only be stored once.
type ownerDoc struct {
	ID           string `bson:"_id"`
	Position     int    `bson:"position"`
	entity.Owner `bson:",inline"`
}

type OwnerRepo struct {
	col *mongo.Collection
}

func NewOwnerRepo(m *db.MongoRepo) *OwnerRepo {
	return &OwnerRepo{col: m.OwnerColl}
}

func (r *OwnerRepo) InsertOwners(ctx context.Context, wallet string, owners []string) error {
	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(owners))
	for i, o := range owners {
		docs = append(docs, ownerDoc{
			ID:       wallet + ":" + o,
			Position: i,
			Owner:    entity.Owner{WalletAddress: wallet, OwnerAddress: o, AddedAt: now},
		})
	}
	_, err := r.col.InsertMany(ctx, docs)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (r *OwnerRepo) Owners(ctx context.Context, wallet string) ([]string, error) {
	opts := options.Find().SetSort(bson.M{"position": 1})
	cur, err := r.col.Find(ctx, bson.M{"wallet_address": wallet}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]string, 0)
	for cur.Next(ctx) {
		var d ownerDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, d.OwnerAddress)
	}
	return out, cur.Err()
}
