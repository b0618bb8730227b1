package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/linlinbupt123-crypto/ledger_service/db"
	"github.com/linlinbupt123-crypto/ledger_service/entity"
)

// AccountRepo stores accounts keyed by address (_id).
type AccountRepo struct {
	col *mongo.Collection
}

func NewAccountRepo(m *db.MongoRepo) *AccountRepo {
	return &AccountRepo{col: m.AccountColl}
}

func (r *AccountRepo) InsertAccount(ctx context.Context, account *entity.Account) error {
	_, err := r.col.InsertOne(ctx, account)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (r *AccountRepo) GetAccount(ctx context.Context, address string) (*entity.Account, error) {
	var a entity.Account
	err := r.col.FindOne(ctx, bson.M{"_id": address}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) SetBalance(ctx context.Context, address string, balance, expectedVersion int64) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": address, "version": expectedVersion},
		bson.M{
			"$set": bson.M{"balance": balance, "updated_at": time.Now().UTC()},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := r.col.CountDocuments(ctx, bson.M{"_id": address})
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}
