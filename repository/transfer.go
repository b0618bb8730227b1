package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linlinbupt123-crypto/ledger_service/db"
	"github.com/linlinbupt123-crypto/ledger_service/entity"
)

// TransferRepo stores transfers keyed by hash (_id).
type TransferRepo struct {
	col *mongo.Collection
}

func NewTransferRepo(m *db.MongoRepo) *TransferRepo {
	return &TransferRepo{col: m.TransferColl}
}

func (r *TransferRepo) InsertTransfer(ctx context.Context, t *entity.Transfer) error {
	_, err := r.col.InsertOne(ctx, t)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (r *TransferRepo) GetTransfer(ctx context.Context, hash string) (*entity.Transfer, error) {
	var t entity.Transfer
	err := r.col.FindOne(ctx, bson.M{"_id": hash}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TransferRepo) UpdateTransferStatus(ctx context.Context, hash string, from, to entity.Status) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": hash, "status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := r.GetTransfer(ctx, hash); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (r *TransferRepo) find(ctx context.Context, filter bson.M, limit int) ([]*entity.Transfer, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]*entity.Transfer, 0)
	for cur.Next(ctx) {
		var t entity.Transfer
		if err := cur.Decode(&t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, cur.Err()
}

func involving(address string) bson.M {
	return bson.M{"$or": bson.A{bson.M{"sender": address}, bson.M{"receiver": address}}}
}

func (r *TransferRepo) ListTransfers(ctx context.Context, address string, limit int) ([]*entity.Transfer, error) {
	return r.find(ctx, involving(address), limit)
}

func (r *TransferRepo) RecentTransfers(ctx context.Context, limit int) ([]*entity.Transfer, error) {
	return r.find(ctx, bson.M{}, limit)
}

func (r *TransferRepo) CountTransfers(ctx context.Context, address string) (int64, int64, error) {
	sent, err := r.col.CountDocuments(ctx, bson.M{"sender": address})
	if err != nil {
		return 0, 0, err
	}
	received, err := r.col.CountDocuments(ctx, bson.M{"receiver": address})
	if err != nil {
		return 0, 0, err
	}
	return sent, received, nil
}

func (r *TransferRepo) PendingTransfers(ctx context.Context, sender string) ([]*entity.Transfer, error) {
	return r.find(ctx, bson.M{"sender": sender, "status": entity.StatusPending}, 0)
}
