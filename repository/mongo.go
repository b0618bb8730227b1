package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/linlinbupt123-crypto/ledger_service/db"
)

// MongoStore combines the per-collection repos into a Store. Units of work
// run as multi-document transactions, which need a replica set.
type MongoStore struct {
	*AccountRepo
	*OwnerRepo
	*TransferRepo
	*SignatureRepo
	client *mongo.Client
}

func NewMongoStore(m *db.MongoRepo) *MongoStore {
	return &MongoStore{
		AccountRepo:   NewAccountRepo(m),
		OwnerRepo:     NewOwnerRepo(m),
		TransferRepo:  NewTransferRepo(m),
		SignatureRepo: NewSignatureRepo(m),
		client:        m.Client,
	}
}

// RunInTx runs fn inside a session transaction. The session context handed
// to fn routes every collection call through the transaction.
func (s *MongoStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
