package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/linlinbupt123-crypto/ledger_service/db"
	"github.com/linlinbupt123-crypto/ledger_service/entity"
)

// signatureDoc uses "<hash>:<signer>" as _id, one signature per signer.
type signatureDoc struct {
	ID               string `bson:"_id"`
	entity.Signature `bson:",inline"`
}

func signatureID(hash, signer string) string {
	return hash + ":" + signer
}

type SignatureRepo struct {
	col *mongo.Collection
}

func NewSignatureRepo(m *db.MongoRepo) *SignatureRepo {
	return &SignatureRepo{col: m.SignatureColl}
}

func (r *SignatureRepo) InsertSignature(ctx context.Context, sig *entity.Signature) error {
	_, err := r.col.InsertOne(ctx, signatureDoc{ID: signatureID(sig.TransferHash, sig.Signer), Signature: *sig})
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (r *SignatureRepo) HasSignature(ctx context.Context, hash, signer string) (bool, error) {
	n, err := r.col.CountDocuments(ctx, bson.M{"_id": signatureID(hash, signer)})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SignatureRepo) CountSignatures(ctx context.Context, hash string) (int, error) {
	n, err := r.col.CountDocuments(ctx, bson.M{"transfer_hash": hash})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
