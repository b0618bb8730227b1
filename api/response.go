package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/linlinbupt123-crypto/ledger_service/entity"
	apperrors "github.com/linlinbupt123-crypto/ledger_service/errors"
	"github.com/linlinbupt123-crypto/ledger_service/service"
	"github.com/linlinbupt123-crypto/ledger_service/utils"
)

var statusByCode = map[apperrors.Code]int{
	apperrors.NotFound:             http.StatusNotFound,
	apperrors.InvalidInput:         http.StatusBadRequest,
	apperrors.InvalidConfiguration: http.StatusBadRequest,
	apperrors.InsufficientBalance:  http.StatusUnprocessableEntity,
	apperrors.Unauthorized:         http.StatusUnauthorized,
	apperrors.DuplicateAddress:     http.StatusConflict,
	apperrors.AlreadySigned:        http.StatusConflict,
	apperrors.TransferNotPending:   http.StatusConflict,
	apperrors.NotAnOwner:           http.StatusForbidden,
	apperrors.Contention:           http.StatusServiceUnavailable,
	apperrors.Fatal:                http.StatusInternalServerError,
}

func writeError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.InvalidInput})
}

type transferResponse struct {
	Hash      string    `json:"hash"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Amount    string    `json:"amount"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func newTransferResponse(t *entity.Transfer) transferResponse {
	return transferResponse{
		Hash:      t.Hash,
		Sender:    t.Sender,
		Receiver:  t.Receiver,
		Amount:    utils.FormatUnits(t.Amount),
		Status:    string(t.Status),
		Timestamp: t.CreatedAt,
	}
}

func newTransferList(ts []*entity.Transfer) []transferResponse {
	out := make([]transferResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, newTransferResponse(t))
	}
	return out
}

type pendingResponse struct {
	transferResponse
	SignaturesCount    int  `json:"signatures_count"`
	RequiredSignatures int  `json:"required_signatures"`
	IsApproved         bool `json:"is_approved"`
}

func newPendingList(ps []service.PendingTransfer) []pendingResponse {
	out := make([]pendingResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, pendingResponse{
			transferResponse:   newTransferResponse(p.Transfer),
			SignaturesCount:    p.SignatureCount,
			RequiredSignatures: p.RequiredSignatures,
			IsApproved:         p.IsApproved,
		})
	}
	return out
}

type walletResponse struct {
	Address            string    `json:"address"`
	PrivateKey         string    `json:"private_key,omitempty"`
	Balance            string    `json:"balance"`
	IsMultisig         bool      `json:"is_multisig"`
	RequiredSignatures int       `json:"required_signatures,omitempty"`
	Owners             []string  `json:"owners,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

func newWalletResponse(w *service.WalletView) walletResponse {
	return walletResponse{
		Address:            w.Address,
		PrivateKey:         w.PrivateKey,
		Balance:            w.Balance.StringFixed(utils.AmountDecimals),
		IsMultisig:         w.IsMultisig,
		RequiredSignatures: w.RequiredSignatures,
		Owners:             w.Owners,
		CreatedAt:          w.CreatedAt,
	}
}
