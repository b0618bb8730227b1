package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/linlinbupt123-crypto/ledger_service/entity"
	"github.com/linlinbupt123-crypto/ledger_service/request"
	"github.com/linlinbupt123-crypto/ledger_service/service"
	"github.com/linlinbupt123-crypto/ledger_service/utils"
)

type WalletHandler struct {
	walletService *service.WalletService
}

func NewWalletHandler(ws *service.WalletService) *WalletHandler {
	return &WalletHandler{walletService: ws}
}

func (h *WalletHandler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	r.POST("/wallets", h.CreateWallet)
	r.POST("/wallets/multisig", h.CreateMultisigWallet)
	r.GET("/wallets/:address/balance", h.GetBalance)
	r.POST("/wallets/:address/verify", h.VerifyOwnership)
	r.GET("/wallets/:address/transfers", h.GetHistory)
	r.GET("/wallets/:address/transfers/count", h.GetTransferCount)
	r.GET("/wallets/:address/pending", h.GetPending)
	r.GET("/wallets/:address/owners", h.GetOwners)

	r.POST("/transfers", h.SendTransaction)
	r.GET("/transfers/recent", h.GetRecent)
	r.GET("/transfers/:hash", h.GetTransfer)
	r.POST("/transfers/:hash/signatures", h.AddSignature)
}

func (h *WalletHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// optionalAmount treats an empty string as zero.
func optionalAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return utils.ParseAmount(s)
}

// CreateWallet, create a plain wallet; the private key is only returned here
func (h *WalletHandler) CreateWallet(c *gin.Context) {
	var req request.CreateWalletReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	balance, err := optionalAmount(req.InitialBalance)
	if err != nil {
		badRequest(c, err)
		return
	}

	wallet, err := h.walletService.CreateAccount(c.Request.Context(), balance)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newWalletResponse(wallet))
}

func (h *WalletHandler) CreateMultisigWallet(c *gin.Context) {
	var req request.CreateMultisigReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	balance, err := optionalAmount(req.InitialBalance)
	if err != nil {
		badRequest(c, err)
		return
	}

	wallet, err := h.walletService.CreateMultisigAccount(c.Request.Context(), req.Owners, req.RequiredSignatures, balance)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newWalletResponse(wallet))
}

func (h *WalletHandler) GetBalance(c *gin.Context) {
	address := c.Param("address")
	balance, err := h.walletService.GetBalance(c.Request.Context(), address)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": address,
		"balance": balance.StringFixed(utils.AmountDecimals),
	})
}

func (h *WalletHandler) VerifyOwnership(c *gin.Context) {
	var req request.VerifyOwnershipReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ok, err := h.walletService.VerifyOwnership(c.Request.Context(), c.Param("address"), req.PrivateKey)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": ok})
}

// queryLimit reads ?limit, 0 when absent. Anything but a non-negative
// integer is answered with 400.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, errors.New("limit must be a non-negative integer"))
		return 0, false
	}
	return n, true
}

func (h *WalletHandler) GetHistory(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	ts, err := h.walletService.GetHistory(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTransferList(ts))
}

func (h *WalletHandler) GetTransferCount(c *gin.Context) {
	count, err := h.walletService.GetTransferCount(c.Request.Context(), c.Param("address"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, count)
}

func (h *WalletHandler) GetPending(c *gin.Context) {
	ps, err := h.walletService.GetPending(c.Request.Context(), c.Param("address"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPendingList(ps))
}

func (h *WalletHandler) GetOwners(c *gin.Context) {
	owners, err := h.walletService.GetOwners(c.Request.Context(), c.Param("address"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owners": owners})
}

func (h *WalletHandler) SendTransaction(c *gin.Context) {
	var req request.SendTxReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		badRequest(c, err)
		return
	}

	tr, err := h.walletService.SubmitTransfer(c.Request.Context(), req.Sender, req.Receiver, amount, req.PrivateKey)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if tr.Status == entity.StatusPending {
		status = http.StatusAccepted
	}
	c.JSON(status, newTransferResponse(tr))
}

func (h *WalletHandler) GetRecent(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	ts, err := h.walletService.GetRecent(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTransferList(ts))
}

func (h *WalletHandler) GetTransfer(c *gin.Context) {
	tr, err := h.walletService.GetTransfer(c.Request.Context(), c.Param("hash"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTransferResponse(tr))
}

func (h *WalletHandler) AddSignature(c *gin.Context) {
	var req request.AddSignatureReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ap, err := h.walletService.Multisig.AddSignature(c.Request.Context(), c.Param("hash"), req.Signer, req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transfer":            newTransferResponse(ap.Transfer),
		"signatures_count":    ap.Signatures,
		"required_signatures": ap.Required,
		"is_approved":         ap.Approved,
	})
}
