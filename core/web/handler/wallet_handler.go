package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/solpine/sol_wallet/config"
	"github.com/solpine/sol_wallet/core/coin"
	"github.com/solpine/sol_wallet/core/custody"
	"github.com/solpine/sol_wallet/core/dispatch"
	"github.com/solpine/sol_wallet/core/errs"
	"github.com/solpine/sol_wallet/core/store"
	"github.com/solpine/sol_wallet/core/tasks"
	"github.com/solpine/sol_wallet/utils/logger"
)

// SymbolKey is the gin context key the crypto middleware fills in.
const SymbolKey = "crypto_symbol"

type WalletHandler struct {
	deps      coin.Deps
	custodian *custody.Custodian
	store     *store.Store
	tasks     *tasks.Tasks
	disp      *dispatch.Dispatcher
}

func NewWalletHandler(deps coin.Deps, custodian *custody.Custodian, st *store.Store, t *tasks.Tasks, disp *dispatch.Dispatcher) *WalletHandler {
	return &WalletHandler{deps: deps, custodian: custodian, store: st, tasks: t, disp: disp}
}

func (h *WalletHandler) symbol(c *gin.Context) string {
	return c.GetString(SymbolKey)
}

func (h *WalletHandler) asset(c *gin.Context) (coin.Asset, bool) {
	asset, err := coin.New(h.symbol(c), h.deps)
	if err != nil {
		respondErr(c, err)
		return nil, false
	}
	return asset, true
}

func (h *WalletHandler) GenerateAddress(c *gin.Context) {
	address, err := h.custodian.CreateRegularWallet(c.Request.Context(), h.symbol(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	logger.Logrus.WithFields(logrus.Fields{"Address": address, "Symbol": h.symbol(c)}).Info("generated address")
	respondOK(c, gin.H{"address": address})
}

func (h *WalletHandler) Balance(c *gin.Context) {
	asset, ok := h.asset(c)
	if !ok {
		return
	}
	balance, err := asset.FeeDepositBalance(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"balance": balance.String()})
}

func (h *WalletHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	checkpoint, ok, err := h.store.Checkpoint(ctx)
	if err != nil {
		respondErr(c, err)
		return
	}
	if !ok {
		respondErr(c, errs.New(errs.KindNotFound, "no blocks scanned yet"))
		return
	}
	blockTime, err := h.deps.Ledger.BlockTime(ctx, checkpoint)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"last_block": checkpoint, "timestamp": blockTime})
}

func (h *WalletHandler) Transaction(c *gin.Context) {
	asset, ok := h.asset(c)
	if !ok {
		return
	}
	events, err := asset.ParseTransaction(c.Request.Context(), c.Param("txid"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, events)
}

func (h *WalletHandler) Dump(c *gin.Context) {
	entries, err := h.custodian.Dump(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, entries)
}

func (h *WalletHandler) FeeDepositAccount(c *gin.Context) {
	asset, ok := h.asset(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	address, err := h.custodian.FeeDepositAddress(ctx)
	if err != nil {
		respondErr(c, err)
		return
	}
	balance, err := asset.FeeDepositBalance(ctx)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"address": address, "balance": balance.String()})
}

func (h *WalletHandler) AllAddresses(c *gin.Context) {
	addresses, err := h.store.AllAddresses(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"addresses": addresses})
}

func (h *WalletHandler) CalcTxFee(c *gin.Context) {
	if _, err := decimal.NewFromString(c.Param("amount")); err != nil {
		respondErr(c, errs.Wrap(errs.KindValidation, err, "bad amount %q", c.Param("amount")))
		return
	}
	asset, ok := h.asset(c)
	if !ok {
		return
	}
	fee, err := asset.TransactionPrice(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"fee": fee.String()})
}

func (h *WalletHandler) Multipayout(c *gin.Context) {
	var payouts []coin.PayoutRequest
	if err := c.ShouldBindJSON(&payouts); err != nil {
		respondErr(c, errs.Wrap(errs.KindValidation, err, "bad payout list"))
		return
	}
	h.enqueuePayouts(c, payouts)
}

func (h *WalletHandler) Payout(c *gin.Context) {
	amount, err := decimal.NewFromString(c.Param("amount"))
	if err != nil {
		respondErr(c, errs.Wrap(errs.KindValidation, err, "bad amount %q", c.Param("amount")))
		return
	}
	h.enqueuePayouts(c, []coin.PayoutRequest{{Dest: c.Param("to"), Amount: amount}})
}

// enqueuePayouts validates up front so a malformed request fails fast
// instead of surfacing later as a failed task.
func (h *WalletHandler) enqueuePayouts(c *gin.Context, payouts []coin.PayoutRequest) {
	if err := coin.ValidatePayouts(payouts); err != nil {
		respondErr(c, err)
		return
	}
	id, err := h.tasks.SubmitMultipayout(h.symbol(c), payouts)
	if err != nil {
		respondErr(c, err)
		return
	}
	logger.Logrus.WithFields(logrus.Fields{"TaskID": id, "Symbol": h.symbol(c), "Payouts": len(payouts)}).Info("payout task enqueued")
	respondOK(c, gin.H{"task_id": id})
}

func (h *WalletHandler) TaskState(c *gin.Context) {
	state, err := h.disp.TaskState(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, state)
}

// ValidSymbol reports whether the symbol is the native asset or a
// configured token on the current network.
func ValidSymbol(symbol string) bool {
	return symbol == coin.NativeSymbol || config.IsTokenSymbol(symbol)
}
