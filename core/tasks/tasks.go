package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/solpine/sol_wallet/config"
	"github.com/solpine/sol_wallet/core/coin"
	"github.com/solpine/sol_wallet/core/custody"
	"github.com/solpine/sol_wallet/core/dispatch"
	"github.com/solpine/sol_wallet/core/errs"
	"github.com/solpine/sol_wallet/core/model"
	"github.com/solpine/sol_wallet/utils/logger"
)

// Task names. The gateway polls results by task id, so names are part
// of the public surface.
const (
	TaskMultipayout       = "multipayout"
	TaskDrainAccount      = "drain_account"
	TaskCreateFeeDeposit  = "create_fee_deposit_account"
	TaskWalletNotify      = "wallet_notify"
	TaskPostPayoutResults = "post_payout_results"
)

// Store is the slice of the persistent store the task layer needs.
type Store interface {
	coin.Store
	Accounts(ctx context.Context) ([]model.AccountRecord, error)
	UpdateBalance(ctx context.Context, symbol, address string, amount decimal.Decimal) error
}

type Tasks struct {
	disp      *dispatch.Dispatcher
	deps      coin.Deps
	custodian *custody.Custodian
	store     Store
}

func New(disp *dispatch.Dispatcher, deps coin.Deps, custodian *custody.Custodian, store Store) *Tasks {
	t := &Tasks{disp: disp, deps: deps, custodian: custodian, store: store}
	custodian.SetFeeDepositScheduler(t.ScheduleFeeDepositCreate)
	return t
}

// RegisterAll wires every task handler into the dispatcher.
func (t *Tasks) RegisterAll() {
	t.disp.Register(TaskMultipayout, t.multipayout)
	t.disp.Register(TaskDrainAccount, t.drainAccount)
	t.disp.Register(TaskCreateFeeDeposit, t.createFeeDeposit)
	t.disp.Register(TaskWalletNotify, t.walletNotify)
	t.disp.Register(TaskPostPayoutResults, t.postPayoutResults)
}

func (t *Tasks) SubmitMultipayout(symbol string, payouts []coin.PayoutRequest) (string, error) {
	data, err := json.Marshal(payouts)
	if err != nil {
		return "", err
	}
	return t.disp.Submit(TaskMultipayout, symbol, string(data))
}

func (t *Tasks) ScheduleDrain(symbol, account string) {
	if _, err := t.disp.SubmitDeduped(TaskDrainAccount, symbol, account); err != nil {
		logger.Logrus.WithFields(logrus.Fields{"Symbol": symbol, "Account": account, "ErrMsg": err}).Error("schedule drain failed")
	}
}

func (t *Tasks) ScheduleWalletNotify(symbol, txid string) {
	if _, err := t.disp.Submit(TaskWalletNotify, symbol, txid); err != nil {
		logger.Logrus.WithFields(logrus.Fields{"Symbol": symbol, "TxID": txid, "ErrMsg": err}).Error("schedule wallet notify failed")
	}
}

func (t *Tasks) ScheduleFeeDepositCreate() {
	if _, err := t.disp.SubmitDeduped(TaskCreateFeeDeposit); err != nil {
		logger.Logrus.WithFields(logrus.Fields{"ErrMsg": err}).Error("schedule fee-deposit creation failed")
	}
}

func (t *Tasks) multipayout(ctx context.Context, args []string) (interface{}, error) {
	if len(args) != 2 {
		return nil, errs.New(errs.KindValidation, "multipayout expects symbol and payout list")
	}
	symbol := args[0]

	var payouts []coin.PayoutRequest
	if err := json.Unmarshal([]byte(args[1]), &payouts); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "bad JSON in payout list")
	}

	asset, err := coin.New(symbol, t.deps)
	if err != nil {
		return nil, err
	}
	results, err := asset.MakeMultipayout(ctx, payouts)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(results)
	if err != nil {
		return nil, err
	}
	if _, err := t.disp.Submit(TaskPostPayoutResults, symbol, string(data)); err != nil {
		logger.Logrus.WithFields(logrus.Fields{"Symbol": symbol, "ErrMsg": err}).Error("schedule payout notification failed")
	}
	return results, nil
}

func (t *Tasks) drainAccount(ctx context.Context, args []string) (interface{}, error) {
	if len(args) != 2 {
		return nil, errs.New(errs.KindValidation, "drain expects symbol and account")
	}
	symbol, account := args[0], args[1]
	logger.Logrus.WithFields(logrus.Fields{"Symbol": symbol, "Account": account}).Warn("start draining account")

	destination, err := t.custodian.FeeDepositAddress(ctx)
	if err != nil {
		return nil, err
	}
	// Draining the fee-deposit account into itself is a no-op, not
	// an engine concern; reject before any balance read.
	if destination == account {
		logger.Logrus.Warn("fee-deposit account, skip draining")
		return false, nil
	}

	asset, err := coin.New(symbol, t.deps)
	if err != nil {
		return nil, err
	}
	results, drained, err := asset.DrainAccount(ctx, account, destination)
	if err != nil {
		return nil, err
	}
	if !drained {
		return false, nil
	}
	return results, nil
}

func (t *Tasks) createFeeDeposit(ctx context.Context, args []string) (interface{}, error) {
	logger.Logrus.Warn("creating fee-deposit account")
	if _, err := t.custodian.CreateFeeDepositWallet(ctx); err != nil {
		return nil, err
	}
	return true, nil
}

func (t *Tasks) walletNotify(ctx context.Context, args []string) (interface{}, error) {
	if len(args) != 2 {
		return nil, errs.New(errs.KindValidation, "wallet notify expects symbol and txid")
	}
	if err := dispatch.WalletNotify(ctx, args[0], args[1]); err != nil {
		return nil, err
	}
	return true, nil
}

func (t *Tasks) postPayoutResults(ctx context.Context, args []string) (interface{}, error) {
	if len(args) != 2 {
		return nil, errs.New(errs.KindValidation, "payout notification expects symbol and results")
	}
	var results json.RawMessage = []byte(args[1])
	if err := dispatch.PostPayoutResults(ctx, args[0], results); err != nil {
		return nil, err
	}
	return true, nil
}

// RefreshBalances updates every cached balance from the fullnode and
// schedules drains for accounts above their thresholds. Returns the
// number of refreshed accounts.
func (t *Tasks) RefreshBalances(ctx context.Context) (int, error) {
	cfg := config.GetWalletConfig()
	coinThreshold, err := decimal.NewFromString(cfg.MinTransferThreshold)
	if err != nil {
		return 0, errs.Wrap(errs.KindValidation, err, "bad min transfer threshold %q", cfg.MinTransferThreshold)
	}
	tokenThreshold, err := decimal.NewFromString(cfg.MinTokenTransferThreshold)
	if err != nil {
		return 0, errs.Wrap(errs.KindValidation, err, "bad min token transfer threshold %q", cfg.MinTokenTransferThreshold)
	}

	accounts, err := t.store.Accounts(ctx)
	if err != nil {
		return 0, err
	}

	type drainCandidate struct {
		symbol  string
		address string
	}
	var candidates []drainCandidate
	tokenDrains := make(map[string]bool)

	updated := 0
	for _, account := range accounts {
		asset, err := coin.New(account.Crypto, t.deps)
		if err != nil {
			logger.Logrus.WithFields(logrus.Fields{"Symbol": account.Crypto, "ErrMsg": err}).Error("refresh skipped unknown symbol")
			continue
		}
		balance, err := asset.AccountBalance(ctx, account.Address)
		if err != nil {
			logger.Logrus.WithFields(logrus.Fields{"Address": account.Address, "Symbol": account.Crypto, "ErrMsg": err}).Error("refresh balance read failed")
			continue
		}
		if err := t.store.UpdateBalance(ctx, account.Crypto, account.Address, balance); err != nil {
			logger.Logrus.WithFields(logrus.Fields{"Address": account.Address, "Symbol": account.Crypto, "ErrMsg": err}).Error("refresh balance write failed")
			continue
		}
		updated++

		if account.Type == model.TypeFeeDeposit {
			continue
		}
		threshold := coinThreshold
		if account.Crypto != coin.NativeSymbol {
			threshold = tokenThreshold
		}
		if balance.GreaterThanOrEqual(threshold) {
			candidates = append(candidates, drainCandidate{symbol: account.Crypto, address: account.Address})
			if account.Crypto != coin.NativeSymbol {
				tokenDrains[account.Address] = true
			}
		}
	}

	// A token balance above threshold wins over the native balance of
	// the same address: the SOL stays behind to pay the token fee.
	for _, candidate := range candidates {
		if candidate.symbol == coin.NativeSymbol && tokenDrains[candidate.address] {
			logger.Logrus.WithFields(logrus.Fields{"Address": candidate.address}).Debug("native drain deferred to token drain")
			continue
		}
		t.ScheduleDrain(candidate.symbol, candidate.address)
	}
	return updated, nil
}

// StartBalanceRefresh runs RefreshBalances on a fixed interval until
// ctx is cancelled.
func (t *Tasks) StartBalanceRefresh(ctx context.Context) {
	interval := time.Duration(config.GetWatcherConfig().RefreshSeconds) * time.Second
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				updated, err := t.RefreshBalances(ctx)
				if err != nil {
					logger.Logrus.WithFields(logrus.Fields{"ErrMsg": err}).Error("balance refresh failed")
					continue
				}
				logger.Logrus.WithFields(logrus.Fields{"Updated": updated}).Info("balance refresh done")
			}
		}
	}()
}
