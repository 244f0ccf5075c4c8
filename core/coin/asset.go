package coin

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/solpine/sol_wallet/config"
	"github.com/solpine/sol_wallet/core/chain"
	"github.com/solpine/sol_wallet/core/errs"
	"github.com/solpine/sol_wallet/core/model"
)

// Transaction effect categories reported to the gateway.
const (
	CategoryReceive            = "receive"
	CategorySend               = "send"
	CategoryInternal           = "internal"
	CategoryTokenTransaction   = "token_transaction"
	CategoryInternalCreatedATA = "internal_creating_token_account"
)

const NativeSymbol = "SOL"

type PayoutRequest struct {
	Dest   string          `json:"dest"`
	Amount decimal.Decimal `json:"amount"`
}

// PayoutResult records the outcome for one destination. All members
// of a submitted batch share the same transaction id.
type PayoutResult struct {
	Dest   string          `json:"dest"`
	Amount decimal.Decimal `json:"amount"`
	Status string          `json:"status"`
	TxIDs  []string        `json:"txids"`
}

type DepositEvent struct {
	Address       string          `json:"addr"`
	Symbol        string          `json:"symbol"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations uint64          `json:"confirmations"`
	Category      string          `json:"category"`
}

// Store is the slice of the persistent store the payout engine needs.
type Store interface {
	AllAddresses(ctx context.Context) ([]string, error)
	AccountByAddress(ctx context.Context, symbol, address string) (*model.AccountRecord, error)
}

// Keyring hands out signing keys; implemented by the custodian.
type Keyring interface {
	FeeDepositAddress(ctx context.Context) (string, error)
	SecretFor(ctx context.Context, address string) (solana.PrivateKey, error)
}

type Deps struct {
	Ledger chain.Ledger
	Store  Store
	Keys   Keyring
}

// Asset is the per-family capability set: submit transfers, compute
// fees, read balances, classify transactions. One implementation per
// asset family, selected by symbol.
type Asset interface {
	Symbol() string

	// AccountBalance reads the symbol-appropriate on-chain balance.
	AccountBalance(ctx context.Context, address string) (decimal.Decimal, error)
	// FeeDepositBalance reads the fee-deposit balance for this symbol.
	FeeDepositBalance(ctx context.Context) (decimal.Decimal, error)

	// TransactionPrice is the worst-case per-transaction fee in SOL.
	TransactionPrice(ctx context.Context) (decimal.Decimal, error)
	// TransferPrice is the fee to reach one concrete destination.
	TransferPrice(ctx context.Context, destination string) (decimal.Decimal, error)

	MakeMultipayout(ctx context.Context, payouts []PayoutRequest) ([]PayoutResult, error)
	// DrainAccount sweeps account into destination. The bool result
	// is false when the drain was skipped as a normal no-op.
	DrainAccount(ctx context.Context, account, destination string) ([]PayoutResult, bool, error)

	ParseTransaction(ctx context.Context, txid string) ([]DepositEvent, error)
}

// New selects the asset family for a symbol: the native coin or a
// confirmed token of the current network.
func New(symbol string, deps Deps) (Asset, error) {
	if symbol == NativeSymbol {
		return &NativeAsset{deps: deps}, nil
	}
	mintAddress, err := config.GetTokenAddress(symbol)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "symbol %s is not accepted", symbol)
	}
	mint, err := solana.PublicKeyFromBase58(mintAddress)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "bad mint address for %s", symbol)
	}
	return &TokenAsset{symbol: symbol, mint: mint, deps: deps}, nil
}

// ValidAddress reports whether address is a well-formed on-curve
// public key.
func ValidAddress(address string) bool {
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return false
	}
	return key.IsOnCurve()
}

// ValidatePayouts fails fast on the first bad entry; nothing reaches
// the chain when any entry is invalid.
func ValidatePayouts(payouts []PayoutRequest) error {
	if len(payouts) == 0 {
		return errs.New(errs.KindValidation, "payout list is empty")
	}
	for _, payout := range payouts {
		if !ValidAddress(payout.Dest) {
			return errs.New(errs.KindValidation, "bad destination address %q", payout.Dest)
		}
		if !payout.Amount.IsPositive() {
			return errs.New(errs.KindValidation, "payout amount should be a positive number, got %s for %s", payout.Amount, payout.Dest)
		}
	}
	return nil
}

// trackedSet loads the tracked-address set once per operation.
func trackedSet(ctx context.Context, store Store) (map[string]bool, error) {
	addresses, err := store.AllAddresses(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(addresses))
	for _, address := range addresses {
		set[address] = true
	}
	return set, nil
}
