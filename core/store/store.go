package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/solpine/sol_wallet/core/errs"
	"github.com/solpine/sol_wallet/core/model"
)

const checkpointName = "last_block"

// maxAttempts bounds retries of transient database failures before
// surfacing a hard error.
const maxAttempts = 3

type Store struct {
	db *bun.DB
}

func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// withRetry runs fn up to maxAttempts times. Row-not-found is final
// and reported as is; any other failure is retried and classified as
// a transient store error when attempts run out.
func withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil || errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	return errs.Wrap(errs.KindTransientStore, err, "query failed after %d attempts", maxAttempts)
}

// AllAddresses returns the public address of every tracked account.
func (s *Store) AllAddresses(ctx context.Context) ([]string, error) {
	var addresses []string
	err := withRetry(func() error {
		addresses = addresses[:0]
		return s.db.NewSelect().
			Model((*model.AccountRecord)(nil)).
			ColumnExpr("DISTINCT address").
			Scan(ctx, &addresses)
	})
	if err != nil {
		return nil, err
	}
	return addresses, nil
}

func (s *Store) Accounts(ctx context.Context) ([]model.AccountRecord, error) {
	var accounts []model.AccountRecord
	err := withRetry(func() error {
		accounts = accounts[:0]
		return s.db.NewSelect().Model(&accounts).Scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *Store) AccountByAddress(ctx context.Context, symbol, address string) (*model.AccountRecord, error) {
	var account model.AccountRecord
	err := withRetry(func() error {
		return s.db.NewSelect().
			Model(&account).
			Where("address = ?", address).
			Where("crypto = ?", symbol).
			Limit(1).
			Scan(ctx)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "no account %s tracked under %s", address, symbol)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// FeeDepositAccount returns the singleton fee-deposit row, or a
// not-found error when it has not been created yet.
func (s *Store) FeeDepositAccount(ctx context.Context) (*model.AccountRecord, error) {
	var account model.AccountRecord
	err := withRetry(func() error {
		return s.db.NewSelect().
			Model(&account).
			Where("type = ?", model.TypeFeeDeposit).
			Limit(1).
			Scan(ctx)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "fee-deposit account does not exist")
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateWallet persists the encrypted secret and the tracked account
// row in one transaction.
func (s *Store) CreateWallet(ctx context.Context, address string, encSecret []byte, walletType, symbol string) error {
	return withRetry(func() error {
		return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			wallet := &model.WalletRecord{
				PubAddress: address,
				PrivKey:    encSecret,
				Type:       walletType,
			}
			if _, err := tx.NewInsert().Model(wallet).Exec(ctx); err != nil {
				return err
			}
			account := &model.AccountRecord{
				Address: address,
				Crypto:  symbol,
				Amount:  decimal.Zero,
				Type:    walletType,
			}
			_, err := tx.NewInsert().Model(account).Exec(ctx)
			return err
		})
	})
}

func (s *Store) WalletByAddress(ctx context.Context, address string) (*model.WalletRecord, error) {
	var wallet model.WalletRecord
	err := withRetry(func() error {
		return s.db.NewSelect().
			Model(&wallet).
			Where("pub_address = ?", address).
			Limit(1).
			Scan(ctx)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "no wallet for address %s", address)
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (s *Store) UpdateBalance(ctx context.Context, symbol, address string, amount decimal.Decimal) error {
	return withRetry(func() error {
		_, err := s.db.NewUpdate().
			Model((*model.AccountRecord)(nil)).
			Set("amount = ?", amount).
			Where("address = ?", address).
			Where("crypto = ?", symbol).
			Exec(ctx)
		return err
	})
}

// Checkpoint returns the highest fully scanned slot. ok is false when
// no checkpoint row exists yet.
func (s *Store) Checkpoint(ctx context.Context) (uint64, bool, error) {
	var setting model.SettingRecord
	err := withRetry(func() error {
		return s.db.NewSelect().
			Model(&setting).
			Where("name = ?", checkpointName).
			Limit(1).
			Scan(ctx)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	slot, err := strconv.ParseUint(setting.Value, 10, 64)
	if err != nil {
		return 0, false, errs.Wrap(errs.KindChainInconsistency, err, "malformed checkpoint %q", setting.Value)
	}
	return slot, true, nil
}

func (s *Store) InitCheckpoint(ctx context.Context, slot uint64) error {
	return withRetry(func() error {
		setting := &model.SettingRecord{Name: checkpointName, Value: strconv.FormatUint(slot, 10)}
		_, err := s.db.NewInsert().
			Model(setting).
			On("CONFLICT (name) DO NOTHING").
			Exec(ctx)
		return err
	})
}

// SaveCheckpoint advances the checkpoint. The caller guarantees slot
// only ever moves forward; the guard keeps a concurrent stale writer
// from moving it back.
func (s *Store) SaveCheckpoint(ctx context.Context, slot uint64) error {
	return withRetry(func() error {
		_, err := s.db.NewUpdate().
			Model((*model.SettingRecord)(nil)).
			Set("value = ?", strconv.FormatUint(slot, 10)).
			Where("name = ?", checkpointName).
			Where("value::bigint <= ?", slot).
			Exec(ctx)
		return err
	})
}
