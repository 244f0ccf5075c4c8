package custody

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/solpine/sol_wallet/core/errs"
	"github.com/solpine/sol_wallet/core/model"
	"github.com/solpine/sol_wallet/utils/logger"
)

// Store is the slice of the persistent store the custodian needs.
type Store interface {
	FeeDepositAccount(ctx context.Context) (*model.AccountRecord, error)
	CreateWallet(ctx context.Context, address string, encSecret []byte, walletType, symbol string) error
	WalletByAddress(ctx context.Context, address string) (*model.WalletRecord, error)
	AllAddresses(ctx context.Context) ([]string, error)
}

// Custodian owns key lifecycle: it generates keypairs, keeps secrets
// encrypted at rest and hands out decrypted keys only transiently for
// signing.
type Custodian struct {
	store  Store
	cipher SecretCipher

	// scheduleFeeDeposit enqueues asynchronous fee-deposit wallet
	// creation; set by the task layer at wiring time.
	scheduleFeeDeposit func()

	waitBudget time.Duration
	pollEvery  time.Duration
}

func New(store Store, cipher SecretCipher) *Custodian {
	return &Custodian{
		store:      store,
		cipher:     cipher,
		waitBudget: 10 * time.Second,
		pollEvery:  time.Second,
	}
}

func (c *Custodian) SetFeeDepositScheduler(fn func()) {
	c.scheduleFeeDeposit = fn
}

func (c *Custodian) createWallet(ctx context.Context, symbol, walletType string) (string, error) {
	wallet := solana.NewWallet()
	address := wallet.PublicKey().String()

	encrypted, err := c.cipher.Encrypt([]byte(wallet.PrivateKey.String()))
	if err != nil {
		return "", errs.Wrap(errs.KindUnknown, err, "encrypt secret for %s", address)
	}

	logger.Logrus.WithFields(logrus.Fields{"Address": address, "Type": walletType}).Warn("saving wallet to DB")
	if err := c.store.CreateWallet(ctx, address, encrypted, walletType, symbol); err != nil {
		return "", err
	}
	return address, nil
}

// CreateRegularWallet generates a customer-facing deposit address
// tracked under the given symbol.
func (c *Custodian) CreateRegularWallet(ctx context.Context, symbol string) (string, error) {
	return c.createWallet(ctx, symbol, model.TypeRegular)
}

// CreateFeeDepositWallet generates the central hot wallet. It is
// always tracked under the native symbol.
func (c *Custodian) CreateFeeDepositWallet(ctx context.Context) (string, error) {
	return c.createWallet(ctx, "SOL", model.TypeFeeDeposit)
}

// FeeDepositAddress returns the singleton fee-deposit address. When
// it does not exist yet, creation is scheduled asynchronously and the
// call waits a bounded time for the row to appear; a still-missing
// result is a transient condition, not a hard failure.
func (c *Custodian) FeeDepositAddress(ctx context.Context) (string, error) {
	account, err := c.store.FeeDepositAccount(ctx)
	if err == nil {
		return account.Address, nil
	}
	if !errs.IsKind(err, errs.KindNotFound) {
		return "", err
	}

	if c.scheduleFeeDeposit == nil {
		return "", errs.New(errs.KindNotFound, "fee-deposit account does not exist and no creator is wired")
	}
	c.scheduleFeeDeposit()

	deadline := time.Now().Add(c.waitBudget)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", errs.Wrap(errs.KindTransientStore, ctx.Err(), "waiting for fee-deposit account")
		case <-time.After(c.pollEvery):
		}
		account, err = c.store.FeeDepositAccount(ctx)
		if err == nil {
			return account.Address, nil
		}
		if !errs.IsKind(err, errs.KindNotFound) {
			return "", err
		}
	}
	return "", errs.New(errs.KindTransientStore, "fee-deposit account is not ready yet, try again later")
}

// SecretFor decrypts the private key of an address on demand.
func (c *Custodian) SecretFor(ctx context.Context, address string) (solana.PrivateKey, error) {
	wallet, err := c.store.WalletByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	plaintext, err := c.cipher.Decrypt(wallet.PrivKey)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnknown, err, "decrypt secret for %s", address)
	}
	key, err := solana.PrivateKeyFromBase58(string(plaintext))
	if err != nil {
		return nil, errs.Wrap(errs.KindUnknown, err, "malformed secret for %s", address)
	}
	return key, nil
}

type DumpEntry struct {
	PublicAddress string `json:"public_address"`
	Secret        string `json:"secret"`
}

// Dump exports every tracked address with its decrypted secret.
// Operator use only.
func (c *Custodian) Dump(ctx context.Context) (map[string]DumpEntry, error) {
	logger.Logrus.Warn("start dumping wallets")

	addresses, err := c.store.AllAddresses(ctx)
	if err != nil {
		return nil, err
	}
	dump := make(map[string]DumpEntry, len(addresses))
	for _, address := range addresses {
		secret, err := c.SecretFor(ctx, address)
		if err != nil {
			return nil, err
		}
		dump[address] = DumpEntry{PublicAddress: address, Secret: secret.String()}
	}
	return dump, nil
}
