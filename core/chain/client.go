package chain

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solpine/sol_wallet/config"
	"github.com/solpine/sol_wallet/core/errs"
)

var maxTransactionVersion = uint64(0)

// Ledger is the contract the wallet core needs from a full node.
// Calls fail with an rpc-kind error on transport trouble and a
// not-found kind for unknown transactions or accounts; retry policy
// belongs to callers.
type Ledger interface {
	Slot(ctx context.Context) (uint64, error)
	Blocks(ctx context.Context, start, end uint64) ([]uint64, error)
	Block(ctx context.Context, slot uint64) (*rpc.GetBlockResult, error)
	Transaction(ctx context.Context, txid string) (*rpc.GetTransactionResult, error)
	BlockTime(ctx context.Context, slot uint64) (int64, error)
	Balance(ctx context.Context, address solana.PublicKey) (uint64, error)
	TokenAccountByOwner(ctx context.Context, owner, mint solana.PublicKey) (solana.PublicKey, bool, error)
	TokenAccountBalance(ctx context.Context, account solana.PublicKey) (amount uint64, decimals uint8, err error)
	AccountInfo(ctx context.Context, address solana.PublicKey) (*rpc.Account, error)
	RentExemptBalance(ctx context.Context, dataSize uint64) (uint64, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	Version(ctx context.Context) (string, error)
}

type Client struct {
	rpc     *rpc.Client
	timeout time.Duration
}

func NewClient(cfg config.FullnodeConfig) *Client {
	return &Client{
		rpc:     rpc.New(cfg.URL),
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) Slot(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	slot, err := c.rpc.GetSlot(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return 0, errs.Wrap(errs.KindRPC, err, "get slot")
	}
	return slot, nil
}

func (c *Client) Blocks(ctx context.Context, start, end uint64) ([]uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	blocks, err := c.rpc.GetBlocks(ctx, start, &end, rpc.CommitmentFinalized)
	if err != nil {
		return nil, errs.Wrap(errs.KindRPC, err, "get blocks %d-%d", start, end)
	}
	return blocks, nil
}

func (c *Client) Block(ctx context.Context, slot uint64) (*rpc.GetBlockResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	block, err := c.rpc.GetBlockWithOpts(ctx, slot, &rpc.GetBlockOpts{
		Encoding:                       solana.EncodingBase64,
		TransactionDetails:             rpc.TransactionDetailsFull,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxTransactionVersion,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindRPC, err, "get block %d", slot)
	}
	return block, nil
}

func (c *Client) Transaction(ctx context.Context, txid string) (*rpc.GetTransactionResult, error) {
	sig, err := solana.SignatureFromBase58(txid)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "bad transaction id %s", txid)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	tx, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxTransactionVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, errs.New(errs.KindNotFound, "transaction %s not found", txid)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindRPC, err, "get transaction %s", txid)
	}
	return tx, nil
}

func (c *Client) BlockTime(ctx context.Context, slot uint64) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	t, err := c.rpc.GetBlockTime(ctx, slot)
	if err != nil {
		return 0, errs.Wrap(errs.KindRPC, err, "get block time %d", slot)
	}
	if t == nil {
		return 0, errs.New(errs.KindNotFound, "no block time for slot %d", slot)
	}
	return t.Time().Unix(), nil
}

func (c *Client) Balance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.rpc.GetBalance(ctx, address, rpc.CommitmentFinalized)
	if err != nil {
		return 0, errs.Wrap(errs.KindRPC, err, "get balance %s", address)
	}
	return res.Value, nil
}

// TokenAccountByOwner returns the first token account the owner holds
// for the given mint. ok is false when the owner has none.
func (c *Client) TokenAccountByOwner(ctx context.Context, owner, mint solana.PublicKey) (solana.PublicKey, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.rpc.GetTokenAccountsByOwner(ctx,
		owner,
		&rpc.GetTokenAccountsConfig{Mint: &mint},
		&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64},
	)
	if err != nil {
		return solana.PublicKey{}, false, errs.Wrap(errs.KindRPC, err, "get token accounts of %s", owner)
	}
	if len(res.Value) == 0 {
		return solana.PublicKey{}, false, nil
	}
	return res.Value[0].Pubkey, true, nil
}

func (c *Client) TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, uint8, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.rpc.GetTokenAccountBalance(ctx, account, rpc.CommitmentFinalized)
	if err != nil {
		return 0, 0, errs.Wrap(errs.KindRPC, err, "get token balance %s", account)
	}
	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, 0, errs.Wrap(errs.KindRPC, err, "malformed token amount %q", res.Value.Amount)
	}
	return amount, res.Value.Decimals, nil
}

// AccountInfo returns nil without error for accounts that do not
// exist on chain yet.
func (c *Client) AccountInfo(ctx context.Context, address solana.PublicKey) (*rpc.Account, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.rpc.GetAccountInfo(ctx, address)
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindRPC, err, "get account info %s", address)
	}
	if res.Value == nil {
		return nil, nil
	}
	return res.Value, nil
}

func (c *Client) RentExemptBalance(ctx context.Context, dataSize uint64) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	lamports, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, dataSize, rpc.CommitmentFinalized)
	if err != nil {
		return 0, errs.Wrap(errs.KindRPC, err, "get rent exemption for %d bytes", dataSize)
	}
	return lamports, nil
}

func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, errs.Wrap(errs.KindRPC, err, "get latest blockhash")
	}
	return res.Value.Blockhash, nil
}

func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return solana.Signature{}, errs.Wrap(errs.KindRPC, err, "send transaction")
	}
	return sig, nil
}

func (c *Client) Version(ctx context.Context) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.rpc.GetVersion(ctx)
	if err != nil {
		return "", errs.Wrap(errs.KindRPC, err, "get version")
	}
	return res.SolanaCore, nil
}
