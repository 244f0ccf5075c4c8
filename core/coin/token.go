package coin

import (
	"context"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/solpine/sol_wallet/config"
	"github.com/solpine/sol_wallet/core/errs"
	"github.com/solpine/sol_wallet/utils/logger"
)

// TokenAsset moves one confirmed token of the current network. Every
// transfer destination must hold an associated account for the mint;
// creation is paid by the fee-deposit account.
type TokenAsset struct {
	symbol string
	mint   solana.PublicKey
	deps   Deps

	decMu    sync.Mutex
	decSet   bool
	decCache uint8
}

func (a *TokenAsset) Symbol() string { return a.symbol }

func (a *TokenAsset) decimals(ctx context.Context) (uint8, error) {
	a.decMu.Lock()
	defer a.decMu.Unlock()
	if a.decSet {
		return a.decCache, nil
	}

	info, err := a.deps.Ledger.AccountInfo(ctx, a.mint)
	if err != nil {
		return 0, err
	}
	if info == nil {
		return 0, errs.New(errs.KindNotFound, "mint account %s does not exist", a.mint)
	}
	var mint token.Mint
	if err := bin.NewBinDecoder(info.Data.GetBinary()).Decode(&mint); err != nil {
		return 0, errs.Wrap(errs.KindRPC, err, "decode mint account %s", a.mint)
	}
	a.decCache = mint.Decimals
	a.decSet = true
	return a.decCache, nil
}

func (a *TokenAsset) AccountBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.KindValidation, err, "bad address %s", address)
	}
	account, ok, err := a.deps.Ledger.TokenAccountByOwner(ctx, owner, a.mint)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, nil
	}
	amount, decimals, err := a.deps.Ledger.TokenAccountBalance(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}
	return ToUIAmount(amount, decimals), nil
}

func (a *TokenAsset) FeeDepositBalance(ctx context.Context) (decimal.Decimal, error) {
	address, err := a.deps.Keys.FeeDepositAddress(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return a.AccountBalance(ctx, address)
}

func (a *TokenAsset) feeDepositCoinBalance(ctx context.Context) (decimal.Decimal, error) {
	address, err := a.deps.Keys.FeeDepositAddress(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.KindValidation, err, "bad fee-deposit address %s", address)
	}
	lamports, err := a.deps.Ledger.Balance(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	return ToSol(lamports), nil
}

// rentAmount is the minimum balance for rent exemption of a fresh
// associated account, in SOL.
func (a *TokenAsset) rentAmount(ctx context.Context) (decimal.Decimal, error) {
	cfg := config.GetWalletConfig()
	lamports, err := a.deps.Ledger.RentExemptBalance(ctx, uint64(cfg.AtaAccountSize))
	if err != nil {
		return decimal.Zero, err
	}
	return ToSol(lamports), nil
}

func (a *TokenAsset) TransactionPrice(ctx context.Context) (decimal.Decimal, error) {
	return a.TransferPrice(ctx, "")
}

// TransferPrice resolves the three-branch fee table. Without a
// destination the worst case is assumed: a fresh associated account
// must be funded. With one, the destination account decides: an
// unallocated or regular account pays base fee plus rent unless it
// already holds an associated account for this mint; an associated
// account of this mint pays base fee only; an associated account of
// any other mint cannot receive this asset at all.
func (a *TokenAsset) TransferPrice(ctx context.Context, destination string) (decimal.Decimal, error) {
	base := baseTransactionPrice()

	if destination == "" {
		rent, err := a.rentAmount(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		return base.Add(rent), nil
	}

	dest, err := solana.PublicKeyFromBase58(destination)
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.KindValidation, err, "bad destination address %s", destination)
	}
	info, err := a.deps.Ledger.AccountInfo(ctx, dest)
	if err != nil {
		return decimal.Zero, err
	}

	if info != nil && !info.Owner.Equals(solana.SystemProgramID) {
		var tokenAccount token.Account
		if err := bin.NewBinDecoder(info.Data.GetBinary()).Decode(&tokenAccount); err != nil {
			return decimal.Zero, errs.Wrap(errs.KindValidation, err, "destination %s is neither a wallet nor a token account", destination)
		}
		if tokenAccount.Mint.Equals(a.mint) {
			return base, nil
		}
		return decimal.Zero, errs.New(errs.KindValidation, "address %s is an associated account for another token, cannot transfer to it", destination)
	}

	// Unallocated or regular account: rent applies unless the owner
	// already holds an associated account for this mint.
	_, ok, err := a.deps.Ledger.TokenAccountByOwner(ctx, dest, a.mint)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return base, nil
	}
	rent, err := a.rentAmount(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return base.Add(rent), nil
}

// ensureAssociatedAccount returns the owner's token account for this
// mint, creating one paid by the fee-deposit account when absent.
func (a *TokenAsset) ensureAssociatedAccount(ctx context.Context, owner string) (solana.PublicKey, error) {
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return solana.PublicKey{}, errs.Wrap(errs.KindValidation, err, "bad address %s", owner)
	}
	existing, ok, err := a.deps.Ledger.TokenAccountByOwner(ctx, ownerKey, a.mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if ok {
		return existing, nil
	}

	logger.Logrus.WithFields(logrus.Fields{"Owner": owner, "Mint": a.mint.String()}).Warn("there is no associated token account, creating")

	feeDepositAddress, err := a.deps.Keys.FeeDepositAddress(ctx)
	if err != nil {
		return solana.PublicKey{}, err
	}
	payer, err := a.deps.Keys.SecretFor(ctx, feeDepositAddress)
	if err != nil {
		return solana.PublicKey{}, err
	}

	derived, _, err := solana.FindAssociatedTokenAddress(ownerKey, a.mint)
	if err != nil {
		return solana.PublicKey{}, errs.Wrap(errs.KindUnknown, err, "derive associated account for %s", owner)
	}

	instructions := []solana.Instruction{
		associatedtokenaccount.NewCreateInstruction(payer.PublicKey(), ownerKey, a.mint).Build(),
	}
	signature, err := submitTransaction(ctx, a.deps.Ledger, instructions, payer.PublicKey(), []solana.PrivateKey{payer})
	if err != nil {
		return solana.PublicKey{}, err
	}
	logger.Logrus.WithFields(logrus.Fields{"Account": derived.String(), "Owner": owner, "Signature": signature.String()}).Warn("created new associated token account")
	return derived, nil
}

func (a *TokenAsset) MakeMultipayout(ctx context.Context, payouts []PayoutRequest) ([]PayoutResult, error) {
	if err := ValidatePayouts(payouts); err != nil {
		return nil, err
	}
	cfg := config.GetWalletConfig()
	sizes := partitionSizes(len(payouts), int(cfg.MaxTokenTransfersPerTx))

	total := decimal.Zero
	for _, payout := range payouts {
		total = total.Add(payout.Amount)
	}
	haveTokens, err := a.FeeDepositBalance(ctx)
	if err != nil {
		return nil, err
	}
	if haveTokens.LessThan(total) {
		return nil, errs.New(errs.KindInsufficientFunds, "have not enough tokens on fee-deposit account, need %s have %s", total, haveTokens)
	}

	// Each destination may need its own associated-account creation,
	// so the fee is summed per destination.
	totalFee := decimal.Zero
	for _, payout := range payouts {
		fee, err := a.TransferPrice(ctx, payout.Dest)
		if err != nil {
			return nil, err
		}
		totalFee = totalFee.Add(fee)
	}
	haveSol, err := a.feeDepositCoinBalance(ctx)
	if err != nil {
		return nil, err
	}
	if haveSol.LessThan(totalFee) {
		return nil, errs.New(errs.KindInsufficientFunds, "have not enough SOL on fee-deposit account to pay transaction fee, need %s have %s", totalFee, haveSol)
	}

	destinations := make([]solana.PublicKey, len(payouts))
	for i, payout := range payouts {
		destinations[i], err = a.ensureAssociatedAccount(ctx, payout.Dest)
		if err != nil {
			return nil, err
		}
	}

	feeDepositAddress, err := a.deps.Keys.FeeDepositAddress(ctx)
	if err != nil {
		return nil, err
	}
	owner, err := a.deps.Keys.SecretFor(ctx, feeDepositAddress)
	if err != nil {
		return nil, err
	}
	source, ok, err := a.deps.Ledger.TokenAccountByOwner(ctx, owner.PublicKey(), a.mint)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.KindInsufficientFunds, "fee-deposit account has no %s token account", a.symbol)
	}
	decimals, err := a.decimals(ctx)
	if err != nil {
		return nil, err
	}

	var results []PayoutResult
	offset := 0
	for _, size := range sizes {
		batch := payouts[offset : offset+size]
		batchDests := destinations[offset : offset+size]
		offset += size

		instructions := computeBudgetInstructions()
		for i, payout := range batch {
			instructions = append(instructions, token.NewTransferInstruction(
				ToRawAmount(payout.Amount, decimals),
				source,
				batchDests[i],
				owner.PublicKey(),
				nil,
			).Build())
		}

		signature, err := submitTransaction(ctx, a.deps.Ledger, instructions, owner.PublicKey(), []solana.PrivateKey{owner})
		if err != nil {
			return nil, err
		}
		logger.Logrus.WithFields(logrus.Fields{"Signature": signature.String(), "Transfers": size, "Symbol": a.symbol}).Warn("token multipayout batch submitted")

		for _, payout := range batch {
			results = append(results, PayoutResult{
				Dest:   payout.Dest,
				Amount: payout.Amount,
				Status: "success",
				TxIDs:  []string{signature.String()},
			})
		}
	}
	return results, nil
}

func (a *TokenAsset) DrainAccount(ctx context.Context, account, destination string) ([]PayoutResult, bool, error) {
	cfg := config.GetWalletConfig()
	threshold, err := decimal.NewFromString(cfg.MinTokenTransferThreshold)
	if err != nil {
		return nil, false, errs.Wrap(errs.KindValidation, err, "bad min token transfer threshold %q", cfg.MinTokenTransferThreshold)
	}

	uiAmount, err := a.AccountBalance(ctx, account)
	if err != nil {
		return nil, false, err
	}
	if uiAmount.LessThan(threshold) {
		logger.Logrus.WithFields(logrus.Fields{"Account": account, "Balance": uiAmount.String(), "Threshold": threshold.String()}).Warn("token balance is below min token transfer threshold, skip draining")
		return nil, false, nil
	}

	// The fee-deposit account pays the drain fee and must keep its
	// own rent reserve untouched.
	coinBalance, err := a.feeDepositCoinBalance(ctx)
	if err != nil {
		return nil, false, err
	}
	drainFee, err := a.TransferPrice(ctx, destination)
	if err != nil {
		return nil, false, err
	}
	rent, err := a.rentAmount(ctx)
	if err != nil {
		return nil, false, err
	}
	if drainFee.GreaterThan(coinBalance.Sub(rent)) {
		logger.Logrus.WithFields(logrus.Fields{"Account": account, "CoinBalance": coinBalance.String()}).Warn("there is not enough SOL on fee-deposit account to pay drain fee, skip draining")
		return nil, false, nil
	}

	destATA, err := a.ensureAssociatedAccount(ctx, destination)
	if err != nil {
		return nil, false, err
	}
	accountKey, err := solana.PublicKeyFromBase58(account)
	if err != nil {
		return nil, false, errs.Wrap(errs.KindValidation, err, "bad address %s", account)
	}
	sourceATA, ok, err := a.deps.Ledger.TokenAccountByOwner(ctx, accountKey, a.mint)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		logger.Logrus.WithFields(logrus.Fields{"Account": account, "Symbol": a.symbol}).Warn("account has no token account, skip draining")
		return nil, false, nil
	}

	ownerKey, err := a.deps.Keys.SecretFor(ctx, account)
	if err != nil {
		return nil, false, err
	}
	feeDepositAddress, err := a.deps.Keys.FeeDepositAddress(ctx)
	if err != nil {
		return nil, false, err
	}
	feePayer, err := a.deps.Keys.SecretFor(ctx, feeDepositAddress)
	if err != nil {
		return nil, false, err
	}
	decimals, err := a.decimals(ctx)
	if err != nil {
		return nil, false, err
	}

	instructions := computeBudgetInstructions()
	instructions = append(instructions, token.NewTransferInstruction(
		ToRawAmount(uiAmount, decimals),
		sourceATA,
		destATA,
		ownerKey.PublicKey(),
		nil,
	).Build())

	logger.Logrus.WithFields(logrus.Fields{"Amount": uiAmount.String(), "From": account, "To": destination, "Symbol": a.symbol}).Warn("draining token account")
	signature, err := submitTransaction(ctx, a.deps.Ledger, instructions, feePayer.PublicKey(), []solana.PrivateKey{feePayer, ownerKey})
	if err != nil {
		return nil, false, err
	}

	return []PayoutResult{{
		Dest:   destination,
		Amount: uiAmount,
		Status: "success",
		TxIDs:  []string{signature.String()},
	}}, true, nil
}

func (a *TokenAsset) ParseTransaction(ctx context.Context, txid string) ([]DepositEvent, error) {
	txRes, err := a.deps.Ledger.Transaction(ctx, txid)
	if err != nil {
		return nil, err
	}

	currentSlot, err := a.deps.Ledger.Slot(ctx)
	if err != nil {
		return nil, err
	}
	var confirmations uint64
	if currentSlot > txRes.Slot {
		confirmations = currentSlot - txRes.Slot
	}

	tracked, err := trackedSet(ctx, a.deps.Store)
	if err != nil {
		return nil, err
	}

	events := ClassifyToken(txRes.Meta, a.symbol, a.mint, tracked, confirmations)
	logger.Logrus.WithFields(logrus.Fields{"TxID": txid, "Events": events}).Warn("related transactions")
	return events, nil
}
