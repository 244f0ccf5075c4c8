package coin

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/solpine/sol_wallet/config"
	"github.com/solpine/sol_wallet/core/errs"
	"github.com/solpine/sol_wallet/utils/logger"
)

// NativeAsset moves the chain's own coin.
type NativeAsset struct {
	deps Deps
}

func (a *NativeAsset) Symbol() string { return NativeSymbol }

func (a *NativeAsset) AccountBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.KindValidation, err, "bad address %s", address)
	}
	lamports, err := a.deps.Ledger.Balance(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	return ToSol(lamports), nil
}

func (a *NativeAsset) FeeDepositBalance(ctx context.Context) (decimal.Decimal, error) {
	address, err := a.deps.Keys.FeeDepositAddress(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return a.AccountBalance(ctx, address)
}

// TransactionPrice is base fee plus the prioritization surcharge.
func (a *NativeAsset) TransactionPrice(ctx context.Context) (decimal.Decimal, error) {
	return baseTransactionPrice(), nil
}

func (a *NativeAsset) TransferPrice(ctx context.Context, destination string) (decimal.Decimal, error) {
	return a.TransactionPrice(ctx)
}

func (a *NativeAsset) MakeMultipayout(ctx context.Context, payouts []PayoutRequest) ([]PayoutResult, error) {
	if err := ValidatePayouts(payouts); err != nil {
		return nil, err
	}
	cfg := config.GetWalletConfig()

	fee, err := a.TransactionPrice(ctx)
	if err != nil {
		return nil, err
	}
	sizes := partitionSizes(len(payouts), int(cfg.MaxCoinTransfersPerTx))

	total := decimal.Zero
	for _, payout := range payouts {
		total = total.Add(payout.Amount)
	}
	need := total.Add(fee.Mul(decimal.NewFromInt(int64(len(sizes)))))

	have, err := a.FeeDepositBalance(ctx)
	if err != nil {
		return nil, err
	}
	if have.LessThan(need) {
		return nil, errs.New(errs.KindInsufficientFunds, "have not enough crypto on fee-deposit account, need %s have %s", need, have)
	}

	feeDepositAddress, err := a.deps.Keys.FeeDepositAddress(ctx)
	if err != nil {
		return nil, err
	}
	sender, err := a.deps.Keys.SecretFor(ctx, feeDepositAddress)
	if err != nil {
		return nil, err
	}

	var results []PayoutResult
	offset := 0
	for _, size := range sizes {
		batch := payouts[offset : offset+size]
		offset += size

		instructions := computeBudgetInstructions()
		for _, payout := range batch {
			dest, err := solana.PublicKeyFromBase58(payout.Dest)
			if err != nil {
				return nil, errs.Wrap(errs.KindValidation, err, "bad destination address %s", payout.Dest)
			}
			instructions = append(instructions, system.NewTransferInstruction(
				ToLamports(payout.Amount),
				sender.PublicKey(),
				dest,
			).Build())
		}

		signature, err := submitTransaction(ctx, a.deps.Ledger, instructions, sender.PublicKey(), []solana.PrivateKey{sender})
		if err != nil {
			return nil, err
		}
		logger.Logrus.WithFields(logrus.Fields{"Signature": signature.String(), "Transfers": size}).Warn("multipayout batch submitted")

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

func (a *NativeAsset) DrainAccount(ctx context.Context, account, destination string) ([]PayoutResult, bool, error) {
	cfg := config.GetWalletConfig()
	threshold, err := decimal.NewFromString(cfg.MinTransferThreshold)
	if err != nil {
		return nil, false, errs.Wrap(errs.KindValidation, err, "bad min transfer threshold %q", cfg.MinTransferThreshold)
	}

	balance, err := a.AccountBalance(ctx, account)
	if err != nil {
		return nil, false, err
	}
	if balance.LessThan(threshold) {
		logger.Logrus.WithFields(logrus.Fields{"Account": account, "Balance": balance.String(), "Threshold": threshold.String()}).Warn("balance is below min transfer threshold, skip draining")
		return nil, false, nil
	}

	price, err := a.TransactionPrice(ctx)
	if err != nil {
		return nil, false, err
	}
	feeLamports := ToLamports(price)
	balanceLamports := ToLamports(balance)
	if balanceLamports <= feeLamports {
		logger.Logrus.WithFields(logrus.Fields{"Account": account, "Balance": balance.String()}).Warn("balance does not cover the transfer fee, skip draining")
		return nil, false, nil
	}
	amount := balanceLamports - feeLamports

	sender, err := a.deps.Keys.SecretFor(ctx, account)
	if err != nil {
		return nil, false, err
	}
	dest, err := solana.PublicKeyFromBase58(destination)
	if err != nil {
		return nil, false, errs.Wrap(errs.KindValidation, err, "bad destination address %s", destination)
	}

	instructions := computeBudgetInstructions()
	instructions = append(instructions, system.NewTransferInstruction(amount, sender.PublicKey(), dest).Build())

	logger.Logrus.WithFields(logrus.Fields{"Lamports": amount, "From": account, "To": destination}).Warn("draining account")
	signature, err := submitTransaction(ctx, a.deps.Ledger, instructions, sender.PublicKey(), []solana.PrivateKey{sender})
	if err != nil {
		return nil, false, err
	}

	return []PayoutResult{{
		Dest:   destination,
		Amount: ToSol(amount),
		Status: "success",
		TxIDs:  []string{signature.String()},
	}}, true, nil
}

func (a *NativeAsset) ParseTransaction(ctx context.Context, txid string) ([]DepositEvent, error) {
	txRes, err := a.deps.Ledger.Transaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	solTx, err := txRes.Transaction.GetTransaction()
	if err != nil {
		return nil, errs.Wrap(errs.KindRPC, err, "decode transaction %s", txid)
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

	events := ClassifyNative(solTx.Message.AccountKeys, txRes.Meta, tracked, confirmations)
	logger.Logrus.WithFields(logrus.Fields{"TxID": txid, "Events": events}).Warn("related transactions")
	return events, nil
}
