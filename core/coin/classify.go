package coin

import (
	"errors"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sirupsen/logrus"

	"github.com/solpine/sol_wallet/utils/logger"
)

// ClassifyNative derives the effect of a settled transaction on the
// tracked addresses from native balance deltas.
//
// One tracked index: receive on a positive delta, internal when the
// delta plus the network fee cancels out (address paid the fee of a
// token operation), send otherwise. Two tracked indices whose deltas
// plus fee sum to zero form a fee-payer/recipient pair and are
// recorded once as internal for the second index. Any other shape
// yields one event per tracked index by delta sign, with zero-delta
// entries tagged token_transaction.
func ClassifyNative(accountKeys []solana.PublicKey, meta *rpc.TransactionMeta, tracked map[string]bool, confirmations uint64) []DepositEvent {
	if meta == nil {
		return nil
	}

	diffs := make([]int64, len(meta.PreBalances))
	for i := range meta.PreBalances {
		diffs[i] = int64(meta.PostBalances[i]) - int64(meta.PreBalances[i])
	}
	fee := int64(meta.Fee)

	var trackedIdx []int
	for i, key := range accountKeys {
		if i < len(diffs) && tracked[key.String()] {
			trackedIdx = append(trackedIdx, i)
		}
	}

	var events []DepositEvent
	switch {
	case len(trackedIdx) == 1:
		i := trackedIdx[0]
		category := CategorySend
		if diffs[i] > 0 {
			category = CategoryReceive
		} else if diffs[i]+fee == 0 {
			category = CategoryInternal
		}
		events = append(events, DepositEvent{
			Address:       accountKeys[i].String(),
			Symbol:        NativeSymbol,
			Amount:        ToSol(absInt64(diffs[i])),
			Confirmations: confirmations,
			Category:      category,
		})

	case len(trackedIdx) == 2 && diffs[trackedIdx[0]]+diffs[trackedIdx[1]]+fee == 0:
		i := trackedIdx[1]
		events = append(events, DepositEvent{
			Address:       accountKeys[i].String(),
			Symbol:        NativeSymbol,
			Amount:        ToSol(absInt64(diffs[i])),
			Confirmations: confirmations,
			Category:      CategoryInternal,
		})

	default:
		for _, i := range trackedIdx {
			category := CategoryTokenTransaction
			if diffs[i] > 0 {
				category = CategoryReceive
			} else if diffs[i] < 0 {
				category = CategorySend
			}
			events = append(events, DepositEvent{
				Address:       accountKeys[i].String(),
				Symbol:        NativeSymbol,
				Amount:        ToSol(absInt64(diffs[i])),
				Confirmations: confirmations,
				Category:      category,
			})
		}
	}
	return events
}

// ClassifyToken derives the effect of a settled transaction on the
// tracked owners of one mint from pre/post token balances.
func ClassifyToken(meta *rpc.TransactionMeta, symbol string, mint solana.PublicKey, tracked map[string]bool, confirmations uint64) []DepositEvent {
	if meta == nil {
		return nil
	}
	post := meta.PostTokenBalances
	pre := meta.PreTokenBalances

	// A token balance may be missing from the pre list when the
	// account was created inside this transaction.
	preByIndex := make(map[uint16]int64, len(pre))
	for _, balance := range pre {
		amount, err := rawTokenAmount(balance)
		if err != nil {
			logger.Logrus.WithFields(logrus.Fields{"AccountIndex": balance.AccountIndex, "ErrMsg": err}).Warn("malformed pre token balance, skip")
			continue
		}
		preByIndex[balance.AccountIndex] = amount
	}

	ownerTracked := func(balance rpc.TokenBalance) bool {
		return balance.Owner != nil && tracked[balance.Owner.String()]
	}

	var events []DepositEvent

	// Transfer between two of our own accounts, e.g. one-time wallet
	// to the fee-deposit account.
	if len(post) == 2 &&
		ownerTracked(post[0]) && ownerTracked(post[1]) &&
		post[0].Mint.Equals(mint) && post[1].Mint.Equals(mint) {
		amount, err := rawTokenAmount(post[0])
		if err != nil {
			logger.Logrus.WithFields(logrus.Fields{"AccountIndex": post[0].AccountIndex, "ErrMsg": err}).Warn("malformed post token balance, skip")
			return events
		}
		diff := amount - preByIndex[post[0].AccountIndex]
		events = append(events, DepositEvent{
			Address:       post[0].Owner.String(),
			Symbol:        symbol,
			Amount:        ToUIAmount(uint64(absInt64(diff)), post[0].UiTokenAmount.Decimals),
			Confirmations: confirmations,
			Category:      CategoryInternal,
		})
		return events
	}

	for _, balance := range post {
		if !ownerTracked(balance) || !balance.Mint.Equals(mint) {
			continue
		}
		amount, err := rawTokenAmount(balance)
		if err != nil {
			logger.Logrus.WithFields(logrus.Fields{"AccountIndex": balance.AccountIndex, "ErrMsg": err}).Warn("malformed post token balance, skip")
			continue
		}
		diff := amount - preByIndex[balance.AccountIndex]
		category := CategorySend
		if diff > 0 {
			category = CategoryReceive
		} else if diff == 0 {
			category = CategoryInternalCreatedATA
		}
		events = append(events, DepositEvent{
			Address:       balance.Owner.String(),
			Symbol:        symbol,
			Amount:        ToUIAmount(uint64(absInt64(diff)), balance.UiTokenAmount.Decimals),
			Confirmations: confirmations,
			Category:      category,
		})
	}
	return events
}

func rawTokenAmount(balance rpc.TokenBalance) (int64, error) {
	if balance.UiTokenAmount == nil {
		return 0, errors.New("token balance carries no amount")
	}
	return strconv.ParseInt(balance.UiTokenAmount.Amount, 10, 64)
}

func absInt64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
