package coin

import (
	"context"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/shopspring/decimal"

	"github.com/solpine/sol_wallet/config"
	"github.com/solpine/sol_wallet/core/chain"
	"github.com/solpine/sol_wallet/core/errs"
)

// computeBudgetInstructions returns the compute-unit limit and price
// instructions, each added only when configured above zero.
func computeBudgetInstructions() []solana.Instruction {
	cfg := config.GetWalletConfig()

	var instructions []solana.Instruction
	if cfg.ComputeUnitLimit > 0 {
		instructions = append(instructions, computebudget.NewSetComputeUnitLimitInstruction(uint32(cfg.ComputeUnitLimit)).Build())
	}
	if cfg.ComputeUnitPrice > 0 {
		instructions = append(instructions, computebudget.NewSetComputeUnitPriceInstruction(uint64(cfg.ComputeUnitPrice)).Build())
	}
	return instructions
}

// baseTransactionPrice is the per-transaction fee in SOL: base fee
// plus compute unit limit times compute unit price in micro-lamports.
func baseTransactionPrice() decimal.Decimal {
	cfg := config.GetWalletConfig()
	lamports := uint64(cfg.BaseTxFee) + uint64(cfg.ComputeUnitLimit)*uint64(cfg.ComputeUnitPrice)/1_000_000
	return ToSol(lamports)
}

// submitTransaction assembles, signs and submits one transaction.
// Once submission returns a signature the transaction is considered
// sent regardless of caller-side timeouts.
func submitTransaction(ctx context.Context, ledger chain.Ledger, instructions []solana.Instruction, payer solana.PublicKey, signers []solana.PrivateKey) (solana.Signature, error) {
	blockhash, err := ledger.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, errs.Wrap(errs.KindUnknown, err, "assemble transaction")
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if signers[i].PublicKey().Equals(key) {
				return &signers[i]
			}
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, errs.Wrap(errs.KindUnknown, err, "sign transaction")
	}

	return ledger.SendTransaction(ctx, tx)
}
