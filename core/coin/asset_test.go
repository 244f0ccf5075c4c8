package coin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/solpine/sol_wallet/config"
	"github.com/solpine/sol_wallet/core/errs"
	"github.com/solpine/sol_wallet/core/model"
	"github.com/solpine/sol_wallet/utils/logger"
)

var bootstrapOnce sync.Once

func bootstrap(t *testing.T) {
	t.Helper()
	bootstrapOnce.Do(func() {
		dir, err := os.MkdirTemp("", "coin-test")
		if err != nil {
			t.Fatal(err)
		}
		logger.Init(logger.Options{File: filepath.Join(dir, "test.log")})
		if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("APIConfig:\n  Listen: \":0\"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := config.LoadConf(dir + "/"); err != nil {
			t.Fatal(err)
		}
	})
}

type fakeLedger struct {
	balance             func(key solana.PublicKey) (uint64, error)
	accountInfo         func(key solana.PublicKey) (*rpc.Account, error)
	tokenAccountByOwner func(owner, mint solana.PublicKey) (solana.PublicKey, bool, error)
	tokenBalance        func(account solana.PublicKey) (uint64, uint8, error)
	rentExempt          uint64

	sent int
}

func (f *fakeLedger) Slot(ctx context.Context) (uint64, error) { return 100, nil }

func (f *fakeLedger) Blocks(ctx context.Context, start, end uint64) ([]uint64, error) {
	return nil, nil
}

func (f *fakeLedger) Block(ctx context.Context, slot uint64) (*rpc.GetBlockResult, error) {
	return nil, nil
}

func (f *fakeLedger) Transaction(ctx context.Context, txid string) (*rpc.GetTransactionResult, error) {
	return nil, errs.New(errs.KindNotFound, "transaction %s not found", txid)
}

func (f *fakeLedger) BlockTime(ctx context.Context, slot uint64) (int64, error) { return 0, nil }

func (f *fakeLedger) Balance(ctx context.Context, key solana.PublicKey) (uint64, error) {
	if f.balance != nil {
		return f.balance(key)
	}
	return 0, nil
}

func (f *fakeLedger) TokenAccountByOwner(ctx context.Context, owner, mint solana.PublicKey) (solana.PublicKey, bool, error) {
	if f.tokenAccountByOwner != nil {
		return f.tokenAccountByOwner(owner, mint)
	}
	return solana.PublicKey{}, false, nil
}

func (f *fakeLedger) TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, uint8, error) {
	if f.tokenBalance != nil {
		return f.tokenBalance(account)
	}
	return 0, 0, nil
}

func (f *fakeLedger) AccountInfo(ctx context.Context, key solana.PublicKey) (*rpc.Account, error) {
	if f.accountInfo != nil {
		return f.accountInfo(key)
	}
	return nil, nil
}

func (f *fakeLedger) RentExemptBalance(ctx context.Context, dataSize uint64) (uint64, error) {
	return f.rentExempt, nil
}

func (f *fakeLedger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return solana.Hash{}, nil
}

func (f *fakeLedger) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.sent++
	return solana.Signature{}, nil
}

func (f *fakeLedger) Version(ctx context.Context) (string, error) { return "test", nil }

type fakeStore struct {
	addresses []string
}

func (f *fakeStore) AllAddresses(ctx context.Context) ([]string, error) {
	return f.addresses, nil
}

func (f *fakeStore) AccountByAddress(ctx context.Context, symbol, address string) (*model.AccountRecord, error) {
	return nil, errs.New(errs.KindNotFound, "no account %s tracked under %s", address, symbol)
}

type fakeKeys struct {
	key solana.PrivateKey
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{key: solana.NewWallet().PrivateKey}
}

func (f *fakeKeys) FeeDepositAddress(ctx context.Context) (string, error) {
	return f.key.PublicKey().String(), nil
}

func (f *fakeKeys) SecretFor(ctx context.Context, address string) (solana.PrivateKey, error) {
	return f.key, nil
}

func TestMultipayoutInsufficientFunds(t *testing.T) {
	bootstrap(t)

	ledger := &fakeLedger{
		balance: func(solana.PublicKey) (uint64, error) { return 1000, nil },
	}
	asset := &NativeAsset{deps: Deps{Ledger: ledger, Store: &fakeStore{}, Keys: newFakeKeys()}}

	payouts := []PayoutRequest{
		{Dest: solana.NewWallet().PublicKey().String(), Amount: decimal.RequireFromString("1")},
		{Dest: solana.NewWallet().PublicKey().String(), Amount: decimal.RequireFromString("1")},
	}
	_, err := asset.MakeMultipayout(context.Background(), payouts)
	if err == nil {
		t.Fatal("expected an error for an underfunded fee-deposit account")
	}
	if !errs.IsKind(err, errs.KindInsufficientFunds) {
		t.Errorf("got kind %v, want insufficient funds: %v", errs.KindOf(err), err)
	}
	if ledger.sent != 0 {
		t.Errorf("submitted %d transactions, want none", ledger.sent)
	}
}

func TestMultipayoutEmptyList(t *testing.T) {
	bootstrap(t)

	asset := &NativeAsset{deps: Deps{Ledger: &fakeLedger{}, Store: &fakeStore{}, Keys: newFakeKeys()}}
	_, err := asset.MakeMultipayout(context.Background(), nil)
	if !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("got %v, want a validation error", err)
	}
}

func TestDrainBelowThreshold(t *testing.T) {
	bootstrap(t)

	ledger := &fakeLedger{
		// 0.001 SOL, below the 0.002 default threshold.
		balance: func(solana.PublicKey) (uint64, error) { return 1000000, nil },
	}
	keys := newFakeKeys()
	asset := &NativeAsset{deps: Deps{Ledger: ledger, Store: &fakeStore{}, Keys: keys}}

	account := solana.NewWallet().PublicKey().String()
	results, drained, err := asset.DrainAccount(context.Background(), account, keys.key.PublicKey().String())
	if err != nil {
		t.Fatal(err)
	}
	if drained {
		t.Error("drain below threshold reported as performed")
	}
	if results != nil {
		t.Errorf("drain below threshold returned results %v", results)
	}
	if ledger.sent != 0 {
		t.Errorf("submitted %d transactions, want none", ledger.sent)
	}
}

func TestDrainSubmitsRemainder(t *testing.T) {
	bootstrap(t)

	ledger := &fakeLedger{
		balance: func(solana.PublicKey) (uint64, error) { return 10000000, nil }, // 0.01 SOL
	}
	keys := newFakeKeys()
	asset := &NativeAsset{deps: Deps{Ledger: ledger, Store: &fakeStore{}, Keys: keys}}

	account := solana.NewWallet().PublicKey().String()
	results, drained, err := asset.DrainAccount(context.Background(), account, keys.key.PublicKey().String())
	if err != nil {
		t.Fatal(err)
	}
	if !drained {
		t.Fatal("expected the drain to run")
	}
	if ledger.sent != 1 {
		t.Fatalf("submitted %d transactions, want 1", ledger.sent)
	}
	// balance minus base fee and prioritization surcharge
	want := ToSol(10000000 - 5000 - 1000000)
	if len(results) != 1 || !results[0].Amount.Equal(want) {
		t.Errorf("drained %v, want one transfer of %s", results, want)
	}
}

func TestClassifyNativeSingleReceive(t *testing.T) {
	bootstrap(t)

	sender := solana.NewWallet().PublicKey()
	receiver := solana.NewWallet().PublicKey()
	meta := &rpc.TransactionMeta{
		Fee:          5000,
		PreBalances:  []uint64{100000, 0},
		PostBalances: []uint64{93000, 2000},
	}
	tracked := map[string]bool{receiver.String(): true}

	events := ClassifyNative([]solana.PublicKey{sender, receiver}, meta, tracked, 7)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	event := events[0]
	if event.Category != CategoryReceive {
		t.Errorf("category = %q, want %q", event.Category, CategoryReceive)
	}
	if event.Address != receiver.String() {
		t.Errorf("address = %s, want %s", event.Address, receiver)
	}
	if !event.Amount.Equal(ToSol(2000)) {
		t.Errorf("amount = %s, want %s", event.Amount, ToSol(2000))
	}
	if event.Confirmations != 7 {
		t.Errorf("confirmations = %d, want 7", event.Confirmations)
	}
}

func TestClassifyNativeFeeOnlyIsInternal(t *testing.T) {
	bootstrap(t)

	payer := solana.NewWallet().PublicKey()
	meta := &rpc.TransactionMeta{
		Fee:          5000,
		PreBalances:  []uint64{100000},
		PostBalances: []uint64{95000},
	}
	tracked := map[string]bool{payer.String(): true}

	events := ClassifyNative([]solana.PublicKey{payer}, meta, tracked, 0)
	if len(events) != 1 || events[0].Category != CategoryInternal {
		t.Errorf("got %v, want one internal event", events)
	}
}

func tokenBalance(index uint16, owner, mint solana.PublicKey, amount string, decimals uint8) rpc.TokenBalance {
	ownerCopy := owner
	return rpc.TokenBalance{
		AccountIndex: index,
		Mint:         mint,
		Owner:        &ownerCopy,
		UiTokenAmount: &rpc.UiTokenAmount{
			Amount:   amount,
			Decimals: decimals,
		},
	}
}

func TestClassifyTokenReceive(t *testing.T) {
	bootstrap(t)

	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	meta := &rpc.TransactionMeta{
		PreTokenBalances:  []rpc.TokenBalance{tokenBalance(1, owner, mint, "1000000", 6)},
		PostTokenBalances: []rpc.TokenBalance{tokenBalance(1, owner, mint, "3000000", 6)},
	}
	tracked := map[string]bool{owner.String(): true}

	events := ClassifyToken(meta, "SOLANA-USDT", mint, tracked, 3)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	event := events[0]
	if event.Category != CategoryReceive {
		t.Errorf("category = %q, want %q", event.Category, CategoryReceive)
	}
	if !event.Amount.Equal(decimal.NewFromInt(2)) {
		t.Errorf("amount = %s, want 2", event.Amount)
	}
	if event.Address != owner.String() {
		t.Errorf("address = %s, want %s", event.Address, owner)
	}
}

func TestClassifyTokenSend(t *testing.T) {
	bootstrap(t)

	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	meta := &rpc.TransactionMeta{
		PreTokenBalances:  []rpc.TokenBalance{tokenBalance(1, owner, mint, "3000000", 6)},
		PostTokenBalances: []rpc.TokenBalance{tokenBalance(1, owner, mint, "500000", 6)},
	}
	tracked := map[string]bool{owner.String(): true}

	events := ClassifyToken(meta, "SOLANA-USDT", mint, tracked, 0)
	if len(events) != 1 || events[0].Category != CategorySend {
		t.Fatalf("got %v, want one send event", events)
	}
	if !events[0].Amount.Equal(decimal.NewFromFloat(2.5)) {
		t.Errorf("amount = %s, want 2.5", events[0].Amount)
	}
}

func TestClassifyTokenInternalPair(t *testing.T) {
	bootstrap(t)

	mint := solana.NewWallet().PublicKey()
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()
	meta := &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			tokenBalance(1, from, mint, "4000000", 6),
			tokenBalance(2, to, mint, "0", 6),
		},
		PostTokenBalances: []rpc.TokenBalance{
			tokenBalance(1, from, mint, "0", 6),
			tokenBalance(2, to, mint, "4000000", 6),
		},
	}
	tracked := map[string]bool{from.String(): true, to.String(): true}

	events := ClassifyToken(meta, "SOLANA-USDT", mint, tracked, 0)
	if len(events) != 1 || events[0].Category != CategoryInternal {
		t.Fatalf("got %v, want one internal event", events)
	}
	if !events[0].Amount.Equal(decimal.NewFromInt(4)) {
		t.Errorf("amount = %s, want 4", events[0].Amount)
	}
}

func TestClassifyTokenCreatedAccount(t *testing.T) {
	bootstrap(t)

	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	meta := &rpc.TransactionMeta{
		PostTokenBalances: []rpc.TokenBalance{tokenBalance(1, owner, mint, "0", 6)},
	}
	tracked := map[string]bool{owner.String(): true}

	events := ClassifyToken(meta, "SOLANA-USDT", mint, tracked, 0)
	if len(events) != 1 || events[0].Category != CategoryInternalCreatedATA {
		t.Errorf("got %v, want one created-account event", events)
	}
}

func TestClassifyTokenMalformedAmountSkipped(t *testing.T) {
	bootstrap(t)

	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	meta := &rpc.TransactionMeta{
		PostTokenBalances: []rpc.TokenBalance{tokenBalance(1, owner, mint, "not-a-number", 6)},
	}
	tracked := map[string]bool{owner.String(): true}

	if events := ClassifyToken(meta, "SOLANA-USDT", mint, tracked, 0); len(events) != 0 {
		t.Errorf("got %v, want no events for an unparsable amount", events)
	}
}

func tokenAccountData(t *testing.T, mint, owner solana.PublicKey) *rpc.DataBytesOrJSON {
	t.Helper()

	buf := new(bytes.Buffer)
	acct := token.Account{Mint: mint, Owner: owner}
	if err := bin.NewBinEncoder(buf).Encode(&acct); err != nil {
		t.Fatal(err)
	}

	raw, err := json.Marshal([]interface{}{base64.StdEncoding.EncodeToString(buf.Bytes()), "base64"})
	if err != nil {
		t.Fatal(err)
	}
	var data rpc.DataBytesOrJSON
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatal(err)
	}
	return &data
}

func TestTokenTransferPriceTable(t *testing.T) {
	bootstrap(t)

	const symbol = "SOLANA-USDT"
	mintAddress, err := config.GetTokenAddress(symbol)
	if err != nil {
		t.Fatal(err)
	}
	mint := solana.MustPublicKeyFromBase58(mintAddress)
	otherMint := solana.NewWallet().PublicKey()

	base := ToSol(5000 + 1000000)
	rent := ToSol(2039280)

	walletWithATA := solana.NewWallet().PublicKey()
	walletWithoutATA := solana.NewWallet().PublicKey()
	sameMintAccount := solana.NewWallet().PublicKey()
	wrongMintAccount := solana.NewWallet().PublicKey()

	ledger := &fakeLedger{
		rentExempt: 2039280,
		accountInfo: func(key solana.PublicKey) (*rpc.Account, error) {
			switch key {
			case sameMintAccount:
				return &rpc.Account{Owner: solana.TokenProgramID, Data: tokenAccountData(t, mint, solana.NewWallet().PublicKey())}, nil
			case wrongMintAccount:
				return &rpc.Account{Owner: solana.TokenProgramID, Data: tokenAccountData(t, otherMint, solana.NewWallet().PublicKey())}, nil
			default:
				return nil, nil
			}
		},
		tokenAccountByOwner: func(owner, _ solana.PublicKey) (solana.PublicKey, bool, error) {
			if owner == walletWithATA {
				return solana.NewWallet().PublicKey(), true, nil
			}
			return solana.PublicKey{}, false, nil
		},
	}

	asset, err := New(symbol, Deps{Ledger: ledger, Store: &fakeStore{}, Keys: newFakeKeys()})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name        string
		destination string
		want        decimal.Decimal
		wantErr     bool
	}{
		{name: "no destination", destination: "", want: base.Add(rent)},
		{name: "wallet with associated account", destination: walletWithATA.String(), want: base},
		{name: "wallet without associated account", destination: walletWithoutATA.String(), want: base.Add(rent)},
		{name: "associated account of this mint", destination: sameMintAccount.String(), want: base},
		{name: "associated account of another mint", destination: wrongMintAccount.String(), wantErr: true},
	}

	for _, tc := range cases {
		got, err := asset.TransferPrice(context.Background(), tc.destination)
		if tc.wantErr {
			if !errs.IsKind(err, errs.KindValidation) {
				t.Errorf("%s: got %v, want a validation error", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("%s: fee = %s, want %s", tc.name, got, tc.want)
		}
	}
}
