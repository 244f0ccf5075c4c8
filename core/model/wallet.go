package model

import (
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const (
	TypeFeeDeposit = "fee_deposit"
	TypeRegular    = "regular"
)

// AccountRecord tracks one address under one crypto symbol with a
// cached balance. One address may appear once per symbol.
type AccountRecord struct {
	bun.BaseModel `bun:"table:sol_accounts,alias:acc"`

	ID      int64           `bun:"id,pk,autoincrement"`
	Address string          `bun:"address,notnull"`
	Crypto  string          `bun:"crypto,notnull"`
	Amount  decimal.Decimal `bun:"amount,type:numeric"`
	Type    string          `bun:"type,notnull"`
}

// WalletRecord holds the encrypted secret of an address. Plaintext
// key material never reaches this table.
type WalletRecord struct {
	bun.BaseModel `bun:"table:sol_wallets,alias:wlt"`

	ID         int64  `bun:"id,pk,autoincrement"`
	PubAddress string `bun:"pub_address,notnull,unique"`
	PrivKey    []byte `bun:"priv_key,notnull"`
	Type       string `bun:"type,notnull"`
}

// SettingRecord is a single name/value row; the watcher checkpoint
// lives under the name "last_block".
type SettingRecord struct {
	bun.BaseModel `bun:"table:sol_settings,alias:set"`

	Name  string `bun:"name,pk"`
	Value string `bun:"value"`
}
