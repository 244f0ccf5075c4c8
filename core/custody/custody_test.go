package custody

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/solpine/sol_wallet/core/errs"
	"github.com/solpine/sol_wallet/core/model"
	"github.com/solpine/sol_wallet/utils/logger"
)

var loggerOnce sync.Once

func initLogger(t *testing.T) {
	t.Helper()
	loggerOnce.Do(func() {
		dir, err := os.MkdirTemp("", "custody-test")
		if err != nil {
			t.Fatal(err)
		}
		logger.Init(logger.Options{File: filepath.Join(dir, "test.log")})
	})
}

func testCipher(t *testing.T) SecretCipher {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	cipher, err := NewAEADCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	return cipher
}

func TestCipherRoundTrip(t *testing.T) {
	cipher := testCipher(t)

	plaintext := []byte("4wBqpZM9msxygzsdeLPq6Zw3LoiAxJk3GjtKPpqkcsi")
	sealed, err := cipher.Encrypt(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatal("ciphertext contains the plaintext")
	}

	opened, err := cipher.Decrypt(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("round trip gave %q, want %q", opened, plaintext)
	}
}

func TestCipherRejectsTampering(t *testing.T) {
	cipher := testCipher(t)

	sealed, err := cipher.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-1] ^= 0x01
	if _, err := cipher.Decrypt(sealed); err == nil {
		t.Error("tampered ciphertext decrypted without error")
	}
}

func TestCipherRejectsShortKey(t *testing.T) {
	if _, err := NewAEADCipher(make([]byte, 16)); err == nil {
		t.Error("expected an error for a short key")
	}
}

type memStore struct {
	mu      sync.Mutex
	wallets map[string]*model.WalletRecord
	feeAddr string
}

func newMemStore() *memStore {
	return &memStore{wallets: make(map[string]*model.WalletRecord)}
}

func (s *memStore) FeeDepositAccount(ctx context.Context) (*model.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feeAddr == "" {
		return nil, errs.New(errs.KindNotFound, "there is no fee-deposit account")
	}
	return &model.AccountRecord{Address: s.feeAddr, Crypto: "SOL", Type: model.TypeFeeDeposit}, nil
}

func (s *memStore) CreateWallet(ctx context.Context, address string, encSecret []byte, walletType, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[address] = &model.WalletRecord{PubAddress: address, PrivKey: encSecret, Type: walletType}
	if walletType == model.TypeFeeDeposit {
		s.feeAddr = address
	}
	return nil
}

func (s *memStore) WalletByAddress(ctx context.Context, address string) (*model.WalletRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallet, ok := s.wallets[address]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "there is no wallet %s", address)
	}
	return wallet, nil
}

func (s *memStore) AllAddresses(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var addresses []string
	for address := range s.wallets {
		addresses = append(addresses, address)
	}
	return addresses, nil
}

func TestSecretSurvivesStorage(t *testing.T) {
	initLogger(t)

	store := newMemStore()
	custodian := New(store, testCipher(t))

	address, err := custodian.CreateRegularWallet(context.Background(), "SOL")
	if err != nil {
		t.Fatal(err)
	}
	key, err := custodian.SecretFor(context.Background(), address)
	if err != nil {
		t.Fatal(err)
	}
	if key.PublicKey().String() != address {
		t.Errorf("recovered key signs for %s, want %s", key.PublicKey(), address)
	}
}

func TestFeeDepositAddressSchedulesCreation(t *testing.T) {
	initLogger(t)

	store := newMemStore()
	custodian := New(store, testCipher(t))
	custodian.waitBudget = 200 * time.Millisecond
	custodian.pollEvery = 10 * time.Millisecond

	scheduled := make(chan struct{}, 1)
	custodian.SetFeeDepositScheduler(func() {
		scheduled <- struct{}{}
		go func() {
			if _, err := custodian.CreateFeeDepositWallet(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	})

	address, err := custodian.FeeDepositAddress(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	<-scheduled
	if address == "" {
		t.Fatal("empty fee-deposit address")
	}

	again, err := custodian.FeeDepositAddress(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if again != address {
		t.Errorf("second call returned %s, want the singleton %s", again, address)
	}
}
