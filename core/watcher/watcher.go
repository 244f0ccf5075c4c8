package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/solpine/sol_wallet/config"
	"github.com/solpine/sol_wallet/core/chain"
	"github.com/solpine/sol_wallet/core/coin"
	"github.com/solpine/sol_wallet/core/errs"
	"github.com/solpine/sol_wallet/core/metrics"
	"github.com/solpine/sol_wallet/utils/logger"
)

const (
	innerBackoff = 6 * time.Second
	outerBackoff = 60 * time.Second
)

// Scheduler receives the follow-up work a scanned deposit triggers.
type Scheduler interface {
	ScheduleDrain(symbol, account string)
	ScheduleWalletNotify(symbol, txid string)
}

// Store is the checkpoint and address slice of the persistent store.
type Store interface {
	AllAddresses(ctx context.Context) ([]string, error)
	Checkpoint(ctx context.Context) (uint64, bool, error)
	InitCheckpoint(ctx context.Context, slot uint64) error
	SaveCheckpoint(ctx context.Context, slot uint64) error
}

// Publisher delivers one detected deposit downstream.
type Publisher func(event coin.DepositEvent) error

type Watcher struct {
	ledger  chain.Ledger
	store   Store
	sched   Scheduler
	publish Publisher
}

func New(ledger chain.Ledger, store Store, sched Scheduler, publish Publisher) *Watcher {
	return &Watcher{ledger: ledger, store: store, sched: sched, publish: publish}
}

// Run scans finalized blocks until ctx is cancelled. Any failure that
// escapes the scan loop is logged and retried after a long backoff, so
// a flaky fullnode never kills the process.
func (w *Watcher) Run(ctx context.Context) {
	for {
		if err := w.scanLoop(ctx); err != nil {
			logger.Logrus.WithFields(logrus.Fields{"ErrMsg": err}).Error("block scan loop failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(outerBackoff):
		}
	}
}

func (w *Watcher) scanLoop(ctx context.Context) error {
	checkpoint, err := w.ensureCheckpoint(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cfg := config.GetWatcherConfig()
		poll := time.Duration(cfg.PollSeconds) * time.Second

		head, err := w.ledger.Slot(ctx)
		if err != nil {
			metrics.FullnodeStatus.Set(0)
			logger.Logrus.WithFields(logrus.Fields{"ErrMsg": err}).Error("get head slot failed")
			w.sleep(ctx, innerBackoff)
			continue
		}
		metrics.FullnodeStatus.Set(1)
		metrics.FullnodeLastBlock.Set(float64(head))
		if blockTime, err := w.ledger.BlockTime(ctx, head); err == nil {
			metrics.FullnodeLastBlockTimestamp.Set(float64(blockTime))
		}

		if checkpoint > head {
			logger.Logrus.WithFields(logrus.Fields{
				"Checkpoint": checkpoint,
				"Head":       head,
			}).Error(errs.New(errs.KindChainInconsistency, "checkpoint is ahead of the chain").Error())
			w.sleep(ctx, poll)
			continue
		}
		if head-checkpoint < uint64(cfg.ParallelThreshold) {
			w.sleep(ctx, poll)
			continue
		}

		blocks, err := w.ledger.Blocks(ctx, checkpoint+1, head)
		if err != nil {
			logger.Logrus.WithFields(logrus.Fields{"From": checkpoint + 1, "To": head, "ErrMsg": err}).Error("list blocks failed")
			w.sleep(ctx, innerBackoff)
			continue
		}
		if len(blocks) == 0 {
			// Every slot in the range was skipped; nothing to scan.
			if err := w.commit(ctx, head); err != nil {
				logger.Logrus.WithFields(logrus.Fields{"Slot": head, "ErrMsg": err}).Error("save checkpoint failed")
				w.sleep(ctx, innerBackoff)
				continue
			}
			checkpoint = head
			continue
		}

		tracked, mints, err := w.trackedState(ctx)
		if err != nil {
			logger.Logrus.WithFields(logrus.Fields{"ErrMsg": err}).Error("load tracked addresses failed")
			w.sleep(ctx, innerBackoff)
			continue
		}

		advanced, err := w.scanChunks(ctx, blocks, head, tracked, mints)
		if advanced > 0 {
			checkpoint = advanced
		}
		if err != nil {
			metrics.WatcherScanErrors.Inc()
			logger.Logrus.WithFields(logrus.Fields{"Checkpoint": checkpoint, "ErrMsg": err}).Error("chunk scan failed, will rescan")
			w.sleep(ctx, innerBackoff)
		}
	}
}

// ensureCheckpoint loads the scan checkpoint, seeding it with the
// current head when absent. A locked checkpoint is never seeded; an
// operator has to set it by hand.
func (w *Watcher) ensureCheckpoint(ctx context.Context) (uint64, error) {
	checkpoint, ok, err := w.store.Checkpoint(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		return checkpoint, nil
	}
	if config.GetWalletConfig().LastBlockLocked {
		return 0, errs.New(errs.KindChainInconsistency, "checkpoint is locked but not set")
	}

	head, err := w.ledger.Slot(ctx)
	if err != nil {
		return 0, err
	}
	if err := w.store.InitCheckpoint(ctx, head); err != nil {
		return 0, err
	}
	logger.Logrus.WithFields(logrus.Fields{"Slot": head}).Warn("checkpoint initialized at current head")
	return head, nil
}

func (w *Watcher) trackedState(ctx context.Context) (map[string]bool, map[string]string, error) {
	addresses, err := w.store.AllAddresses(ctx)
	if err != nil {
		return nil, nil, err
	}
	tracked := make(map[string]bool, len(addresses))
	for _, address := range addresses {
		tracked[address] = true
	}
	return tracked, config.TokenMints(), nil
}

// scanChunks walks the pending blocks in worker-sized chunks. The
// checkpoint advances only after a whole chunk scanned cleanly, so a
// failed block is rescanned on the next pass instead of being lost.
// Returns the last committed slot, zero when nothing was committed.
func (w *Watcher) scanChunks(ctx context.Context, blocks []uint64, head uint64, tracked map[string]bool, mints map[string]string) (uint64, error) {
	workers := int(config.GetWatcherConfig().Workers)
	if workers < 1 {
		workers = 1
	}

	var committed uint64
	for start := 0; start < len(blocks); start += workers {
		end := start + workers
		if end > len(blocks) {
			end = len(blocks)
		}
		chunk := blocks[start:end]

		var wg sync.WaitGroup
		scanErrs := make([]error, len(chunk))
		for i, slot := range chunk {
			wg.Add(1)
			go func(i int, slot uint64) {
				defer wg.Done()
				scanErrs[i] = w.scanBlock(ctx, slot, head, tracked, mints)
			}(i, slot)
		}
		wg.Wait()

		for i, err := range scanErrs {
			if err != nil {
				return committed, errs.Wrap(errs.KindRPC, err, "scan block %d", chunk[i])
			}
		}

		last := chunk[len(chunk)-1]
		if err := w.commit(ctx, last); err != nil {
			return committed, err
		}
		committed = last
	}
	return committed, nil
}

func (w *Watcher) commit(ctx context.Context, slot uint64) error {
	if err := w.store.SaveCheckpoint(ctx, slot); err != nil {
		return err
	}
	metrics.WalletLastBlock.Set(float64(slot))
	if blockTime, err := w.ledger.BlockTime(ctx, slot); err == nil {
		metrics.WalletLastBlockTimestamp.Set(float64(blockTime))
	}
	return nil
}

// scanBlock inspects every settled transaction in one block for
// balance changes on tracked addresses.
func (w *Watcher) scanBlock(ctx context.Context, slot, head uint64, tracked map[string]bool, mints map[string]string) error {
	block, err := w.ledger.Block(ctx, slot)
	if err != nil {
		return err
	}
	if block == nil {
		return nil
	}
	confirmations := head - slot

	for i := range block.Transactions {
		txw := &block.Transactions[i]
		meta := txw.Meta
		if meta == nil || meta.Err != nil {
			continue
		}
		tx, err := txw.GetTransaction()
		if err != nil || tx == nil || len(tx.Signatures) == 0 {
			continue
		}
		txid := tx.Signatures[0].String()

		events := coin.ClassifyNative(tx.Message.AccountKeys, meta, tracked, confirmations)
		for mintStr, symbol := range mints {
			mint, err := solana.PublicKeyFromBase58(mintStr)
			if err != nil {
				continue
			}
			events = append(events, coin.ClassifyToken(meta, symbol, mint, tracked, confirmations)...)
		}
		if len(events) == 0 {
			continue
		}

		notified := make(map[string]bool)
		for _, event := range events {
			if err := w.publish(event); err != nil {
				logger.Logrus.WithFields(logrus.Fields{"TxID": txid, "Address": event.Address, "ErrMsg": err}).Error("publish deposit event failed")
			}
			if eventNotifiable(event) && !notified[event.Symbol] {
				notified[event.Symbol] = true
				w.sched.ScheduleWalletNotify(event.Symbol, txid)
			}
			if event.Category != coin.CategoryReceive || !event.Amount.IsPositive() {
				continue
			}
			metrics.DepositsDetected.WithLabelValues(event.Symbol).Inc()
			logger.Logrus.WithFields(logrus.Fields{
				"TxID":    txid,
				"Address": event.Address,
				"Symbol":  event.Symbol,
				"Amount":  event.Amount.String(),
			}).Info("deposit detected")
			w.sched.ScheduleDrain(event.Symbol, event.Address)
		}
	}
	return nil
}

// eventNotifiable reports whether an event moved funds and so is
// worth a gateway notification. Zero-delta classifications, the fee
// side of a token transfer or a freshly created token account, are
// bookkeeping noise for the gateway.
func eventNotifiable(event coin.DepositEvent) bool {
	switch event.Category {
	case coin.CategoryTokenTransaction, coin.CategoryInternalCreatedATA:
		return false
	}
	return !event.Amount.IsZero()
}

func (w *Watcher) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
