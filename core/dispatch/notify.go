package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solpine/sol_wallet/config"
	"github.com/solpine/sol_wallet/utils/logger"
)

const notifyRetryDelay = 10 * time.Second

var notifyClient = &http.Client{Timeout: 30 * time.Second}

func postGateway(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Backend-Key", config.GetGatewayConfig().Key)

	res, err := notifyClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway responded %s", res.Status)
	}
	return nil
}

// PostPayoutResults delivers payout results to the gateway. Losing a
// notification is worse than delaying it, so delivery retries forever
// with a fixed delay; only context cancellation stops it.
func PostPayoutResults(ctx context.Context, symbol string, results interface{}) error {
	url := fmt.Sprintf("http://%s/api/v1/payoutnotify/%s", config.GetGatewayConfig().Host, symbol)
	for {
		err := postGateway(ctx, url, results)
		if err == nil {
			return nil
		}
		logger.Logrus.WithFields(logrus.Fields{"Symbol": symbol, "ErrMsg": err}).Error("payout notification failed, will retry")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(notifyRetryDelay):
		}
	}
}

// WalletNotify tells the gateway about a transaction touching a
// tracked address. Same infinite-retry contract as payout results.
func WalletNotify(ctx context.Context, symbol, txid string) error {
	url := fmt.Sprintf("http://%s/api/v1/walletnotify/%s/%s", config.GetGatewayConfig().Host, symbol, txid)
	for {
		err := postGateway(ctx, url, nil)
		if err == nil {
			return nil
		}
		logger.Logrus.WithFields(logrus.Fields{"Symbol": symbol, "TxID": txid, "ErrMsg": err}).Error("wallet notification failed, will retry")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(notifyRetryDelay):
		}
	}
}
