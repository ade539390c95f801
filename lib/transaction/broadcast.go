package transaction

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/logger"
)

// Broadcaster publishes a signed transaction.
type Broadcaster interface {
	Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error)
}

// EsploraEndpoints returns the public esplora style push endpoints for a
// network.
func EsploraEndpoints(params *chaincfg.Params) []string {
	switch params.Net {
	case chaincfg.MainNetParams.Net:
		return []string{
			"https://mempool.space/api/tx",
			"https://blockstream.info/api/tx",
		}
	case chaincfg.TestNet3Params.Net:
		return []string{
			"https://mempool.space/testnet/api/tx",
			"https://blockstream.info/testnet/api/tx",
		}
	case chaincfg.SigNetParams.Net:
		return []string{"https://mempool.space/signet/api/tx"}
	default:
		return nil
	}
}

// APIBroadcaster posts the raw transaction hex to each endpoint in turn until
// one accepts it.
type APIBroadcaster struct {
	Endpoints []string
	Client    *http.Client
}

func (a *APIBroadcaster) Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return chainhash.Hash{}, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	txHex := hex.EncodeToString(buf.Bytes())

	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	var errs []error
	for _, url := range a.Endpoints {
		err := broadcastToAPI(ctx, client, url, txHex)
		if err == nil {
			return tx.TxHash(), nil
		}
		logger.Warnf("%s broadcast failed: %v", url, err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return chainhash.Hash{}, errors.New("no broadcast endpoints configured")
	}
	return chainhash.Hash{}, fmt.Errorf("all API broadcasts failed: %w", errors.Join(errs...))
}

func broadcastToAPI(ctx context.Context, client *http.Client, url, txHex string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(txHex))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status code %d: %s", resp.StatusCode, string(body))
	}
	logger.Infof("Transaction broadcast via %s: %s", url, strings.TrimSpace(string(body)))
	return nil
}

// FallbackBroadcaster tries each broadcaster in order.
type FallbackBroadcaster []Broadcaster

func (f FallbackBroadcaster) Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	var errs []error
	for _, b := range f {
		txid, err := b.Broadcast(ctx, tx)
		if err == nil {
			return txid, nil
		}
		errs = append(errs, err)
	}
	return chainhash.Hash{}, fmt.Errorf("broadcast failed: %w", errors.Join(errs...))
}
