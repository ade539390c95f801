package electrum

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/descriptor"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/ledger"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/logger"
	"github.com/yuvraj-wale/sample-BDK-wallet/lib/transaction"
)

const DefaultGapLimit = 20

var ErrNoFeeEstimate = errors.New("server has no fee estimate")

// Source is a ledger source scanning both keychains of a descriptor wallet.
type Source struct {
	client   Client
	external *descriptor.Descriptor
	internal *descriptor.Descriptor
	gapLimit uint32

	mu       sync.Mutex
	lastUsed map[bool]int64
	tip      int32
}

// NewSource scans external and, when set, internal. Scanning a keychain stops
// after gapLimit consecutive unused indexes.
func NewSource(client Client, external, internal *descriptor.Descriptor, gapLimit uint32) *Source {
	if gapLimit == 0 {
		gapLimit = DefaultGapLimit
	}
	return &Source{
		client:   client,
		external: external,
		internal: internal,
		gapLimit: gapLimit,
		lastUsed: map[bool]int64{false: -1, true: -1},
	}
}

// TipHeight asks the server for the current chain tip.
func (s *Source) TipHeight(ctx context.Context) (int32, error) {
	headers, err := s.client.SubscribeHeaders(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to subscribe to headers: %w", err)
	}

	select {
	case header, ok := <-headers:
		if !ok || header == nil {
			return 0, errors.New("header subscription closed")
		}
		return header.Height, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// FetchUTXOs returns every unspent output paying to either keychain.
func (s *Source) FetchUTXOs(ctx context.Context) ([]ledger.UTXO, error) {
	tip, err := s.TipHeight(ctx)
	if err != nil {
		return nil, err
	}

	utxos, lastExternal, err := s.scan(ctx, s.external, false, tip)
	if err != nil {
		return nil, fmt.Errorf("external keychain: %w", err)
	}

	lastInternal := int64(-1)
	if s.internal != nil {
		var change []ledger.UTXO
		change, lastInternal, err = s.scan(ctx, s.internal, true, tip)
		if err != nil {
			return nil, fmt.Errorf("internal keychain: %w", err)
		}
		utxos = append(utxos, change...)
	}

	s.mu.Lock()
	s.tip = tip
	s.lastUsed[false] = lastExternal
	s.lastUsed[true] = lastInternal
	s.mu.Unlock()

	logger.Infof("Fetched %d unspent outputs at tip %d", len(utxos), tip)
	return utxos, nil
}

func (s *Source) scan(ctx context.Context, desc *descriptor.Descriptor, isChange bool,
	tip int32) ([]ledger.UTXO, int64, error) {

	var (
		utxos    []ledger.UTXO
		lastUsed = int64(-1)
		gap      uint32
	)
	for index := uint32(0); gap < s.gapLimit; index++ {
		key, err := desc.Derive(index)
		if err != nil {
			return nil, 0, err
		}
		scriptHash := ScriptHash(key.PkScript)

		history, err := s.client.GetHistory(ctx, scriptHash)
		if err != nil {
			return nil, 0, fmt.Errorf("history of %s: %w", key.Address, err)
		}
		if len(history) == 0 {
			gap++
			continue
		}
		gap = 0
		lastUsed = int64(index)

		unspent, err := s.client.ListUnspent(ctx, scriptHash)
		if err != nil {
			return nil, 0, fmt.Errorf("unspent of %s: %w", key.Address, err)
		}
		for _, u := range unspent {
			hash, err := chainhash.NewHashFromStr(u.Hash)
			if err != nil {
				return nil, 0, fmt.Errorf("bad txid %q: %w", u.Hash, err)
			}
			utxos = append(utxos, ledger.UTXO{
				OutPoint:      wire.OutPoint{Hash: *hash, Index: u.Position},
				Value:         btcutil.Amount(u.Value),
				PkScript:      key.PkScript,
				Confirmations: confirmations(int32(u.Height), tip),
				Height:        int32(u.Height),
				IsChange:      isChange,
				Index:         index,
			})
		}
	}

	logger.Debugf("Scanned keychain change=%v, last used index %d", isChange, lastUsed)
	return utxos, lastUsed, nil
}

func confirmations(height, tip int32) uint32 {
	if height <= 0 || tip < height {
		return 0
	}
	return uint32(tip-height) + 1
}

// LastUsed returns the highest index with history seen by the last fetch.
func (s *Source) LastUsed(isChange bool) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.lastUsed[isChange]
	if last < 0 {
		return 0, false
	}
	return uint32(last), true
}

// Tip returns the tip height seen by the last fetch.
func (s *Source) Tip() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tip
}

// FeeEstimator is a transaction.FeeSource backed by blockchain.estimatefee.
type FeeEstimator struct {
	Client Client
	Blocks uint32
}

func (f *FeeEstimator) FeeRate(ctx context.Context) (transaction.FeeRate, error) {
	blocks := f.Blocks
	if blocks == 0 {
		blocks = 6
	}
	btcPerKB, err := f.Client.GetFee(ctx, blocks)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate fee: %w", err)
	}
	if btcPerKB <= 0 {
		return 0, ErrNoFeeEstimate
	}

	perKB, err := btcutil.NewAmount(float64(btcPerKB))
	if err != nil {
		return 0, err
	}
	return transaction.FeeRateFromSatPerKVByte(perKB), nil
}

// Broadcaster publishes through blockchain.transaction.broadcast.
type Broadcaster struct {
	Client Client
}

func (b *Broadcaster) Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return chainhash.Hash{}, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	txid, err := b.Client.BroadcastTransaction(ctx, hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("electrum broadcast failed: %w", err)
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("server returned bad txid %q: %w", txid, err)
	}
	logger.Infof("Transaction broadcast via electrum: %s", hash)
	return *hash, nil
}

// InMempool reports whether the server knows the transaction.
func (b *Broadcaster) InMempool(ctx context.Context, txid chainhash.Hash) (bool, error) {
	raw, err := b.Client.GetRawTransaction(ctx, txid.String())
	if err != nil {
		return false, fmt.Errorf("error checking electrum mempool: %w", err)
	}
	return raw != "", nil
}
