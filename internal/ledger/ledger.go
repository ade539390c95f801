// Package ledger keeps the wallet's view of spendable outputs.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/logger"
)

// ErrAlreadySpent is returned by MarkSpent when an outpoint is not in the
// available set.
var ErrAlreadySpent = errors.New("outpoint already spent")

// UTXO is an unspent output owned by one of the wallet's keychains. Values are
// never mutated once observed; a new sync produces new records.
type UTXO struct {
	OutPoint      wire.OutPoint
	Value         btcutil.Amount
	PkScript      []byte
	Confirmations uint32
	Height        int32
	IsChange      bool

	// Index is the derivation index on the keychain selected by IsChange.
	Index uint32
}

// Balance splits the ledger value by confirmation status.
type Balance struct {
	Confirmed   btcutil.Amount
	Unconfirmed btcutil.Amount
}

// Total returns confirmed plus unconfirmed value.
func (b Balance) Total() btcutil.Amount {
	return b.Confirmed + b.Unconfirmed
}

// Source produces UTXO snapshots, typically from a chain backend.
type Source interface {
	FetchUTXOs(ctx context.Context) ([]UTXO, error)
}

// Store persists the ledger between runs.
type Store interface {
	LoadUTXOs() ([]UTXO, []wire.OutPoint, error)
	SaveUTXOs(unspent []UTXO, spent []wire.OutPoint) error
}

// Ledger holds the available UTXO set. All mutations go through a single
// writer lock so selection never observes a half applied spend.
type Ledger struct {
	mu    sync.RWMutex
	utxos map[wire.OutPoint]UTXO

	// spent holds outpoints consumed by transactions we built but that the
	// chain source may still report as unspent.
	spent map[wire.OutPoint]struct{}

	store Store
}

// New creates a ledger, restoring any state held by store. A nil store keeps
// the ledger purely in memory.
func New(store Store) (*Ledger, error) {
	l := &Ledger{
		utxos: make(map[wire.OutPoint]UTXO),
		spent: make(map[wire.OutPoint]struct{}),
		store: store,
	}

	if store == nil {
		return l, nil
	}

	unspent, spent, err := store.LoadUTXOs()
	if err != nil {
		return nil, fmt.Errorf("failed to load utxos: %w", err)
	}
	for _, op := range spent {
		l.spent[op] = struct{}{}
	}
	for _, u := range unspent {
		if _, ok := l.spent[u.OutPoint]; ok {
			continue
		}
		l.utxos[u.OutPoint] = u
	}

	logger.Debugf("Ledger restored with %d utxos and %d pending spends", len(l.utxos), len(l.spent))
	return l, nil
}

// AvailableUTXOs returns a snapshot of spendable outputs ordered by outpoint.
// Outputs received on the internal keychain are left out unless includeChange
// is set.
func (l *Ledger) AvailableUTXOs(includeChange bool) []UTXO {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]UTXO, 0, len(l.utxos))
	for _, u := range l.utxos {
		if u.IsChange && !includeChange {
			continue
		}
		out = append(out, u)
	}
	sortByOutPoint(out)

	return out
}

// Balance sums the available set.
func (l *Ledger) Balance() Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var b Balance
	for _, u := range l.utxos {
		if u.Confirmations > 0 {
			b.Confirmed += u.Value
		} else {
			b.Unconfirmed += u.Value
		}
	}

	return b
}

// MarkSpent removes outpoints from the available set. It either marks every
// outpoint or none of them.
func (l *Ledger) MarkSpent(outpoints ...wire.OutPoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[wire.OutPoint]struct{}, len(outpoints))
	for _, op := range outpoints {
		if _, ok := l.utxos[op]; !ok {
			return fmt.Errorf("%w: %v", ErrAlreadySpent, op)
		}
		if _, dup := seen[op]; dup {
			return fmt.Errorf("%w: %v listed twice", ErrAlreadySpent, op)
		}
		seen[op] = struct{}{}
	}

	utxos := make(map[wire.OutPoint]UTXO, len(l.utxos))
	for op, u := range l.utxos {
		if _, ok := seen[op]; !ok {
			utxos[op] = u
		}
	}
	spent := make(map[wire.OutPoint]struct{}, len(l.spent)+len(seen))
	for op := range l.spent {
		spent[op] = struct{}{}
	}
	for op := range seen {
		spent[op] = struct{}{}
	}

	if err := l.persist(utxos, spent); err != nil {
		return err
	}

	l.utxos, l.spent = utxos, spent
	return nil
}

// Replace swaps in a fresh snapshot. Outpoints we already spent stay hidden
// until the source stops reporting them.
func (l *Ledger) Replace(snapshot []UTXO) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	utxos := make(map[wire.OutPoint]UTXO, len(snapshot))
	spent := make(map[wire.OutPoint]struct{})
	for _, u := range snapshot {
		if _, ok := l.spent[u.OutPoint]; ok {
			spent[u.OutPoint] = struct{}{}
			continue
		}
		utxos[u.OutPoint] = u
	}

	if err := l.persist(utxos, spent); err != nil {
		return err
	}

	if dropped := len(l.spent) - len(spent); dropped > 0 {
		logger.Debugf("%d pending spends no longer reported by source", dropped)
	}
	l.utxos, l.spent = utxos, spent
	return nil
}

// Sync refreshes the ledger from src. The fetch runs without holding the lock
// and may be cancelled through ctx.
func (l *Ledger) Sync(ctx context.Context, src Source) error {
	snapshot, err := src.FetchUTXOs(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch utxos: %w", err)
	}

	if err := l.Replace(snapshot); err != nil {
		return err
	}

	logger.Infof("Ledger synced: %d utxos", len(snapshot))
	return nil
}

func (l *Ledger) persist(utxos map[wire.OutPoint]UTXO, spent map[wire.OutPoint]struct{}) error {
	if l.store == nil {
		return nil
	}

	unspent := make([]UTXO, 0, len(utxos))
	for _, u := range utxos {
		unspent = append(unspent, u)
	}
	sortByOutPoint(unspent)

	spentList := make([]wire.OutPoint, 0, len(spent))
	for op := range spent {
		spentList = append(spentList, op)
	}
	sort.Slice(spentList, func(i, j int) bool {
		return CompareOutPoints(spentList[i], spentList[j]) < 0
	})

	if err := l.store.SaveUTXOs(unspent, spentList); err != nil {
		return fmt.Errorf("failed to persist ledger: %w", err)
	}

	return nil
}

// CompareOutPoints orders outpoints by txid bytes, then by output index.
func CompareOutPoints(a, b wire.OutPoint) int {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c
	}
	switch {
	case a.Index < b.Index:
		return -1
	case a.Index > b.Index:
		return 1
	}
	return 0
}

func sortByOutPoint(utxos []UTXO) {
	sort.Slice(utxos, func(i, j int) bool {
		return CompareOutPoints(utxos[i].OutPoint, utxos[j].OutPoint) < 0
	})
}
