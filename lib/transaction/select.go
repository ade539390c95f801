package transaction

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/ledger"
)

// Policy holds the configurable knobs of selection and building.
type Policy struct {
	// DustLimit is the smallest change output that will be created. Change
	// below it is added to the fee instead.
	DustLimit btcutil.Amount

	Size SizePolicy
}

// DefaultPolicy is P2WPKH sizing with a 546 sat dust limit.
func DefaultPolicy() Policy {
	return Policy{
		DustLimit: DefaultDustLimit,
		Size:      P2WPKHSizePolicy,
	}
}

// Selection is the outcome of coin selection.
type Selection struct {
	Chosen []ledger.UTXO
	Target btcutil.Amount
	Fee    btcutil.Amount

	// Change is zero when no change output should be created.
	Change btcutil.Amount

	// DustAbsorbed is the part of Fee that came from change below the dust
	// limit.
	DustAbsorbed btcutil.Amount
}

// Total sums the chosen values.
func (s *Selection) Total() btcutil.Amount {
	var total btcutil.Amount
	for _, u := range s.Chosen {
		total += u.Value
	}
	return total
}

// CoinSelector picks inputs largest first.
type CoinSelector struct {
	Policy Policy
}

// NewCoinSelector returns a selector using policy.
func NewCoinSelector(policy Policy) *CoinSelector {
	return &CoinSelector{Policy: policy}
}

// SortCandidates returns a copy of utxos ordered by value descending, ties
// broken by ascending txid bytes and then output index.
func SortCandidates(utxos []ledger.UTXO) []ledger.UTXO {
	sorted := make([]ledger.UTXO, len(utxos))
	copy(sorted, utxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Value != sorted[j].Value {
			return sorted[i].Value > sorted[j].Value
		}
		return ledger.CompareOutPoints(sorted[i].OutPoint, sorted[j].OutPoint) < 0
	})
	return sorted
}

// Select accumulates candidates until they cover target plus the fee of a
// transaction with numRecipients outputs. The fee is re-estimated as every
// input is added. When the remainder after paying for a change output is at
// least the dust limit it becomes change; otherwise the whole remainder goes
// to the fee.
func (s *CoinSelector) Select(available []ledger.UTXO, target btcutil.Amount,
	numRecipients int, rate FeeRate, excludeChange bool) (*Selection, error) {

	if err := rate.Validate(); err != nil {
		return nil, err
	}
	if numRecipients < 1 {
		return nil, ErrNoRecipients
	}
	if target <= 0 {
		return nil, fmt.Errorf("%w: target %v", ErrInvalidAmount, target)
	}

	candidates := make([]ledger.UTXO, 0, len(available))
	for _, u := range available {
		if excludeChange && u.IsChange {
			continue
		}
		candidates = append(candidates, u)
	}
	candidates = SortCandidates(candidates)

	var (
		chosen []ledger.UTXO
		total  btcutil.Amount
		fee    btcutil.Amount
	)
	for _, u := range candidates {
		chosen = append(chosen, u)
		total += u.Value

		feeNoChange, err := s.Policy.Size.EstimateFee(len(chosen), numRecipients, rate)
		if err != nil {
			return nil, err
		}
		fee = feeNoChange
		if total-feeNoChange < target {
			continue
		}

		feeWithChange, err := s.Policy.Size.EstimateFee(len(chosen), numRecipients+1, rate)
		if err != nil {
			return nil, err
		}

		sel := &Selection{Chosen: chosen, Target: target}
		change := total - target - feeWithChange
		if change >= s.Policy.DustLimit {
			sel.Fee = feeWithChange
			sel.Change = change
		} else {
			sel.Fee = total - target
			sel.DustAbsorbed = sel.Fee - feeNoChange
		}
		return sel, nil
	}

	return nil, fmt.Errorf("%w: have %v, need %v plus fee %v",
		ErrInsufficientFunds, total, target, fee)
}
