package transaction

import (
	"errors"
	"fmt"

	"github.com/yuvraj-wale/sample-BDK-wallet/internal/logger"
)

var (
	// ErrNotReplaceable is returned when bumping a transaction that did not
	// signal replace-by-fee.
	ErrNotReplaceable = errors.New("transaction does not signal replace-by-fee")

	// ErrFeeNotIncreased is returned when the new rate does not raise the fee.
	ErrFeeNotIncreased = errors.New("replacement fee does not exceed the original")
)

// BumpFee rebuilds orig at rate over the same inputs and recipients. The
// extra fee comes out of the change output, which is dropped once it would
// fall below the dust limit. No inputs are added, so a bump the change
// cannot pay for fails with ErrInsufficientFunds.
func (s *CoinSelector) BumpFee(orig *BuiltTransaction, rate FeeRate) (*BuiltTransaction, error) {
	if err := rate.Validate(); err != nil {
		return nil, err
	}
	for i, in := range orig.Tx.TxIn {
		if in.Sequence > RBFSequenceNumber {
			return nil, fmt.Errorf("%w: input %d has sequence %#x",
				ErrNotReplaceable, i, in.Sequence)
		}
	}

	req := SpendRequest{FeeRate: rate, EnableRBF: true}
	for i, out := range orig.Outputs {
		if i == orig.ChangeIndex {
			continue
		}
		req.Recipients = append(req.Recipients, Recipient{PkScript: out.PkScript, Amount: out.Amount})
	}
	if len(req.Recipients) == 0 {
		return nil, ErrNoRecipients
	}

	n, m := len(orig.Inputs), len(req.Recipients)
	feeNoChange, err := s.Policy.Size.EstimateFee(n, m, rate)
	if err != nil {
		return nil, err
	}
	feeWithChange, err := s.Policy.Size.EstimateFee(n, m+1, rate)
	if err != nil {
		return nil, err
	}

	total, target := orig.InputTotal(), req.Target()
	if total-feeNoChange < target {
		return nil, fmt.Errorf("%w: inputs %v cannot pay %v plus fee %v",
			ErrInsufficientFunds, total, target, feeNoChange)
	}

	sel := &Selection{Chosen: orig.Inputs, Target: target}
	change := total - target - feeWithChange
	if orig.ChangeIndex >= 0 && change >= s.Policy.DustLimit {
		sel.Fee = feeWithChange
		sel.Change = change
	} else {
		sel.Fee = total - target
		sel.DustAbsorbed = sel.Fee - feeNoChange
	}
	if sel.Fee <= orig.Fee {
		return nil, fmt.Errorf("%w: %v at %v, was %v", ErrFeeNotIncreased, sel.Fee, rate, orig.Fee)
	}

	var changeSource ChangeSource
	if orig.ChangeIndex >= 0 {
		script := orig.Outputs[orig.ChangeIndex].PkScript
		index := orig.ChangeKeyIndex
		changeSource = func() ([]byte, uint32, error) { return script, index, nil }
	}

	built, err := Build(sel, req, changeSource)
	if err != nil {
		return nil, err
	}
	replaced := orig.TxHash()
	built.Replaces = &replaced

	logger.Infof("Bumped %v to %v: fee %v -> %v", replaced, built.TxHash(), orig.Fee, built.Fee)
	return built, nil
}
