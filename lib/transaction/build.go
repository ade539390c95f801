package transaction

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/looplab/fsm"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/logger"
)

const (
	RBFSequenceNumber    = wire.MaxTxInSequenceNum - 2
	NonRBFSequenceNumber = wire.MaxTxInSequenceNum - 1

	txVersion = 2
)

// Build states. A build only reaches stateReady once inputs equal outputs
// plus fee.
const (
	stateDrafting = "drafting"
	stateBalanced = "balanced"
	stateReady    = "ready"

	eventBalance = "balance"
	eventFinish  = "finish"
)

// ChangeSource hands out a fresh internal script for change, together with
// its derivation index.
type ChangeSource func() (pkScript []byte, index uint32, err error)

func newBuildFSM(tx *BuiltTransaction) *fsm.FSM {
	return fsm.NewFSM(
		stateDrafting,
		fsm.Events{
			{Name: eventBalance, Src: []string{stateDrafting}, Dst: stateBalanced},
			{Name: eventFinish, Src: []string{stateBalanced}, Dst: stateReady},
		},
		fsm.Callbacks{
			"before_" + eventFinish: func(_ context.Context, e *fsm.Event) {
				if err := checkBalanced(tx); err != nil {
					e.Cancel(err)
				}
			},
		},
	)
}

// Build turns a selection into an unsigned transaction paying req's
// recipients, followed by a change output when sel carries change.
func Build(sel *Selection, req SpendRequest, newChange ChangeSource) (*BuiltTransaction, error) {
	if len(req.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if err := req.FeeRate.Validate(); err != nil {
		return nil, err
	}
	if sel == nil || len(sel.Chosen) == 0 {
		return nil, fmt.Errorf("%w: empty selection", ErrInsufficientFunds)
	}
	if sel.Target != req.Target() {
		return nil, fmt.Errorf("%w: selection covers %v, request pays %v",
			ErrInvalidAmount, sel.Target, req.Target())
	}

	built := &BuiltTransaction{
		Inputs:      sel.Chosen,
		ChangeIndex: -1,
		Sequence:    NonRBFSequenceNumber,
	}
	if req.EnableRBF {
		built.Sequence = RBFSequenceNumber
	}
	machine := newBuildFSM(built)

	tx := wire.NewMsgTx(txVersion)
	for _, in := range sel.Chosen {
		op := in.OutPoint
		txIn := wire.NewTxIn(&op, nil, nil)
		txIn.Sequence = built.Sequence
		tx.AddTxIn(txIn)
	}

	for i, rcpt := range req.Recipients {
		txOut := wire.NewTxOut(int64(rcpt.Amount), rcpt.PkScript)
		if err := txrules.CheckOutput(txOut, txrules.DefaultRelayFeePerKb); err != nil {
			return nil, fmt.Errorf("%w: recipient %d: %v", ErrInvalidAmount, i, err)
		}
		tx.AddTxOut(txOut)
		built.Outputs = append(built.Outputs, Output{
			PkScript: rcpt.PkScript,
			Amount:   rcpt.Amount,
		})
	}

	if sel.Change > 0 {
		if newChange == nil {
			return nil, fmt.Errorf("change of %v but no change source", sel.Change)
		}
		script, index, err := newChange()
		if err != nil {
			return nil, fmt.Errorf("failed to get change script: %w", err)
		}
		built.ChangeIndex = len(built.Outputs)
		built.ChangeKeyIndex = index
		built.Outputs = append(built.Outputs, Output{
			PkScript: script,
			Amount:   sel.Change,
			IsChange: true,
		})
		tx.AddTxOut(wire.NewTxOut(int64(sel.Change), script))
	} else if sel.DustAbsorbed > 0 {
		logger.Infof("Change of %v is below the dust limit, adding it to the fee", sel.DustAbsorbed)
	}

	built.Fee = sel.Fee
	built.Tx = tx

	ctx := context.Background()
	if err := machine.Event(ctx, eventBalance); err != nil {
		return nil, err
	}
	if err := machine.Event(ctx, eventFinish); err != nil {
		panic(fmt.Errorf("%w: %v", ErrInternalInconsistency, err))
	}

	logger.Debugf("Built tx %v: %d inputs, %d outputs, fee %v",
		built.TxHash(), len(built.Inputs), len(built.Outputs), built.Fee)
	return built, nil
}

// checkBalanced verifies inputs == outputs + fee, both on our records and on
// the wire transaction.
func checkBalanced(t *BuiltTransaction) error {
	in, out := t.InputTotal(), t.OutputTotal()
	if in != out+t.Fee {
		return fmt.Errorf("inputs %v != outputs %v + fee %v", in, out, t.Fee)
	}
	if t.Fee < 0 {
		return fmt.Errorf("negative fee %v", t.Fee)
	}

	if len(t.Tx.TxIn) != len(t.Inputs) || len(t.Tx.TxOut) != len(t.Outputs) {
		return fmt.Errorf("wire tx has %d/%d inputs/outputs, expected %d/%d",
			len(t.Tx.TxIn), len(t.Tx.TxOut), len(t.Inputs), len(t.Outputs))
	}
	var wireOut int64
	for _, o := range t.Tx.TxOut {
		wireOut += o.Value
	}
	if wireOut != int64(out) {
		return fmt.Errorf("wire outputs %d != %v", wireOut, out)
	}

	return nil
}

// MustBeBalanced panics with ErrInternalInconsistency when t does not
// balance.
func MustBeBalanced(t *BuiltTransaction) {
	if err := checkBalanced(t); err != nil {
		panic(fmt.Errorf("%w: %v", ErrInternalInconsistency, err))
	}
}
