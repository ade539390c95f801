package transaction

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// verifySignature runs the script engine over one input.
func verifySignature(tx *wire.MsgTx, index int, prevOut *wire.TxOut,
	prevOutputs txscript.PrevOutputFetcher, hashes *txscript.TxSigHashes) error {

	flags := txscript.StandardVerifyFlags
	engine, err := txscript.NewEngine(prevOut.PkScript, tx, index, flags, nil,
		hashes, prevOut.Value, prevOutputs)
	if err != nil {
		return fmt.Errorf("failed to create script engine: %w", err)
	}
	if err := engine.Execute(); err != nil {
		return fmt.Errorf("failed to execute script: %w", err)
	}
	return nil
}

// VerifyInputs checks every input of a finalized transaction against the
// outputs it spends.
func VerifyInputs(tx *wire.MsgTx, prevOutputs txscript.PrevOutputFetcher) error {
	hashes := txscript.NewTxSigHashes(tx, prevOutputs)
	for i, txIn := range tx.TxIn {
		prevOut := prevOutputs.FetchPrevOutput(txIn.PreviousOutPoint)
		if prevOut == nil {
			return fmt.Errorf("input %d: unknown previous output %v", i, txIn.PreviousOutPoint)
		}
		if err := verifySignature(tx, i, prevOut, prevOutputs, hashes); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	return nil
}
