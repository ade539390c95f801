package transaction

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Derivation is the BIP32 origin of a wallet key.
type Derivation struct {
	PubKey      []byte
	Fingerprint uint32
	Path        []uint32
}

// KeyLookup resolves the derivation of a keychain index.
type KeyLookup interface {
	Derivation(isChange bool, index uint32) (*Derivation, error)
}

// ToPSBT wraps the unsigned transaction in a PSBT packet carrying the witness
// UTXO of every input and, when lookup is set, the BIP32 derivations of the
// inputs and the change output.
func ToPSBT(built *BuiltTransaction, lookup KeyLookup) (*psbt.Packet, error) {
	packet, err := psbt.NewFromUnsignedTx(built.Tx.Copy())
	if err != nil {
		return nil, fmt.Errorf("failed to create psbt: %w", err)
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, fmt.Errorf("failed to create psbt updater: %w", err)
	}

	for i, in := range built.Inputs {
		utxo := wire.NewTxOut(int64(in.Value), in.PkScript)
		if err := updater.AddInWitnessUtxo(utxo, i); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		if err := updater.AddInSighashType(txscript.SigHashAll, i); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		if lookup == nil {
			continue
		}
		d, err := lookup.Derivation(in.IsChange, in.Index)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		err = updater.AddInBip32Derivation(d.Fingerprint, d.Path, d.PubKey, i)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}

	if lookup != nil && built.ChangeIndex >= 0 {
		d, err := lookup.Derivation(true, built.ChangeKeyIndex)
		if err != nil {
			return nil, fmt.Errorf("change output: %w", err)
		}
		err = updater.AddOutBip32Derivation(d.Fingerprint, d.Path, d.PubKey, built.ChangeIndex)
		if err != nil {
			return nil, fmt.Errorf("change output: %w", err)
		}
	}

	return packet, nil
}

// PrevOutputFetcher builds a fetcher from the witness UTXOs of a packet.
func PrevOutputFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range packet.UnsignedTx.TxIn {
		in := packet.Inputs[idx]
		switch {
		case in.WitnessUtxo != nil:
			fetcher.AddPrevOut(txIn.PreviousOutPoint, in.WitnessUtxo)
		case in.NonWitnessUtxo != nil:
			prevIndex := txIn.PreviousOutPoint.Index
			fetcher.AddPrevOut(txIn.PreviousOutPoint, in.NonWitnessUtxo.TxOut[prevIndex])
		}
	}
	return fetcher
}
