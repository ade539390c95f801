package wallet

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/descriptor"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/logger"
	"github.com/yuvraj-wale/sample-BDK-wallet/lib/transaction"
)

// keyFor finds the wallet key behind a set of PSBT derivations.
func (w *Wallet) keyFor(derivations []*psbt.Bip32Derivation) (*descriptor.Descriptor, uint32, bool) {
	for _, desc := range []*descriptor.Descriptor{w.external, w.internal} {
		if desc == nil {
			continue
		}
		for _, d := range derivations {
			if d.MasterKeyFingerprint != desc.MasterFingerprint() {
				continue
			}
			if index, ok := desc.MatchPath(d.Bip32Path); ok {
				return desc, index, true
			}
		}
	}
	return nil, 0, false
}

// Sign adds a signature for every input the wallet holds a private key for
// and finalizes the packet once all inputs are signed. It reports whether the
// packet is finalized. A watch-only wallet leaves the packet untouched.
func (w *Wallet) Sign(packet *psbt.Packet) (bool, error) {
	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return false, fmt.Errorf("failed to create psbt updater: %w", err)
	}

	tx := packet.UnsignedTx
	fetcher := transaction.PrevOutputFetcher(packet)
	hashes := txscript.NewTxSigHashes(tx, fetcher)

	signed := 0
	for i, in := range packet.Inputs {
		if len(in.FinalScriptWitness) > 0 || len(in.PartialSigs) > 0 {
			signed++
			continue
		}
		if in.WitnessUtxo == nil {
			return false, fmt.Errorf("input %d: missing witness utxo", i)
		}

		desc, index, ok := w.keyFor(in.Bip32Derivation)
		if !ok || !desc.IsPrivate() {
			continue
		}
		key, err := desc.Derive(index)
		if err != nil {
			return false, fmt.Errorf("input %d: %w", i, err)
		}
		if !bytes.Equal(key.PkScript, in.WitnessUtxo.PkScript) {
			return false, fmt.Errorf("input %d: derivation does not match the spent script", i)
		}

		sigHashType := in.SighashType
		if sigHashType == 0 {
			sigHashType = txscript.SigHashAll
		}
		sig, err := txscript.RawTxInWitnessSignature(tx, hashes, i,
			in.WitnessUtxo.Value, in.WitnessUtxo.PkScript, sigHashType, key.PrivKey)
		if err != nil {
			return false, fmt.Errorf("input %d: failed to sign: %w", i, err)
		}

		outcome, err := updater.Sign(i, sig, key.PubKey.SerializeCompressed(), nil, nil)
		if err != nil {
			return false, fmt.Errorf("input %d: %w", i, err)
		}
		if outcome != psbt.SignSuccesful {
			return false, fmt.Errorf("input %d: signing outcome %d", i, outcome)
		}
		signed++
	}

	if signed == 0 {
		logger.Debugf("No inputs of %v could be signed", tx.TxHash())
		return false, nil
	}
	if signed < len(packet.Inputs) {
		logger.Infof("Signed %d of %d inputs of %v", signed, len(packet.Inputs), tx.TxHash())
		return false, w.saveBuilt(packet, packetFee(packet))
	}

	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return false, fmt.Errorf("failed to finalize psbt: %w", err)
	}
	final, err := psbt.Extract(packet)
	if err != nil {
		return false, fmt.Errorf("failed to extract transaction: %w", err)
	}
	if err := transaction.VerifyInputs(final, fetcher); err != nil {
		return false, fmt.Errorf("signed transaction does not verify: %w", err)
	}

	logger.Infof("Finalized transaction %v", final.TxHash())
	return true, w.saveBuilt(packet, packetFee(packet))
}

// packetFee is the fee implied by the witness utxos of a packet.
func packetFee(packet *psbt.Packet) btcutil.Amount {
	var fee int64
	for _, in := range packet.Inputs {
		if in.WitnessUtxo != nil {
			fee += in.WitnessUtxo.Value
		}
	}
	for _, out := range packet.UnsignedTx.TxOut {
		fee -= out.Value
	}
	return btcutil.Amount(fee)
}

func serializeFinal(packet *psbt.Packet) ([]byte, error) {
	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, fmt.Errorf("failed to extract transaction: %w", err)
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
