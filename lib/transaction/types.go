package transaction

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/ledger"
)

type FeeRecommendation struct {
	FastestFee  int `json:"fastestFee"`
	HalfHourFee int `json:"halfHourFee"`
	HourFee     int `json:"hourFee"`
	EconomyFee  int `json:"economyFee"`
	MinimumFee  int `json:"minimumFee"`
}

// Recipient is one explicit payment.
type Recipient struct {
	PkScript []byte
	Amount   btcutil.Amount
}

// SpendRequest describes what the caller wants paid.
type SpendRequest struct {
	Recipients []Recipient
	FeeRate    FeeRate

	// AllowChangeSpend lets outputs received on the internal keychain be
	// used as inputs.
	AllowChangeSpend bool

	EnableRBF bool
}

// Target is the sum of all recipient amounts.
func (r SpendRequest) Target() btcutil.Amount {
	var total btcutil.Amount
	for _, rcpt := range r.Recipients {
		total += rcpt.Amount
	}
	return total
}

// Output is a built transaction output.
type Output struct {
	PkScript []byte
	Amount   btcutil.Amount
	IsChange bool
}

// BuiltTransaction is an unsigned transaction together with the wallet data
// needed to sign it.
type BuiltTransaction struct {
	Inputs  []ledger.UTXO
	Outputs []Output
	Fee     btcutil.Amount

	// ChangeIndex is the output index of the change output, or -1.
	ChangeIndex int

	// ChangeKeyIndex is the internal keychain index the change pays to.
	ChangeKeyIndex uint32

	Sequence    uint32
	IsFinalized bool

	// Replaces is the txid this transaction bumps, if any.
	Replaces *chainhash.Hash

	Tx *wire.MsgTx
}

// TxHash returns the hash of the unsigned transaction.
func (t *BuiltTransaction) TxHash() chainhash.Hash {
	return t.Tx.TxHash()
}

// InputTotal sums the input values.
func (t *BuiltTransaction) InputTotal() btcutil.Amount {
	var total btcutil.Amount
	for _, in := range t.Inputs {
		total += in.Value
	}
	return total
}

// OutputTotal sums the output values.
func (t *BuiltTransaction) OutputTotal() btcutil.Amount {
	var total btcutil.Amount
	for _, out := range t.Outputs {
		total += out.Amount
	}
	return total
}

// ChangeAmount returns the change value, zero when there is no change output.
func (t *BuiltTransaction) ChangeAmount() btcutil.Amount {
	if t.ChangeIndex < 0 {
		return 0
	}
	return t.Outputs[t.ChangeIndex].Amount
}
