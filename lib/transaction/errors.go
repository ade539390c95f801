package transaction

import (
	"errors"

	"github.com/yuvraj-wale/sample-BDK-wallet/internal/ledger"
)

var (
	// ErrInvalidFeeRate is returned for a fee rate that is not positive.
	ErrInvalidFeeRate = errors.New("invalid fee rate")

	// ErrInsufficientFunds is returned when no selection covers target + fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNoRecipients is returned when a spend has no outputs.
	ErrNoRecipients = errors.New("no recipients")

	// ErrInvalidAmount is returned for a non-positive or unrelayable amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAlreadySpent is the ledger's double spend error.
	ErrAlreadySpent = ledger.ErrAlreadySpent

	// ErrInternalInconsistency marks a transaction whose inputs do not equal
	// outputs plus fee. It is only ever raised through a panic.
	ErrInternalInconsistency = errors.New("internal inconsistency")
)
