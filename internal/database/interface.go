package walletstatedb

import (
	"github.com/btcsuite/btcd/wire"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/ledger"
)

// DatabaseInterface defines the persisted state of a descriptor wallet.
type DatabaseInterface interface {
	ledger.Store

	// Address operations
	SaveAddress(address Address) error
	GetAddresses(addrType string) ([]Address, error)
	MarkAddressAsUsed(address string, blockHeight int32) error
	GetUnusedAddress(addrType string) (*Address, error)
	AllocateAddress(addrType string) (*Address, error)
	GetLastAddressIndex(addrType string) (int64, error)

	// Last scanned block height
	SetLastScannedBlockHeight(height int32) error
	GetLastScannedBlockHeight() (int32, error)

	// Built transactions
	SaveBuiltTransaction(tx BuiltTransaction) error
	GetBuiltTransaction(txid string) (*BuiltTransaction, error)
	ListBuiltTransactions() ([]BuiltTransaction, error)

	Close() error
}

var _ DatabaseInterface = (*Store)(nil)

// outpointKey is the (txid, vout) pair a UTXO row is keyed by.
func outpointKey(op wire.OutPoint) (string, uint32) {
	return op.Hash.String(), op.Index
}
