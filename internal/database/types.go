package walletstatedb

import "time"

const (
	AddrTypeReceive = "receive"
	AddrTypeChange  = "change"

	AddressStatusAvailable = "available"
	AddressStatusAllocated = "allocated"
	AddressStatusUsed      = "used"

	LastScannedBlockKey = "last_scanned_block_height"
)

type Address struct {
	AddrType    string
	Index       uint32
	Address     string
	Status      string
	AllocatedAt *time.Time
	UsedAt      *time.Time
	BlockHeight *int32
}

// BuiltTransaction is the stored record of a transaction the wallet built.
type BuiltTransaction struct {
	TxID      string
	PSBT      string
	RawTx     []byte
	Fee       int64
	Finalized bool
	CreatedAt time.Time
}

// AddrType maps a keychain to its address type.
func AddrType(isChange bool) string {
	if isChange {
		return AddrTypeChange
	}
	return AddrTypeReceive
}
