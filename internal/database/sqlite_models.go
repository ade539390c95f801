package walletstatedb

import (
	"time"

	"gorm.io/gorm"
)

// SQLiteAddress is a derived address of one keychain.
type SQLiteAddress struct {
	gorm.Model
	AddrType    string `gorm:"uniqueIndex:idx_type_index"` // receive or change
	Index       uint32 `gorm:"uniqueIndex:idx_type_index"`
	Address     string `gorm:"uniqueIndex"`
	Status      string `gorm:"index"` // available, allocated, used
	AllocatedAt *time.Time
	UsedAt      *time.Time
	BlockHeight *int32
}

// SQLiteUTXO is a wallet output, spent or not.
type SQLiteUTXO struct {
	gorm.Model
	TxID          string `gorm:"uniqueIndex:idx_utxo_outpoint"`
	Vout          uint32 `gorm:"uniqueIndex:idx_utxo_outpoint"`
	Value         int64
	PkScript      []byte
	Confirmations uint32
	BlockHeight   int32
	IsChange      bool
	KeyIndex      uint32
	Spent         bool `gorm:"index"`
}

// SQLiteBuiltTransaction is a transaction the wallet built.
type SQLiteBuiltTransaction struct {
	gorm.Model
	TxID      string `gorm:"uniqueIndex"`
	PSBT      string
	RawTx     []byte
	Fee       int64
	Finalized bool
}

// SQLiteMetadata stores miscellaneous metadata about the wallet
type SQLiteMetadata struct {
	gorm.Model
	Key   string `gorm:"uniqueIndex"`
	Value string
}
