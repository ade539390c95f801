package walletstatedb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/ledger"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var (
	ErrNoAvailableAddress = errors.New("no available addresses")
	ErrAddressNotFound    = errors.New("address not found")
	ErrTxNotFound         = errors.New("transaction not found")
)

// Store is the SQLite backed wallet state.
type Store struct {
	db *gorm.DB
}

// InitSQLiteDB opens or creates the database at dbPath and migrates it.
func InitSQLiteDB(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := ensureDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Configure GORM to be less verbose
	config := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Error),
	}

	db, err := gorm.Open(sqlite.Open(dbPath), config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&SQLiteAddress{},
		&SQLiteUTXO{},
		&SQLiteBuiltTransaction{},
		&SQLiteMetadata{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Debugf("SQLite database initialized at %s", dbPath)
	return &Store{db: db}, nil
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LoadUTXOs implements ledger.Store.
func (s *Store) LoadUTXOs() ([]ledger.UTXO, []wire.OutPoint, error) {
	var rows []SQLiteUTXO
	if err := s.db.Order("tx_id, vout").Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	var (
		unspent []ledger.UTXO
		spent   []wire.OutPoint
	)
	for _, row := range rows {
		hash, err := chainhash.NewHashFromStr(row.TxID)
		if err != nil {
			return nil, nil, fmt.Errorf("corrupt utxo row %d: %w", row.ID, err)
		}
		op := wire.OutPoint{Hash: *hash, Index: row.Vout}
		if row.Spent {
			spent = append(spent, op)
			continue
		}
		unspent = append(unspent, ledger.UTXO{
			OutPoint:      op,
			Value:         btcutil.Amount(row.Value),
			PkScript:      row.PkScript,
			Confirmations: row.Confirmations,
			Height:        row.BlockHeight,
			IsChange:      row.IsChange,
			Index:         row.KeyIndex,
		})
	}
	return unspent, spent, nil
}

// SaveUTXOs implements ledger.Store by replacing the stored set.
func (s *Store) SaveUTXOs(unspent []ledger.UTXO, spent []wire.OutPoint) error {
	rows := make([]SQLiteUTXO, 0, len(unspent)+len(spent))
	for _, u := range unspent {
		txid, vout := outpointKey(u.OutPoint)
		rows = append(rows, SQLiteUTXO{
			TxID:          txid,
			Vout:          vout,
			Value:         int64(u.Value),
			PkScript:      u.PkScript,
			Confirmations: u.Confirmations,
			BlockHeight:   u.Height,
			IsChange:      u.IsChange,
			KeyIndex:      u.Index,
		})
	}
	for _, op := range spent {
		txid, vout := outpointKey(op)
		rows = append(rows, SQLiteUTXO{TxID: txid, Vout: vout, Spent: true})
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("1 = 1").Delete(&SQLiteUTXO{}).Error; err != nil {
			return fmt.Errorf("failed to clear utxos: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("failed to save utxos: %w", err)
		}
		return nil
	})
}

func toAddress(row SQLiteAddress) Address {
	return Address{
		AddrType:    row.AddrType,
		Index:       row.Index,
		Address:     row.Address,
		Status:      row.Status,
		AllocatedAt: row.AllocatedAt,
		UsedAt:      row.UsedAt,
		BlockHeight: row.BlockHeight,
	}
}

var byIndex = clause.OrderByColumn{Column: clause.Column{Name: "index"}}

// SaveAddress saves an address, leaving an existing row for the same keychain
// index untouched.
func (s *Store) SaveAddress(address Address) error {
	row := SQLiteAddress{
		AddrType:    address.AddrType,
		Index:       address.Index,
		Address:     address.Address,
		Status:      address.Status,
		AllocatedAt: address.AllocatedAt,
		UsedAt:      address.UsedAt,
		BlockHeight: address.BlockHeight,
	}
	if row.Status == "" {
		row.Status = AddressStatusAvailable
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// GetAddresses returns the addresses of one type in index order.
func (s *Store) GetAddresses(addrType string) ([]Address, error) {
	var rows []SQLiteAddress
	if err := s.db.Where("addr_type = ?", addrType).Order(byIndex).Find(&rows).Error; err != nil {
		return nil, err
	}

	addresses := make([]Address, len(rows))
	for i, row := range rows {
		addresses[i] = toAddress(row)
	}
	return addresses, nil
}

// MarkAddressAsUsed marks an address as used
func (s *Store) MarkAddressAsUsed(address string, blockHeight int32) error {
	now := time.Now()
	result := s.db.Model(&SQLiteAddress{}).
		Where("address = ?", address).
		Updates(map[string]interface{}{
			"status":       AddressStatusUsed,
			"used_at":      now,
			"block_height": blockHeight,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrAddressNotFound, address)
	}
	return nil
}

// GetUnusedAddress returns the lowest index address of a type that has not
// been seen on chain, without allocating it.
func (s *Store) GetUnusedAddress(addrType string) (*Address, error) {
	var row SQLiteAddress
	err := s.db.Where("addr_type = ? AND status <> ?", addrType, AddressStatusUsed).
		Order(byIndex).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoAvailableAddress
	}
	if err != nil {
		return nil, err
	}
	addr := toAddress(row)
	return &addr, nil
}

// AllocateAddress hands out the lowest available address of a type.
func (s *Store) AllocateAddress(addrType string) (*Address, error) {
	var row SQLiteAddress
	now := time.Now()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("addr_type = ? AND status = ?", addrType, AddressStatusAvailable).
			Order(byIndex).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoAvailableAddress
		}
		if err != nil {
			return err
		}

		return tx.Model(&row).Updates(map[string]interface{}{
			"status":       AddressStatusAllocated,
			"allocated_at": now,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	addr := toAddress(row)
	addr.Status = AddressStatusAllocated
	addr.AllocatedAt = &now
	return &addr, nil
}

// GetLastAddressIndex returns the highest stored index of a type, or -1.
func (s *Store) GetLastAddressIndex(addrType string) (int64, error) {
	var rows []SQLiteAddress
	err := s.db.Raw(`SELECT * FROM sq_lite_addresses WHERE addr_type = ? AND deleted_at IS NULL ORDER BY "index" DESC LIMIT 1`, addrType).
		Scan(&rows).Error
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return -1, nil
	}
	return int64(rows[0].Index), nil
}

func (s *Store) setMetadata(key, value string) error {
	var metadata SQLiteMetadata

	result := s.db.Where("key = ?", key).First(&metadata)
	if result.Error == nil {
		return s.db.Model(&metadata).Update("value", value).Error
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}
	return s.db.Create(&SQLiteMetadata{Key: key, Value: value}).Error
}

func (s *Store) getMetadata(key string) (string, bool, error) {
	var metadata SQLiteMetadata

	result := s.db.Where("key = ?", key).First(&metadata)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if result.Error != nil {
		return "", false, result.Error
	}
	return metadata.Value, true, nil
}

func (s *Store) SetLastScannedBlockHeight(height int32) error {
	return s.setMetadata(LastScannedBlockKey, strconv.FormatInt(int64(height), 10))
}

func (s *Store) GetLastScannedBlockHeight() (int32, error) {
	value, ok, err := s.getMetadata(LastScannedBlockKey)
	if err != nil || !ok {
		return 0, err
	}

	height, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block height: %w", err)
	}
	return int32(height), nil
}

// SaveBuiltTransaction stores or updates a built transaction by txid.
func (s *Store) SaveBuiltTransaction(tx BuiltTransaction) error {
	row := SQLiteBuiltTransaction{
		TxID:      tx.TxID,
		PSBT:      tx.PSBT,
		RawTx:     tx.RawTx,
		Fee:       tx.Fee,
		Finalized: tx.Finalized,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"psbt", "raw_tx", "fee", "finalized", "updated_at"}),
	}).Create(&row).Error
}

func toBuiltTransaction(row SQLiteBuiltTransaction) BuiltTransaction {
	return BuiltTransaction{
		TxID:      row.TxID,
		PSBT:      row.PSBT,
		RawTx:     row.RawTx,
		Fee:       row.Fee,
		Finalized: row.Finalized,
		CreatedAt: row.CreatedAt,
	}
}

func (s *Store) GetBuiltTransaction(txid string) (*BuiltTransaction, error) {
	var row SQLiteBuiltTransaction
	err := s.db.Where("tx_id = ?", txid).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txid)
	}
	if err != nil {
		return nil, err
	}
	tx := toBuiltTransaction(row)
	return &tx, nil
}

func (s *Store) ListBuiltTransactions() ([]BuiltTransaction, error) {
	var rows []SQLiteBuiltTransaction
	if err := s.db.Order("created_at").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	txs := make([]BuiltTransaction, len(rows))
	for i, row := range rows {
		txs[i] = toBuiltTransaction(row)
	}
	return txs, nil
}
