package main

import (
	"fmt"
	"os"

	walletstatedb "github.com/yuvraj-wale/sample-BDK-wallet/internal/database"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/logger"
)

// InitializeSQLite opens the wallet database at path, creating it on first use.
func InitializeSQLite(path string) (*walletstatedb.Store, error) {
	if fileExists(path) {
		logger.Debugf("Opening existing database %s", path)
	} else {
		logger.Infof("No existing database found, creating %s", path)
	}

	store, err := walletstatedb.InitSQLiteDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize wallet database: %w", err)
	}
	return store, nil
}

// Helper function to check if a file exists
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
