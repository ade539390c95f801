package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/electrum"
	"github.com/yuvraj-wale/sample-BDK-wallet/lib/transaction"
)

const (
	EnvPrefix = "WALLET"

	defaultAccount = "[c258d2e4/84h/1h/0h]tpubDDYkZojQFQjht8Tm4jsS3iuEmKjTiEGjG6KnuFNKKJb5A6ZUCUZKdvLdSDWofKi4ToRCwb9poe1XdqfUnP4jaJjCB2Zwv11ZLgSbnZSNecE"
)

type Config struct {
	Network            string `mapstructure:"network"`
	ElectrumServer     string `mapstructure:"electrum_server"`
	ExternalDescriptor string `mapstructure:"external_descriptor"`
	InternalDescriptor string `mapstructure:"internal_descriptor"`
	WalletDBPath       string `mapstructure:"wallet_db_path"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	// FeeRate is a decimal sat/vB rate. When empty the rate comes from
	// FeeSource.
	FeeRate        string `mapstructure:"fee_rate"`
	FeeSource      string `mapstructure:"fee_source"` // electrum or mempool
	FeeTarget      uint32 `mapstructure:"fee_target_blocks"`
	MempoolFeesURL string `mapstructure:"mempool_fees_url"`

	DustLimit        int64         `mapstructure:"dust_limit"`
	GapLimit         uint32        `mapstructure:"gap_limit"`
	MinConfirmations uint32        `mapstructure:"min_confirmations"`
	SyncTimeout      time.Duration `mapstructure:"sync_timeout"`
}

// LoadConfig loads config.json from dir through the global viper instance,
// creating it with defaults when missing.
func LoadConfig(dir string) (*Config, error) {
	return Load(viper.GetViper(), dir)
}

// Load reads the configuration into v. A .env file in dir or the working
// directory is loaded into the environment first, and WALLET_* variables
// override the file.
func Load(v *viper.Viper, dir string) (*Config, error) {
	if err := loadDotEnv(dir); err != nil {
		return nil, err
	}

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(dir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := createDefaultConfig(v); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(dir string) error {
	for _, path := range []string{filepath.Join(dir, ".env"), ".env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("error loading %s: %w", path, err)
		}
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("network", "testnet")
	v.SetDefault("electrum_server", electrum.DefaultServer)
	v.SetDefault("external_descriptor", "wpkh("+defaultAccount+"/0/*)")
	v.SetDefault("internal_descriptor", "wpkh("+defaultAccount+"/1/*)")
	v.SetDefault("wallet_db_path", "./wallet.db")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	v.SetDefault("fee_rate", "")
	v.SetDefault("fee_source", "electrum")
	v.SetDefault("fee_target_blocks", 6)
	v.SetDefault("mempool_fees_url", transaction.MempoolSpaceFeesURL)

	v.SetDefault("dust_limit", int64(transaction.DefaultDustLimit)) // in satoshis
	v.SetDefault("gap_limit", electrum.DefaultGapLimit)
	v.SetDefault("min_confirmations", 0)
	v.SetDefault("sync_timeout", "2m")
}

// createDefaultConfig creates a new configuration file if it doesn't exist
func createDefaultConfig(v *viper.Viper) error {
	err := v.SafeWriteConfig()
	if err != nil {
		var exists viper.ConfigFileAlreadyExistsError
		if !errors.As(err, &exists) {
			return fmt.Errorf("error creating config file: %w", err)
		}
	}
	return nil
}

func (cfg *Config) Validate() error {
	if _, err := cfg.ChainParams(); err != nil {
		return err
	}
	if err := electrum.ValidateServer(cfg.ElectrumServer); err != nil {
		return err
	}
	if cfg.ExternalDescriptor == "" {
		return errors.New("external_descriptor must be set")
	}
	if cfg.WalletDBPath == "" {
		return errors.New("wallet_db_path must be set")
	}
	if cfg.FeeRate != "" {
		if _, err := transaction.ParseFeeRate(cfg.FeeRate); err != nil {
			return fmt.Errorf("fee_rate: %w", err)
		}
	}
	switch cfg.FeeSource {
	case "electrum", "mempool":
	default:
		return fmt.Errorf("fee_source must be electrum or mempool, got %q", cfg.FeeSource)
	}
	if cfg.DustLimit < 0 {
		return fmt.Errorf("dust_limit must not be negative, got %d", cfg.DustLimit)
	}
	if cfg.GapLimit == 0 {
		return errors.New("gap_limit must be positive")
	}
	if cfg.SyncTimeout <= 0 {
		return errors.New("sync_timeout must be positive")
	}
	return nil
}

// ChainParams maps the network name to its parameters.
func (cfg *Config) ChainParams() (*chaincfg.Params, error) {
	switch strings.ToLower(cfg.Network) {
	case "mainnet", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", cfg.Network)
	}
}

// Policy returns the selection policy the configuration describes.
func (cfg *Config) Policy() transaction.Policy {
	policy := transaction.DefaultPolicy()
	policy.DustLimit = btcutil.Amount(cfg.DustLimit)
	return policy
}
