package main

import (
	"context"
	"fmt"

	"github.com/yuvraj-wale/sample-BDK-wallet/internal/config"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/descriptor"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/electrum"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/logger"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/wallet"
	"github.com/yuvraj-wale/sample-BDK-wallet/lib/transaction"
)

// openWallet builds the wallet described by cfg. Unless offline it also
// connects to the Electrum server, which then serves as chain source, fee
// source and first broadcaster. The returned func releases everything.
func openWallet(ctx context.Context, cfg *config.Config, offline bool) (*wallet.Wallet, func(), error) {
	params, err := cfg.ChainParams()
	if err != nil {
		return nil, nil, err
	}

	ext, err := descriptor.Parse(cfg.ExternalDescriptor, params)
	if err != nil {
		return nil, nil, fmt.Errorf("external descriptor: %w", err)
	}
	var internal *descriptor.Descriptor
	if cfg.InternalDescriptor != "" {
		internal, err = descriptor.Parse(cfg.InternalDescriptor, params)
		if err != nil {
			return nil, nil, fmt.Errorf("internal descriptor: %w", err)
		}
	}

	store, err := InitializeSQLite(cfg.WalletDBPath)
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){func() { _ = store.Close() }}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	opts := wallet.Options{
		External:         ext,
		Internal:         internal,
		Store:            store,
		Policy:           cfg.Policy(),
		MinConfirmations: cfg.MinConfirmations,
	}

	if !offline {
		logger.Infof("Connecting to %s", cfg.ElectrumServer)
		client, err := electrum.Dial(ctx, cfg.ElectrumServer)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to connect to electrum server: %w", err)
		}
		closers = append(closers, client.Shutdown)

		server := &electrum.Broadcaster{Client: client}
		opts.Source = electrum.NewSource(client, ext, internal, cfg.GapLimit)
		opts.Mempool = server
		opts.Broadcaster = transaction.FallbackBroadcaster{
			server,
			&transaction.APIBroadcaster{Endpoints: transaction.EsploraEndpoints(params)},
		}
		switch cfg.FeeSource {
		case "mempool":
			opts.FeeSource = &transaction.MempoolSpaceFees{URL: cfg.MempoolFeesURL}
		default:
			opts.FeeSource = &electrum.FeeEstimator{Client: client, Blocks: cfg.FeeTarget}
		}
	}

	w, err := wallet.New(opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return w, cleanup, nil
}
