// Package electrum reads wallet state from an Electrum server.
package electrum

import (
	"context"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/checksum0/go-electrum/electrum"
)

const DefaultServer = "ssl://electrum.blockstream.info:60002"

// Client is the subset of the Electrum protocol the wallet uses. It is
// satisfied by *electrum.Client.
type Client interface {
	ListUnspent(ctx context.Context, scripthash string) ([]*electrum.ListUnspentResult, error)
	GetHistory(ctx context.Context, scripthash string) ([]*electrum.GetMempoolResult, error)
	SubscribeHeaders(ctx context.Context) (<-chan *electrum.SubscribeHeadersResult, error)
	GetFee(ctx context.Context, target uint32) (float32, error)
	BroadcastTransaction(ctx context.Context, rawTx string) (string, error)
	GetRawTransaction(ctx context.Context, txHash string) (string, error)
	Shutdown()
}

type serverConfig struct {
	addr   string
	useSSL bool
}

// parseServer reads "ssl://host:port" or "tcp://host:port". A bare host:port
// is taken as SSL.
func parseServer(url string) (serverConfig, error) {
	scheme, addr, found := strings.Cut(strings.TrimSpace(url), "://")
	if !found {
		addr, scheme = scheme, "ssl"
	}
	if addr == "" || !strings.Contains(addr, ":") {
		return serverConfig{}, fmt.Errorf("electrum server %q must be host:port", url)
	}

	switch strings.ToLower(scheme) {
	case "ssl", "tls":
		return serverConfig{addr: addr, useSSL: true}, nil
	case "tcp":
		return serverConfig{addr: addr}, nil
	default:
		return serverConfig{}, fmt.Errorf("unsupported electrum scheme %q", scheme)
	}
}

// ValidateServer checks that url is a server address Dial accepts.
func ValidateServer(url string) error {
	_, err := parseServer(url)
	return err
}

// Dial connects to the server at url.
func Dial(ctx context.Context, url string) (*electrum.Client, error) {
	config, err := parseServer(url)
	if err != nil {
		return nil, err
	}
	if config.useSSL {
		return electrum.NewClientSSL(ctx, config.addr, nil)
	}
	return electrum.NewClientTCP(ctx, config.addr)
}

// ScriptHash is the Electrum key for an output script: its sha256 in
// reversed byte order, hex encoded.
func ScriptHash(pkScript []byte) string {
	return chainhash.HashH(pkScript).String()
}
