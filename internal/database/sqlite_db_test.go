package walletstatedb

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/ledger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := InitSQLiteDB(filepath.Join(t.TempDir(), "wallet", "test_wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func outPoint(b byte, index uint32) wire.OutPoint {
	var h chainhash.Hash
	h[0] = b
	return wire.OutPoint{Hash: h, Index: index}
}

func TestUTXORoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	unspent, spent, err := store.LoadUTXOs()
	require.NoError(t, err)
	require.Empty(t, unspent)
	require.Empty(t, spent)

	utxos := []ledger.UTXO{
		{OutPoint: outPoint(1, 0), Value: 5000, PkScript: []byte{0x00, 0x14}, Confirmations: 3, Height: 100},
		{OutPoint: outPoint(2, 1), Value: 1791, Confirmations: 0, IsChange: true, Index: 4},
	}
	require.NoError(t, store.SaveUTXOs(utxos, []wire.OutPoint{outPoint(3, 0)}))

	unspent, spent, err = store.LoadUTXOs()
	require.NoError(t, err)
	require.Equal(t, utxos[0].OutPoint, unspent[0].OutPoint)
	require.Len(t, unspent, 2)
	require.EqualValues(t, 5000, unspent[0].Value)
	require.Equal(t, []byte{0x00, 0x14}, unspent[0].PkScript)
	require.EqualValues(t, 100, unspent[0].Height)
	require.True(t, unspent[1].IsChange)
	require.EqualValues(t, 4, unspent[1].Index)
	require.Equal(t, []wire.OutPoint{outPoint(3, 0)}, spent)

	// A second save replaces the set, including rows with the same outpoint.
	require.NoError(t, store.SaveUTXOs(utxos[:1], []wire.OutPoint{outPoint(2, 1)}))
	unspent, spent, err = store.LoadUTXOs()
	require.NoError(t, err)
	require.Len(t, unspent, 1)
	require.Equal(t, []wire.OutPoint{outPoint(2, 1)}, spent)

	require.NoError(t, store.SaveUTXOs(nil, nil))
	unspent, spent, err = store.LoadUTXOs()
	require.NoError(t, err)
	require.Empty(t, unspent)
	require.Empty(t, spent)
}

func TestLedgerPersistsThroughStore(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	l, err := ledger.New(store)
	require.NoError(t, err)
	require.NoError(t, l.Replace([]ledger.UTXO{
		{OutPoint: outPoint(1, 0), Value: 5000, Confirmations: 1},
		{OutPoint: outPoint(2, 0), Value: 3000, Confirmations: 1},
	}))
	require.NoError(t, l.MarkSpent(outPoint(1, 0)))

	reopened, err := ledger.New(store)
	require.NoError(t, err)
	available := reopened.AvailableUTXOs(true)
	require.Len(t, available, 1)
	require.Equal(t, outPoint(2, 0), available[0].OutPoint)
	require.ErrorIs(t, reopened.MarkSpent(outPoint(1, 0)), ledger.ErrAlreadySpent)
}

func TestAddressPool(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	last, err := store.GetLastAddressIndex(AddrTypeReceive)
	require.NoError(t, err)
	require.EqualValues(t, -1, last)

	_, err = store.AllocateAddress(AddrTypeReceive)
	require.ErrorIs(t, err, ErrNoAvailableAddress)

	for i, a := range []string{"tb1qa", "tb1qb", "tb1qc"} {
		require.NoError(t, store.SaveAddress(Address{
			AddrType: AddrTypeReceive, Index: uint32(i), Address: a,
		}))
	}
	require.NoError(t, store.SaveAddress(Address{AddrType: AddrTypeChange, Index: 0, Address: "tb1qchange"}))

	// Saving the same index again is a no-op.
	require.NoError(t, store.SaveAddress(Address{AddrType: AddrTypeReceive, Index: 1, Address: "tb1qb"}))

	last, err = store.GetLastAddressIndex(AddrTypeReceive)
	require.NoError(t, err)
	require.EqualValues(t, 2, last)

	addrs, err := store.GetAddresses(AddrTypeReceive)
	require.NoError(t, err)
	require.Len(t, addrs, 3)
	require.Equal(t, "tb1qa", addrs[0].Address)
	require.Equal(t, AddressStatusAvailable, addrs[0].Status)

	allocated, err := store.AllocateAddress(AddrTypeReceive)
	require.NoError(t, err)
	require.Equal(t, "tb1qa", allocated.Address)
	require.Equal(t, AddressStatusAllocated, allocated.Status)

	require.NoError(t, store.MarkAddressAsUsed("tb1qb", 120))
	allocated, err = store.AllocateAddress(AddrTypeReceive)
	require.NoError(t, err)
	require.Equal(t, "tb1qc", allocated.Address)

	_, err = store.AllocateAddress(AddrTypeReceive)
	require.ErrorIs(t, err, ErrNoAvailableAddress)

	unused, err := store.GetUnusedAddress(AddrTypeChange)
	require.NoError(t, err)
	require.Equal(t, "tb1qchange", unused.Address)
	require.NoError(t, store.MarkAddressAsUsed("tb1qchange", 121))
	_, err = store.GetUnusedAddress(AddrTypeChange)
	require.ErrorIs(t, err, ErrNoAvailableAddress)

	require.ErrorIs(t, store.MarkAddressAsUsed("tb1qnope", 1), ErrAddressNotFound)
}

func TestLastScannedBlockHeight(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	height, err := store.GetLastScannedBlockHeight()
	require.NoError(t, err)
	require.Zero(t, height)

	require.NoError(t, store.SetLastScannedBlockHeight(2500000))
	require.NoError(t, store.SetLastScannedBlockHeight(2500010))

	height, err = store.GetLastScannedBlockHeight()
	require.NoError(t, err)
	require.EqualValues(t, 2500010, height)
}

func TestBuiltTransactions(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	_, err := store.GetBuiltTransaction("missing")
	require.ErrorIs(t, err, ErrTxNotFound)

	require.NoError(t, store.SaveBuiltTransaction(BuiltTransaction{
		TxID: "abc", PSBT: "cHNidP8=", Fee: 209,
	}))
	require.NoError(t, store.SaveBuiltTransaction(BuiltTransaction{
		TxID: "abc", PSBT: "cHNidP8B", Fee: 209, Finalized: true, RawTx: []byte{0x02},
	}))

	tx, err := store.GetBuiltTransaction("abc")
	require.NoError(t, err)
	require.True(t, tx.Finalized)
	require.Equal(t, "cHNidP8B", tx.PSBT)
	require.Equal(t, []byte{0x02}, tx.RawTx)

	all, err := store.ListBuiltTransactions()
	require.NoError(t, err)
	require.Len(t, all, 1)
}
