package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	walletstatedb "github.com/yuvraj-wale/sample-BDK-wallet/internal/database"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/descriptor"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/ledger"
	"github.com/yuvraj-wale/sample-BDK-wallet/lib/transaction"
)

type fakeSource struct {
	utxos    []ledger.UTXO
	lastUsed map[bool]uint32
	tip      int32
}

func (f *fakeSource) FetchUTXOs(context.Context) ([]ledger.UTXO, error) {
	return f.utxos, nil
}

func (f *fakeSource) LastUsed(isChange bool) (uint32, bool) {
	index, ok := f.lastUsed[isChange]
	return index, ok
}

func (f *fakeSource) Tip() int32 { return f.tip }

// fund pays value to the key at index and records the index as used.
func (f *fakeSource) fund(t *testing.T, d *descriptor.Descriptor, isChange bool, index uint32,
	txByte byte, value int64, confs uint32) {

	t.Helper()
	key, err := d.Derive(index)
	require.NoError(t, err)

	var hash chainhash.Hash
	hash[0] = txByte
	height := int32(0)
	if confs > 0 {
		height = f.tip - int32(confs) + 1
	}
	f.utxos = append(f.utxos, ledger.UTXO{
		OutPoint:      wire.OutPoint{Hash: hash, Index: 0},
		Value:         btcutil.Amount(value),
		PkScript:      key.PkScript,
		Confirmations: confs,
		Height:        height,
		IsChange:      isChange,
		Index:         index,
	})
	if last, ok := f.lastUsed[isChange]; !ok || index > last {
		f.lastUsed[isChange] = index
	}
}

type fakeBroadcaster struct {
	txs []*wire.MsgTx
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	f.txs = append(f.txs, tx)
	return tx.TxHash(), nil
}

type fakeMempool struct {
	checked []chainhash.Hash
	missing bool
}

func (f *fakeMempool) InMempool(_ context.Context, txid chainhash.Hash) (bool, error) {
	f.checked = append(f.checked, txid)
	return !f.missing, nil
}

// testDescriptors returns the external and internal descriptors of a fixed
// seed, either with private keys or as their watch-only account form.
func testDescriptors(t *testing.T, private bool) (*descriptor.Descriptor, *descriptor.Descriptor) {
	t.Helper()

	params := &chaincfg.TestNet3Params
	master, err := hdkeychain.NewMaster(bytes.Repeat([]byte{0x42}, 32), params)
	require.NoError(t, err)

	if private {
		ext, err := descriptor.Parse("wpkh("+master.String()+"/84h/1h/0h/0/*)", params)
		require.NoError(t, err)
		internal, err := descriptor.Parse("wpkh("+master.String()+"/84h/1h/0h/1/*)", params)
		require.NoError(t, err)
		return ext, internal
	}

	ext, _ := testDescriptors(t, true)
	account := master
	for _, step := range []uint32{84, 1, 0} {
		account, err = account.Derive(hdkeychain.HardenedKeyStart + step)
		require.NoError(t, err)
	}
	accountPub, err := account.Neuter()
	require.NoError(t, err)

	origin := "[" + hex.EncodeToString(ext.Fingerprint[:]) + "/84h/1h/0h]" + accountPub.String()
	watchExt, err := descriptor.Parse("wpkh("+origin+"/0/*)", params)
	require.NoError(t, err)
	watchInt, err := descriptor.Parse("wpkh("+origin+"/1/*)", params)
	require.NoError(t, err)
	return watchExt, watchInt
}

type testEnv struct {
	wallet        *Wallet
	source        *fakeSource
	store         *walletstatedb.Store
	broadcaster   *fakeBroadcaster
	mempool       *fakeMempool
	ext, internal *descriptor.Descriptor
}

func newTestEnv(t *testing.T, private bool) *testEnv {
	t.Helper()

	store, err := walletstatedb.InitSQLiteDB(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ext, internal := testDescriptors(t, private)
	env := &testEnv{
		source:      &fakeSource{lastUsed: map[bool]uint32{}, tip: 1000},
		store:       store,
		broadcaster: &fakeBroadcaster{},
		mempool:     &fakeMempool{},
		ext:         ext,
		internal:    internal,
	}
	env.wallet, err = New(Options{
		External:    ext,
		Internal:    internal,
		Store:       store,
		Source:      env.source,
		Broadcaster: env.broadcaster,
		Mempool:     env.mempool,
	})
	require.NoError(t, err)
	return env
}

func payTo(t *testing.T, addr string, amount int64) transaction.SpendRequest {
	t.Helper()

	decoded, err := btcutil.DecodeAddress(addr, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(decoded)
	require.NoError(t, err)

	return transaction.SpendRequest{
		Recipients: []transaction.Recipient{{PkScript: script, Amount: btcutil.Amount(amount)}},
		FeeRate:    transaction.NewFeeRate(1),
		EnableRBF:  true,
	}
}

const recipientAddr = "tb1qzg4mckdh50nwdm9hkzq06528rsu73hjxxzem3e"

func TestNewAddressSequence(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	for i := uint32(0); i < 3; i++ {
		key, err := env.wallet.NewAddress(External)
		require.NoError(t, err)
		require.Equal(t, i, key.Index)

		want, err := env.ext.Derive(i)
		require.NoError(t, err)
		require.Equal(t, want.Address.EncodeAddress(), key.Address.EncodeAddress())
	}

	peek, err := env.wallet.PeekAddress(External, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, peek.Index)

	change, err := env.wallet.NewAddress(Internal)
	require.NoError(t, err)
	want, err := env.internal.Derive(0)
	require.NoError(t, err)
	require.Equal(t, want.Address.EncodeAddress(), change.Address.EncodeAddress())
}

func TestSyncAndBalance(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	env.source.fund(t, env.ext, false, 0, 1, 5000, 6)
	env.source.fund(t, env.ext, false, 2, 2, 3000, 0)

	require.NoError(t, env.wallet.Sync(context.Background()))

	balance := env.wallet.Balance()
	require.EqualValues(t, 5000, balance.Confirmed)
	require.EqualValues(t, 3000, balance.Unconfirmed)
	require.Len(t, env.wallet.ListUnspent(), 2)

	addrs, err := env.store.GetAddresses(walletstatedb.AddrTypeReceive)
	require.NoError(t, err)
	require.Len(t, addrs, 3)
	for _, a := range addrs {
		require.Equal(t, walletstatedb.AddressStatusUsed, a.Status)
	}
	require.NotNil(t, addrs[0].BlockHeight)
	require.EqualValues(t, 995, *addrs[0].BlockHeight)

	height, err := env.store.GetLastScannedBlockHeight()
	require.NoError(t, err)
	require.EqualValues(t, 1000, height)

	// Used addresses are never handed out again.
	key, err := env.wallet.NewAddress(External)
	require.NoError(t, err)
	require.EqualValues(t, 3, key.Index)
}

func TestCreateSpendSignAndBroadcast(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)
	env.source.fund(t, env.ext, false, 0, 1, 5000, 1)
	env.source.fund(t, env.ext, false, 1, 2, 3000, 1)
	require.NoError(t, env.wallet.Sync(context.Background()))

	built, packet, err := env.wallet.CreateSpend(payTo(t, recipientAddr, 6000))
	require.NoError(t, err)
	require.EqualValues(t, 209, built.Fee)
	require.EqualValues(t, 1791, built.ChangeAmount())
	require.Len(t, built.Inputs, 2)
	for _, in := range built.Tx.TxIn {
		require.Equal(t, transaction.RBFSequenceNumber, in.Sequence)
	}

	changeKey, err := env.internal.Derive(0)
	require.NoError(t, err)
	require.Equal(t, changeKey.PkScript, built.Outputs[built.ChangeIndex].PkScript)

	for _, in := range packet.Inputs {
		require.Len(t, in.Bip32Derivation, 1)
		require.Equal(t, env.ext.MasterFingerprint(), in.Bip32Derivation[0].MasterKeyFingerprint)
	}
	require.Len(t, packet.Outputs[built.ChangeIndex].Bip32Derivation, 1)

	// Building alone consumes nothing.
	require.Len(t, env.wallet.ListUnspent(), 2)

	finalized, err := env.wallet.Sign(packet)
	require.NoError(t, err)
	require.True(t, finalized)
	require.True(t, packet.IsComplete())

	txid := packet.UnsignedTx.TxHash()
	record, err := env.store.GetBuiltTransaction(txid.String())
	require.NoError(t, err)
	require.True(t, record.Finalized)
	require.NotEmpty(t, record.RawTx)
	require.EqualValues(t, 209, record.Fee)

	sent, err := env.wallet.Broadcast(context.Background(), built, packet)
	require.NoError(t, err)
	require.Equal(t, txid, sent)
	require.Len(t, env.broadcaster.txs, 1)
	require.Len(t, env.broadcaster.txs[0].TxIn[0].Witness, 2)

	require.Equal(t, []chainhash.Hash{txid}, env.mempool.checked)

	require.Empty(t, env.wallet.ListUnspent())
	require.ErrorIs(t, env.wallet.Accept(built), transaction.ErrAlreadySpent)
}

func TestSignWatchOnly(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	env.source.fund(t, env.ext, false, 0, 1, 20000, 3)
	require.NoError(t, env.wallet.Sync(context.Background()))

	built, packet, err := env.wallet.CreateSpend(payTo(t, recipientAddr, 10000))
	require.NoError(t, err)
	before, err := packet.B64Encode()
	require.NoError(t, err)

	finalized, err := env.wallet.Sign(packet)
	require.NoError(t, err)
	require.False(t, finalized)
	after, err := packet.B64Encode()
	require.NoError(t, err)
	require.Equal(t, before, after)

	_, err = env.wallet.Broadcast(context.Background(), built, packet)
	require.ErrorIs(t, err, ErrNotFinalized)
	require.Empty(t, env.broadcaster.txs)
	require.Len(t, env.wallet.ListUnspent(), 1)
}

func TestChangeAddressAdvancesAfterUse(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	env.source.fund(t, env.ext, false, 0, 1, 20000, 3)
	require.NoError(t, env.wallet.Sync(context.Background()))

	first, _, err := env.wallet.CreateSpend(payTo(t, recipientAddr, 10000))
	require.NoError(t, err)
	second, _, err := env.wallet.CreateSpend(payTo(t, recipientAddr, 10000))
	require.NoError(t, err)
	require.EqualValues(t, 0, first.ChangeKeyIndex)
	require.Equal(t, first.TxHash(), second.TxHash())

	// Once change index 0 shows up on chain the next build moves on.
	env.source.fund(t, env.internal, true, 0, 9, 1000, 1)
	require.NoError(t, env.wallet.Sync(context.Background()))

	third, _, err := env.wallet.CreateSpend(payTo(t, recipientAddr, 10000))
	require.NoError(t, err)
	require.EqualValues(t, 1, third.ChangeKeyIndex)
}

func TestCreateSpendErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	env.source.fund(t, env.ext, false, 0, 1, 5000, 1)
	require.NoError(t, env.wallet.Sync(context.Background()))

	_, _, err := env.wallet.CreateSpend(payTo(t, recipientAddr, 10000))
	require.ErrorIs(t, err, transaction.ErrInsufficientFunds)

	req := payTo(t, recipientAddr, 1000)
	req.FeeRate = 0
	_, _, err = env.wallet.CreateSpend(req)
	require.ErrorIs(t, err, transaction.ErrInvalidFeeRate)

	_, err = env.wallet.FeeRate(context.Background())
	require.ErrorIs(t, err, ErrNoFeeSource)

	all, err := env.store.ListBuiltTransactions()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestBroadcastMissingFromMempool(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)
	env.mempool.missing = true
	env.source.fund(t, env.ext, false, 0, 1, 20000, 1)
	require.NoError(t, env.wallet.Sync(context.Background()))

	built, packet, err := env.wallet.CreateSpend(payTo(t, recipientAddr, 10000))
	require.NoError(t, err)
	_, err = env.wallet.Sign(packet)
	require.NoError(t, err)

	// A transaction the server does not report is still accepted.
	txid, err := env.wallet.Broadcast(context.Background(), built, packet)
	require.NoError(t, err)
	require.Equal(t, []chainhash.Hash{txid}, env.mempool.checked)
	require.Empty(t, env.wallet.ListUnspent())
}

func TestSyncedHeight(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	height, err := env.wallet.SyncedHeight()
	require.NoError(t, err)
	require.Zero(t, height)

	require.NoError(t, env.wallet.Sync(context.Background()))
	height, err = env.wallet.SyncedHeight()
	require.NoError(t, err)
	require.EqualValues(t, 1000, height)
}

func TestEstimateSpend(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	env.source.fund(t, env.ext, false, 0, 1, 5000, 1)
	env.source.fund(t, env.ext, false, 1, 2, 3000, 1)
	require.NoError(t, env.wallet.Sync(context.Background()))

	est, err := env.wallet.EstimateSpend(payTo(t, recipientAddr, 6000))
	require.NoError(t, err)
	require.Equal(t, &SpendEstimate{Inputs: 2, Outputs: 2, VSize: 209, Fee: 209, Change: 1791}, est)

	history, err := env.wallet.History()
	require.NoError(t, err)
	require.Empty(t, history)
	require.Len(t, env.wallet.ListUnspent(), 2)

	_, err = env.wallet.EstimateSpend(payTo(t, recipientAddr, 9000))
	require.ErrorIs(t, err, transaction.ErrInsufficientFunds)
}

func TestHistory(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)
	env.source.fund(t, env.ext, false, 0, 1, 20000, 1)
	require.NoError(t, env.wallet.Sync(context.Background()))

	first, _, err := env.wallet.CreateSpend(payTo(t, recipientAddr, 10000))
	require.NoError(t, err)
	second, _, err := env.wallet.CreateSpend(payTo(t, recipientAddr, 5000))
	require.NoError(t, err)

	history, err := env.wallet.History()
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, first.TxHash().String(), history[0].TxID)
	require.Equal(t, second.TxHash().String(), history[1].TxID)
	require.Equal(t, int64(first.Fee), history[0].Fee)
	require.False(t, history[0].Finalized)
}

func TestBumpFeeAfterBroadcast(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)
	env.source.fund(t, env.ext, false, 0, 1, 5000, 1)
	env.source.fund(t, env.ext, false, 1, 2, 3000, 1)
	require.NoError(t, env.wallet.Sync(context.Background()))

	built, packet, err := env.wallet.CreateSpend(payTo(t, recipientAddr, 6000))
	require.NoError(t, err)
	_, err = env.wallet.Sign(packet)
	require.NoError(t, err)
	origID, err := env.wallet.Broadcast(context.Background(), built, packet)
	require.NoError(t, err)

	bumped, bumpPacket, err := env.wallet.BumpFee(origID.String(), transaction.NewFeeRate(5))
	require.NoError(t, err)
	require.EqualValues(t, 1045, bumped.Fee)
	require.EqualValues(t, 955, bumped.ChangeAmount())
	require.Equal(t, built.ChangeKeyIndex, bumped.ChangeKeyIndex)
	require.Equal(t, origID, *bumped.Replaces)
	for i, in := range bumped.Inputs {
		require.Equal(t, built.Inputs[i].OutPoint, in.OutPoint)
		require.Equal(t, built.Inputs[i].Index, in.Index)
		require.False(t, in.IsChange)
	}
	require.Len(t, bumpPacket.Outputs[bumped.ChangeIndex].Bip32Derivation, 1)

	finalized, err := env.wallet.Sign(bumpPacket)
	require.NoError(t, err)
	require.True(t, finalized)

	// The replaced transaction already spent the inputs.
	sent, err := env.wallet.Broadcast(context.Background(), bumped, bumpPacket)
	require.NoError(t, err)
	require.Equal(t, bumped.TxHash(), sent)
	require.Len(t, env.broadcaster.txs, 2)

	history, err := env.wallet.History()
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestBumpFeeErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)
	env.source.fund(t, env.ext, false, 0, 1, 20000, 1)
	require.NoError(t, env.wallet.Sync(context.Background()))

	_, _, err := env.wallet.BumpFee(chainhash.Hash{}.String(), transaction.NewFeeRate(5))
	require.ErrorIs(t, err, walletstatedb.ErrTxNotFound)

	req := payTo(t, recipientAddr, 10000)
	req.EnableRBF = false
	built, _, err := env.wallet.CreateSpend(req)
	require.NoError(t, err)
	_, _, err = env.wallet.BumpFee(built.TxHash().String(), transaction.NewFeeRate(5))
	require.ErrorIs(t, err, transaction.ErrNotReplaceable)

	built, _, err = env.wallet.CreateSpend(payTo(t, recipientAddr, 10000))
	require.NoError(t, err)
	_, _, err = env.wallet.BumpFee(built.TxHash().String(), transaction.NewFeeRate(1))
	require.ErrorIs(t, err, transaction.ErrFeeNotIncreased)
}
