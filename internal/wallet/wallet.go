package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	walletstatedb "github.com/yuvraj-wale/sample-BDK-wallet/internal/database"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/descriptor"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/ledger"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/logger"
	"github.com/yuvraj-wale/sample-BDK-wallet/lib/transaction"
)

// MinAvailableAddresses is how many addresses are derived ahead at a time.
const MinAvailableAddresses = 10

var (
	ErrNoFeeSource  = errors.New("no fee rate given and no fee source configured")
	ErrNotFinalized = errors.New("transaction is not fully signed")
)

// Keychain selects the external (receive) or internal (change) descriptor.
type Keychain bool

const (
	External Keychain = false
	Internal Keychain = true
)

func (k Keychain) String() string {
	return walletstatedb.AddrType(bool(k))
}

// Source is a ledger source that also reports how far each keychain is used.
type Source interface {
	ledger.Source
	LastUsed(isChange bool) (uint32, bool)
	Tip() int32
}

// MempoolChecker reports whether a broadcast transaction reached the
// server's mempool.
type MempoolChecker interface {
	InMempool(ctx context.Context, txid chainhash.Hash) (bool, error)
}

// SpendEstimate is the shape and cost of a planned spend.
type SpendEstimate struct {
	Inputs  int
	Outputs int
	VSize   int64
	Fee     btcutil.Amount
	Change  btcutil.Amount
}

type Options struct {
	External *descriptor.Descriptor
	// Internal may be nil, in which case change goes to External.
	Internal *descriptor.Descriptor

	Store       walletstatedb.DatabaseInterface
	Source      Source
	FeeSource   transaction.FeeSource
	Broadcaster transaction.Broadcaster
	Mempool     MempoolChecker

	Policy           transaction.Policy
	MinConfirmations uint32
}

type Wallet struct {
	external *descriptor.Descriptor
	internal *descriptor.Descriptor

	store       walletstatedb.DatabaseInterface
	source      Source
	feeSource   transaction.FeeSource
	broadcaster transaction.Broadcaster
	mempool     MempoolChecker

	policy  transaction.Policy
	ledger  *ledger.Ledger
	planner *transaction.Planner

	addrMtx sync.Mutex
}

func New(opts Options) (*Wallet, error) {
	if opts.External == nil {
		return nil, errors.New("external descriptor is required")
	}
	if opts.Store == nil {
		return nil, errors.New("wallet store is required")
	}
	if opts.Internal != nil && opts.Internal.Params().Net != opts.External.Params().Net {
		return nil, fmt.Errorf("%w: keychains disagree", descriptor.ErrWrongNetwork)
	}
	if opts.Policy.Size == (transaction.SizePolicy{}) {
		opts.Policy = transaction.DefaultPolicy()
	}

	l, err := ledger.New(opts.Store)
	if err != nil {
		return nil, err
	}

	w := &Wallet{
		external:    opts.External,
		internal:    opts.Internal,
		store:       opts.Store,
		source:      opts.Source,
		feeSource:   opts.FeeSource,
		broadcaster: opts.Broadcaster,
		mempool:     opts.Mempool,
		policy:      opts.Policy,
		ledger:      l,
	}
	w.planner = &transaction.Planner{
		Ledger:           l,
		Selector:         transaction.NewCoinSelector(opts.Policy),
		ChangeSource:     w.changeScript,
		MinConfirmations: opts.MinConfirmations,
	}
	return w, nil
}

// ChainParams returns the wallet network.
func (w *Wallet) ChainParams() *chaincfg.Params {
	return w.external.Params()
}

func (w *Wallet) descriptorFor(k Keychain) *descriptor.Descriptor {
	if k == Internal && w.internal != nil {
		return w.internal
	}
	return w.external
}

// changeKeychain is the keychain change is paid to.
func (w *Wallet) changeKeychain() Keychain {
	if w.internal == nil {
		return External
	}
	return Internal
}

// Sync refreshes the ledger from the source and records which addresses have
// been used.
func (w *Wallet) Sync(ctx context.Context) error {
	if w.source == nil {
		return errors.New("wallet has no chain source")
	}
	if err := w.ledger.Sync(ctx, w.source); err != nil {
		return err
	}

	for _, k := range []Keychain{External, Internal} {
		if k == Internal && w.internal == nil {
			continue
		}
		last, ok := w.source.LastUsed(bool(k))
		if !ok {
			continue
		}
		if err := w.markUsedThrough(k, last); err != nil {
			return err
		}
	}

	tip := w.source.Tip()
	if err := w.store.SetLastScannedBlockHeight(tip); err != nil {
		return fmt.Errorf("error setting last scanned block height: %w", err)
	}
	logger.Infof("Wallet synced to height %d", tip)
	return nil
}

// markUsedThrough marks every address of k up to index last as used.
func (w *Wallet) markUsedThrough(k Keychain, last uint32) error {
	w.addrMtx.Lock()
	defer w.addrMtx.Unlock()

	if err := w.generateAddresses(k, last); err != nil {
		return err
	}

	heights := make(map[uint32]int32)
	for _, u := range w.ledger.AvailableUTXOs(true) {
		if Keychain(u.IsChange) == k {
			heights[u.Index] = u.Height
		}
	}

	addrs, err := w.store.GetAddresses(k.String())
	if err != nil {
		return err
	}
	for _, a := range addrs {
		if a.Index > last || a.Status == walletstatedb.AddressStatusUsed {
			continue
		}
		if err := w.store.MarkAddressAsUsed(a.Address, heights[a.Index]); err != nil {
			return fmt.Errorf("failed to mark address as used: %w", err)
		}
	}
	return nil
}

// generateAddresses derives and stores addresses of k through index upTo.
// Callers hold addrMtx.
func (w *Wallet) generateAddresses(k Keychain, upTo uint32) error {
	last, err := w.store.GetLastAddressIndex(k.String())
	if err != nil {
		return fmt.Errorf("error getting last address index: %w", err)
	}

	desc := w.descriptorFor(k)
	for index := last + 1; index <= int64(upTo); index++ {
		key, err := desc.Derive(uint32(index))
		if err != nil {
			return err
		}
		err = w.store.SaveAddress(walletstatedb.Address{
			AddrType: k.String(),
			Index:    uint32(index),
			Address:  key.Address.EncodeAddress(),
			Status:   walletstatedb.AddressStatusAvailable,
		})
		if err != nil {
			return fmt.Errorf("failed to save new address: %w", err)
		}
	}
	return nil
}

// extendPool derives MinAvailableAddresses more addresses of k.
func (w *Wallet) extendPool(k Keychain) error {
	last, err := w.store.GetLastAddressIndex(k.String())
	if err != nil {
		return err
	}
	return w.generateAddresses(k, uint32(last+MinAvailableAddresses))
}

// NewAddress hands out the next address of k that has never been given out
// or seen on chain.
func (w *Wallet) NewAddress(k Keychain) (*descriptor.Key, error) {
	w.addrMtx.Lock()
	defer w.addrMtx.Unlock()

	addr, err := w.store.AllocateAddress(k.String())
	if errors.Is(err, walletstatedb.ErrNoAvailableAddress) {
		if err := w.extendPool(k); err != nil {
			return nil, err
		}
		addr, err = w.store.AllocateAddress(k.String())
	}
	if err != nil {
		return nil, err
	}

	logger.Debugf("Allocated %s address %d: %s", k, addr.Index, addr.Address)
	return w.descriptorFor(k).Derive(addr.Index)
}

// PeekAddress derives the address at index without recording anything.
func (w *Wallet) PeekAddress(k Keychain, index uint32) (*descriptor.Key, error) {
	return w.descriptorFor(k).Derive(index)
}

// changeScript returns the lowest unused change address. Repeated builds
// reuse it until it shows up on chain.
func (w *Wallet) changeScript() ([]byte, uint32, error) {
	w.addrMtx.Lock()
	defer w.addrMtx.Unlock()

	k := w.changeKeychain()
	addr, err := w.store.GetUnusedAddress(k.String())
	if errors.Is(err, walletstatedb.ErrNoAvailableAddress) {
		if err := w.extendPool(k); err != nil {
			return nil, 0, err
		}
		addr, err = w.store.GetUnusedAddress(k.String())
	}
	if err != nil {
		return nil, 0, err
	}

	key, err := w.descriptorFor(k).Derive(addr.Index)
	if err != nil {
		return nil, 0, err
	}
	return key.PkScript, addr.Index, nil
}

// SyncedHeight is the chain tip recorded by the last successful Sync, or 0.
func (w *Wallet) SyncedHeight() (int32, error) {
	return w.store.GetLastScannedBlockHeight()
}

// Balance returns the balance of the available set.
func (w *Wallet) Balance() ledger.Balance {
	return w.ledger.Balance()
}

// ListUnspent returns every available output, change included.
func (w *Wallet) ListUnspent() []ledger.UTXO {
	return w.ledger.AvailableUTXOs(true)
}

// FeeRate asks the configured fee source for a rate.
func (w *Wallet) FeeRate(ctx context.Context) (transaction.FeeRate, error) {
	if w.feeSource == nil {
		return 0, ErrNoFeeSource
	}
	return w.feeSource.FeeRate(ctx)
}

// Derivation implements transaction.KeyLookup.
func (w *Wallet) Derivation(isChange bool, index uint32) (*transaction.Derivation, error) {
	desc := w.descriptorFor(Keychain(isChange))
	key, err := desc.Derive(index)
	if err != nil {
		return nil, err
	}
	return &transaction.Derivation{
		PubKey:      key.PubKey.SerializeCompressed(),
		Fingerprint: desc.MasterFingerprint(),
		Path:        key.Path,
	}, nil
}

// CreateSpend builds an unsigned transaction for req and its PSBT. The
// inputs stay available until Accept or Broadcast.
func (w *Wallet) CreateSpend(req transaction.SpendRequest) (*transaction.BuiltTransaction, *psbt.Packet, error) {
	built, err := w.planner.Plan(req)
	if err != nil {
		return nil, nil, err
	}

	packet, err := transaction.ToPSBT(built, w)
	if err != nil {
		return nil, nil, err
	}
	if err := w.saveBuilt(packet, built.Fee); err != nil {
		return nil, nil, err
	}

	logger.Infof("Created spend %v paying %v with fee %v", built.TxHash(), req.Target(), built.Fee)
	return built, packet, nil
}

// EstimateSpend plans req and reports its size and fee without creating a
// PSBT or recording anything.
func (w *Wallet) EstimateSpend(req transaction.SpendRequest) (*SpendEstimate, error) {
	built, err := w.planner.Plan(req)
	if err != nil {
		return nil, err
	}
	return &SpendEstimate{
		Inputs:  len(built.Inputs),
		Outputs: len(built.Outputs),
		VSize:   w.policy.Size.EstimateVSize(len(built.Inputs), len(built.Outputs)),
		Fee:     built.Fee,
		Change:  built.ChangeAmount(),
	}, nil
}

// History lists every transaction the wallet built, oldest first.
func (w *Wallet) History() ([]walletstatedb.BuiltTransaction, error) {
	return w.store.ListBuiltTransactions()
}

// BumpFee replaces a transaction built earlier with one paying rate. The
// replacement spends the same inputs and takes the extra fee from change.
func (w *Wallet) BumpFee(txid string, rate transaction.FeeRate) (*transaction.BuiltTransaction, *psbt.Packet, error) {
	record, err := w.store.GetBuiltTransaction(txid)
	if err != nil {
		return nil, nil, err
	}
	orig, err := psbt.NewFromRawBytes(strings.NewReader(record.PSBT), true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode stored psbt: %w", err)
	}
	origBuilt, err := w.builtFromPacket(orig)
	if err != nil {
		return nil, nil, err
	}

	built, err := w.planner.Selector.BumpFee(origBuilt, rate)
	if err != nil {
		return nil, nil, err
	}
	packet, err := transaction.ToPSBT(built, w)
	if err != nil {
		return nil, nil, err
	}
	if err := w.saveBuilt(packet, built.Fee); err != nil {
		return nil, nil, err
	}
	return built, packet, nil
}

// builtFromPacket recovers the wallet view of a stored PSBT. Inputs and the
// change output are identified by their BIP32 derivations.
func (w *Wallet) builtFromPacket(packet *psbt.Packet) (*transaction.BuiltTransaction, error) {
	tx := packet.UnsignedTx
	built := &transaction.BuiltTransaction{
		ChangeIndex: -1,
		Tx:          tx.Copy(),
	}
	if len(tx.TxIn) > 0 {
		built.Sequence = tx.TxIn[0].Sequence
	}

	for i, in := range packet.Inputs {
		if in.WitnessUtxo == nil {
			return nil, fmt.Errorf("input %d: missing witness utxo", i)
		}
		// Finalizing drops the derivations, so fall back to a key search.
		k, index, ok := w.keychainFor(in.Bip32Derivation)
		if !ok {
			var err error
			k, index, ok, err = w.keychainForScript(in.WitnessUtxo.PkScript)
			if err != nil {
				return nil, fmt.Errorf("input %d: %w", i, err)
			}
		}
		if !ok {
			return nil, fmt.Errorf("input %d: not a wallet key", i)
		}
		built.Inputs = append(built.Inputs, ledger.UTXO{
			OutPoint: tx.TxIn[i].PreviousOutPoint,
			Value:    btcutil.Amount(in.WitnessUtxo.Value),
			PkScript: in.WitnessUtxo.PkScript,
			IsChange: bool(k),
			Index:    index,
		})
	}

	for i, out := range packet.Outputs {
		txOut := tx.TxOut[i]
		o := transaction.Output{PkScript: txOut.PkScript, Amount: btcutil.Amount(txOut.Value)}
		if _, index, ok := w.keyFor(out.Bip32Derivation); ok && built.ChangeIndex < 0 {
			o.IsChange = true
			built.ChangeIndex = i
			built.ChangeKeyIndex = index
		}
		built.Outputs = append(built.Outputs, o)
	}

	built.Fee = packetFee(packet)
	return built, nil
}

func (w *Wallet) keychainFor(derivations []*psbt.Bip32Derivation) (Keychain, uint32, bool) {
	desc, index, ok := w.keyFor(derivations)
	if !ok {
		return External, 0, false
	}
	return Keychain(w.internal != nil && desc == w.internal), index, true
}

// keychainForScript searches both keychains, up to MinAvailableAddresses past
// the highest stored index, for the key paying to pkScript.
func (w *Wallet) keychainForScript(pkScript []byte) (Keychain, uint32, bool, error) {
	for _, k := range []Keychain{External, Internal} {
		if k == Internal && w.internal == nil {
			continue
		}
		last, err := w.store.GetLastAddressIndex(k.String())
		if err != nil {
			return External, 0, false, err
		}

		desc := w.descriptorFor(k)
		for index := int64(0); index <= last+MinAvailableAddresses; index++ {
			key, err := desc.Derive(uint32(index))
			if err != nil {
				return External, 0, false, err
			}
			if bytes.Equal(key.PkScript, pkScript) {
				return k, uint32(index), true, nil
			}
		}
	}
	return External, 0, false, nil
}

func (w *Wallet) saveBuilt(packet *psbt.Packet, fee btcutil.Amount) error {
	encoded, err := packet.B64Encode()
	if err != nil {
		return fmt.Errorf("failed to encode psbt: %w", err)
	}

	record := walletstatedb.BuiltTransaction{
		TxID:      packet.UnsignedTx.TxHash().String(),
		PSBT:      encoded,
		Fee:       int64(fee),
		Finalized: packet.IsComplete(),
	}
	if record.Finalized {
		record.RawTx, err = serializeFinal(packet)
		if err != nil {
			return err
		}
	}
	return w.store.SaveBuiltTransaction(record)
}

// Accept marks the inputs of built as spent.
func (w *Wallet) Accept(built *transaction.BuiltTransaction) error {
	return w.planner.Accept(built)
}

// Broadcast publishes a finalized packet and marks its inputs spent.
func (w *Wallet) Broadcast(ctx context.Context, built *transaction.BuiltTransaction,
	packet *psbt.Packet) (chainhash.Hash, error) {

	if w.broadcaster == nil {
		return chainhash.Hash{}, errors.New("wallet has no broadcaster")
	}
	if !packet.IsComplete() {
		return chainhash.Hash{}, ErrNotFinalized
	}
	tx, err := psbt.Extract(packet)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("failed to extract transaction: %w", err)
	}

	txid, err := w.broadcaster.Broadcast(ctx, tx)
	if err != nil {
		return chainhash.Hash{}, err
	}
	w.checkMempool(ctx, txid)

	err = w.Accept(built)
	if built.Replaces != nil && errors.Is(err, transaction.ErrAlreadySpent) {
		// The replaced transaction already consumed these inputs.
		logger.Debugf("Inputs of %v were spent by %v", txid, built.Replaces)
		return txid, nil
	}
	if err != nil {
		return txid, err
	}
	return txid, nil
}

// checkMempool warns when the server does not know a transaction it just
// accepted.
func (w *Wallet) checkMempool(ctx context.Context, txid chainhash.Hash) {
	if w.mempool == nil {
		return
	}
	seen, err := w.mempool.InMempool(ctx, txid)
	log := logger.WithField("txid", txid)
	switch {
	case err != nil:
		log.Warnf("Could not check mempool: %v", err)
	case !seen:
		log.Warn("Transaction is not in the server mempool")
	default:
		log.Debug("Transaction found in mempool")
	}
}
