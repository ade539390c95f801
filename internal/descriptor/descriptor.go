// Package descriptor parses single key segwit v0 output descriptors of the
// form wpkh([fingerprint/origin]xpub/branch/*) and derives their keys.
package descriptor

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

var (
	ErrInvalidDescriptor = errors.New("invalid descriptor")
	ErrBadChecksum       = errors.New("descriptor checksum mismatch")
	ErrWrongNetwork      = errors.New("descriptor key is for another network")
	ErrWatchOnly         = errors.New("descriptor has no private key")
)

// Descriptor is a parsed wpkh descriptor with a ranged key.
type Descriptor struct {
	// Fingerprint is the master key fingerprint as it appears in the origin,
	// in serialization byte order.
	Fingerprint [4]byte
	OriginPath  []uint32

	// Steps are the fixed derivation steps between the key and the wildcard.
	Steps []uint32

	key    *hdkeychain.ExtendedKey
	params *chaincfg.Params
}

// Key is one derived descriptor key.
type Key struct {
	Index   uint32
	PubKey  *btcec.PublicKey
	PrivKey *btcec.PrivateKey

	Address  btcutil.Address
	PkScript []byte

	// Path is the full BIP32 path from the master key.
	Path []uint32
}

// Parse parses s for the given network. A trailing checksum is verified when
// present.
func Parse(s string, params *chaincfg.Params) (*Descriptor, error) {
	body, err := splitChecksum(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(body, "wpkh(") || !strings.HasSuffix(body, ")") {
		return nil, fmt.Errorf("%w: only wpkh(...) is supported", ErrInvalidDescriptor)
	}
	inner := body[len("wpkh(") : len(body)-1]

	d := &Descriptor{params: params}
	if strings.HasPrefix(inner, "[") {
		end := strings.Index(inner, "]")
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated key origin", ErrInvalidDescriptor)
		}
		if err := d.parseOrigin(inner[1:end]); err != nil {
			return nil, err
		}
		inner = inner[end+1:]
	}

	parts := strings.Split(inner, "/")
	if len(parts) < 2 || parts[len(parts)-1] != "*" {
		return nil, fmt.Errorf("%w: key must end in a /* wildcard", ErrInvalidDescriptor)
	}

	d.key, err = hdkeychain.NewKeyFromString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if !d.key.IsForNet(params) {
		return nil, fmt.Errorf("%w: expected %s", ErrWrongNetwork, params.Name)
	}

	d.Steps, err = parsePath(parts[1 : len(parts)-1])
	if err != nil {
		return nil, err
	}
	for _, step := range d.Steps {
		if step >= hdkeychain.HardenedKeyStart && !d.key.IsPrivate() {
			return nil, fmt.Errorf("%w: hardened step below a public key", ErrInvalidDescriptor)
		}
	}

	if d.OriginPath == nil && d.key.Depth() == 0 {
		pub, err := d.key.ECPubKey()
		if err != nil {
			return nil, err
		}
		copy(d.Fingerprint[:], btcutil.Hash160(pub.SerializeCompressed())[:4])
	}

	return d, nil
}

func (d *Descriptor) parseOrigin(origin string) error {
	parts := strings.Split(origin, "/")
	fp, err := hex.DecodeString(parts[0])
	if err != nil || len(fp) != 4 {
		return fmt.Errorf("%w: bad fingerprint %q", ErrInvalidDescriptor, parts[0])
	}
	copy(d.Fingerprint[:], fp)

	d.OriginPath, err = parsePath(parts[1:])
	if err != nil {
		return err
	}
	if d.OriginPath == nil {
		d.OriginPath = []uint32{}
	}
	return nil
}

// parsePath reads path elements, accepting both ' and h as the hardened
// marker.
func parsePath(parts []string) ([]uint32, error) {
	var path []uint32
	for _, part := range parts {
		hardened := strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h")
		if hardened {
			part = part[:len(part)-1]
		}
		index64, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid path component %q", ErrInvalidDescriptor, part)
		}
		index := uint32(index64)
		if hardened {
			index += hdkeychain.HardenedKeyStart
		}
		path = append(path, index)
	}
	return path, nil
}

func formatPath(path []uint32) string {
	var b strings.Builder
	for _, index := range path {
		b.WriteByte('/')
		if index >= hdkeychain.HardenedKeyStart {
			b.WriteString(strconv.FormatUint(uint64(index-hdkeychain.HardenedKeyStart), 10))
			b.WriteByte('h')
		} else {
			b.WriteString(strconv.FormatUint(uint64(index), 10))
		}
	}
	return b.String()
}

// IsPrivate reports whether the descriptor can sign.
func (d *Descriptor) IsPrivate() bool {
	return d.key.IsPrivate()
}

// Params returns the network the descriptor was parsed for.
func (d *Descriptor) Params() *chaincfg.Params {
	return d.params
}

// MasterFingerprint returns the fingerprint as the little endian integer
// PSBT derivation records use.
func (d *Descriptor) MasterFingerprint() uint32 {
	return binary.LittleEndian.Uint32(d.Fingerprint[:])
}

// Path returns the full path of the key at index.
func (d *Descriptor) Path(index uint32) []uint32 {
	path := make([]uint32, 0, len(d.OriginPath)+len(d.Steps)+1)
	path = append(path, d.OriginPath...)
	path = append(path, d.Steps...)
	return append(path, index)
}

// MatchPath returns the index a full derivation path points at, if the path
// belongs to this descriptor.
func (d *Descriptor) MatchPath(path []uint32) (uint32, bool) {
	prefix := d.Path(0)
	if len(path) != len(prefix) {
		return 0, false
	}
	for i := 0; i < len(prefix)-1; i++ {
		if path[i] != prefix[i] {
			return 0, false
		}
	}
	index := path[len(path)-1]
	if index >= hdkeychain.HardenedKeyStart {
		return 0, false
	}
	return index, true
}

// Derive derives the key at index.
func (d *Descriptor) Derive(index uint32) (*Key, error) {
	if index >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("%w: index %d is hardened", ErrInvalidDescriptor, index)
	}

	key := d.key
	var err error
	for _, step := range append(append([]uint32{}, d.Steps...), index) {
		key, err = key.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key: %w", err)
		}
	}

	pub, err := key.ECPubKey()
	if err != nil {
		return nil, err
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pub.SerializeCompressed()), d.params)
	if err != nil {
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	k := &Key{
		Index:    index,
		PubKey:   pub,
		Address:  addr,
		PkScript: pkScript,
		Path:     d.Path(index),
	}
	if key.IsPrivate() {
		k.PrivKey, err = key.ECPrivKey()
		if err != nil {
			return nil, err
		}
	}
	return k, nil
}

// PrivKey returns the private key at index.
func (d *Descriptor) PrivKey(index uint32) (*btcec.PrivateKey, error) {
	if !d.IsPrivate() {
		return nil, ErrWatchOnly
	}
	k, err := d.Derive(index)
	if err != nil {
		return nil, err
	}
	return k.PrivKey, nil
}

// String renders the public form of the descriptor with its checksum.
func (d *Descriptor) String() string {
	pub := d.key
	if pub.IsPrivate() {
		var err error
		pub, err = pub.Neuter()
		if err != nil {
			return "<invalid>"
		}
	}
	return render(d, pub.String())
}

func render(d *Descriptor, key string) string {
	var b strings.Builder
	b.WriteString("wpkh(")
	if d.OriginPath != nil {
		b.WriteByte('[')
		b.WriteString(hex.EncodeToString(d.Fingerprint[:]))
		b.WriteString(formatPath(d.OriginPath))
		b.WriteByte(']')
	}
	b.WriteString(key)
	b.WriteString(formatPath(d.Steps))
	b.WriteString("/*)")

	body := b.String()
	sum, err := Checksum(body)
	if err != nil {
		return body
	}
	return body + "#" + sum
}
