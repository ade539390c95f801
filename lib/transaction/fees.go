package transaction

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

const (
	// DefaultDustLimit is the smallest change output we are willing to
	// create. Anything below it is added to the fee.
	DefaultDustLimit = btcutil.Amount(546)

	// MempoolSpaceFeesURL is the default fee recommendation endpoint.
	MempoolSpaceFeesURL = "https://mempool.space/api/v1/fees/recommended"

	satPerKVByte = 1000
)

// MaxFeeRate is the highest accepted rate: the whole money supply per kvB.
const MaxFeeRate = FeeRate(btcutil.MaxSatoshi)

// unpayableFee is returned for fees above btcutil.MaxSatoshi. No set of
// outputs can cover it.
const unpayableFee = btcutil.MaxSatoshi + 1

// FeeRate is a fee rate in sat/vB, stored as an integer number of sat/kvB so
// that rates with up to three decimals stay exact.
type FeeRate btcutil.Amount

// NewFeeRate returns a whole sat/vB rate. Rates above MaxFeeRate come back as
// MaxFeeRate+1 so that selection rejects them.
func NewFeeRate(satPerVByte int64) FeeRate {
	if satPerVByte > int64(MaxFeeRate)/satPerKVByte {
		return MaxFeeRate + 1
	}
	if satPerVByte < 0 {
		return -1
	}
	return FeeRate(satPerVByte * satPerKVByte)
}

// FeeRateFromSatPerKVByte converts a sat/kvB amount, the unit Electrum and
// bitcoind report in, into a FeeRate.
func FeeRateFromSatPerKVByte(rate btcutil.Amount) FeeRate {
	return FeeRate(rate)
}

// ParseFeeRate parses a decimal sat/vB value such as "5" or "1.25". At most
// three decimals are accepted.
func ParseFeeRate(s string) (FeeRate, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return 0, fmt.Errorf("%w: cannot parse %q", ErrInvalidFeeRate, s)
	}
	if r.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidFeeRate, s)
	}

	r.Mul(r, big.NewRat(satPerKVByte, 1))
	if !r.IsInt() {
		return 0, fmt.Errorf("%w: %s has more than three decimals", ErrInvalidFeeRate, s)
	}
	q := r.Num()
	if q.Cmp(big.NewInt(int64(MaxFeeRate))) > 0 {
		return 0, fmt.Errorf("%w: %s is above %v", ErrInvalidFeeRate, s, MaxFeeRate)
	}

	return FeeRate(q.Int64()), nil
}

// Validate reports ErrInvalidFeeRate unless 0 < f <= MaxFeeRate.
func (f FeeRate) Validate() error {
	if f <= 0 || f > MaxFeeRate {
		return fmt.Errorf("%w: %v", ErrInvalidFeeRate, f)
	}
	return nil
}

// SatPerKVByte returns the rate in sat/kvB.
func (f FeeRate) SatPerKVByte() btcutil.Amount {
	return btcutil.Amount(f)
}

func (f FeeRate) String() string {
	return big.NewRat(int64(f), satPerKVByte).FloatString(3) + " sat/vB"
}

// FeeForVSize returns ceil(rate * vsize). Fees above btcutil.MaxSatoshi are
// reported as MaxSatoshi+1.
func (f FeeRate) FeeForVSize(vsize int64) btcutil.Amount {
	fee := new(big.Int).Mul(big.NewInt(int64(f)), big.NewInt(vsize))
	fee.Add(fee, big.NewInt(satPerKVByte-1))
	fee.Quo(fee, big.NewInt(satPerKVByte))
	if fee.Cmp(big.NewInt(int64(btcutil.MaxSatoshi))) > 0 {
		return unpayableFee
	}
	return btcutil.Amount(fee.Int64())
}

// SizePolicy holds the per-component byte and weight figures used to
// estimate a transaction's virtual size. The numbers are policy, not derived
// from the scripts being spent.
type SizePolicy struct {
	// BaseBytes covers version and locktime. Input and output counts are
	// added as varints.
	BaseBytes int64

	// BaseWitnessWeight is the segwit marker and flag.
	BaseWitnessWeight int64

	InputBytes         int64
	InputWitnessWeight int64
	OutputBytes        int64
}

// P2WPKHSizePolicy assumes every input spends P2WPKH and every output pays
// to P2WPKH.
var P2WPKHSizePolicy = SizePolicy{
	BaseBytes:          4 + 4,
	BaseWitnessWeight:  2,
	InputBytes:         txsizes.RedeemP2WPKHInputSize,
	InputWitnessWeight: txsizes.RedeemP2WPKHInputWitnessWeight,
	OutputBytes:        txsizes.P2WPKHOutputSize,
}

// EstimateVSize returns the virtual size in vbytes, rounded up.
func (p SizePolicy) EstimateVSize(inputs, outputs int) int64 {
	nonWitness := p.BaseBytes +
		int64(wire.VarIntSerializeSize(uint64(inputs))) +
		int64(wire.VarIntSerializeSize(uint64(outputs))) +
		p.InputBytes*int64(inputs) +
		p.OutputBytes*int64(outputs)

	weight := nonWitness*blockchain.WitnessScaleFactor +
		p.BaseWitnessWeight + p.InputWitnessWeight*int64(inputs)

	return (weight + blockchain.WitnessScaleFactor - 1) / blockchain.WitnessScaleFactor
}

// EstimateFee returns ceil(rate * vsize) for a transaction with the given
// shape.
func (p SizePolicy) EstimateFee(inputs, outputs int, rate FeeRate) (btcutil.Amount, error) {
	if err := rate.Validate(); err != nil {
		return 0, err
	}
	return rate.FeeForVSize(p.EstimateVSize(inputs, outputs)), nil
}

// EstimateFee estimates with P2WPKHSizePolicy.
func EstimateFee(inputs, outputs int, rate FeeRate) (btcutil.Amount, error) {
	return P2WPKHSizePolicy.EstimateFee(inputs, outputs, rate)
}

// FeeSource supplies a fee rate when the caller did not pick one.
type FeeSource interface {
	FeeRate(ctx context.Context) (FeeRate, error)
}

// MempoolSpaceFees reads the recommended rates from a mempool.space style
// endpoint.
type MempoolSpaceFees struct {
	URL      string
	Priority string
	Client   *http.Client
}

func (m *MempoolSpaceFees) FeeRate(ctx context.Context) (FeeRate, error) {
	url := m.URL
	if url == "" {
		url = MempoolSpaceFeesURL
	}
	client := m.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	feeRec, err := getFeeRecommendation(ctx, client, url)
	if err != nil {
		return 0, err
	}

	sats, err := feeRec.RateFor(m.Priority)
	if err != nil {
		return 0, err
	}
	return NewFeeRate(int64(sats)), nil
}

func getFeeRecommendation(ctx context.Context, client *http.Client, url string) (FeeRecommendation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FeeRecommendation{}, fmt.Errorf("failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return FeeRecommendation{}, fmt.Errorf("failed to fetch fee recommendation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FeeRecommendation{}, fmt.Errorf("fee recommendation: status code %d", resp.StatusCode)
	}

	var feeRec FeeRecommendation
	err = json.NewDecoder(resp.Body).Decode(&feeRec)
	return feeRec, err
}

// RateFor maps a priority name onto the recommendation.
func (f FeeRecommendation) RateFor(priority string) (int, error) {
	var rate int
	switch strings.ToLower(priority) {
	case "fastest":
		rate = f.FastestFee
	case "", "halfhour", "half-hour":
		rate = f.HalfHourFee
	case "hour":
		rate = f.HourFee
	case "economy":
		rate = f.EconomyFee
	case "minimum":
		rate = f.MinimumFee
	default:
		return 0, fmt.Errorf("unknown fee priority %q", priority)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("%w: recommendation for %q is %d", ErrInvalidFeeRate, priority, rate)
	}
	return rate, nil
}
