package transaction

import (
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/ledger"
)

func newPlanner(t *testing.T, utxos ...ledger.UTXO) (*Planner, *ledger.Ledger) {
	t.Helper()

	l, err := ledger.New(nil)
	require.NoError(t, err)
	require.NoError(t, l.Replace(utxos))

	return &Planner{
		Ledger:       l,
		Selector:     NewCoinSelector(DefaultPolicy()),
		ChangeSource: staticChange(0),
	}, l
}

func payTo(amount int64) SpendRequest {
	return SpendRequest{
		Recipients: []Recipient{{PkScript: p2wpkhScript(0xaa), Amount: btcutil.Amount(amount)}},
		FeeRate:    NewFeeRate(1),
	}
}

func TestPlanDoesNotConsume(t *testing.T) {
	t.Parallel()

	p, l := newPlanner(t, utxo(1, 0, 5000), utxo(2, 0, 3000))

	first, err := p.Plan(payTo(6000))
	require.NoError(t, err)
	second, err := p.Plan(payTo(6000))
	require.NoError(t, err)
	require.Equal(t, first.TxHash(), second.TxHash())
	require.Len(t, l.AvailableUTXOs(true), 2)
}

func TestAcceptMarksSpent(t *testing.T) {
	t.Parallel()

	p, l := newPlanner(t, utxo(1, 0, 5000), utxo(2, 0, 3000), utxo(3, 0, 1000))

	built, err := p.Plan(payTo(6000))
	require.NoError(t, err)
	require.NoError(t, p.Accept(built))

	left := l.AvailableUTXOs(true)
	require.Len(t, left, 1)
	require.EqualValues(t, 1000, left[0].Value)

	require.ErrorIs(t, p.Accept(built), ErrAlreadySpent)

	_, err = p.Plan(payTo(6000))
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestPlanHonorsMinConfirmations(t *testing.T) {
	t.Parallel()

	fresh := utxo(1, 0, 50000)
	fresh.Confirmations = 0
	p, _ := newPlanner(t, fresh, utxo(2, 0, 3000))
	p.MinConfirmations = 1

	_, err := p.Plan(payTo(10000))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	p.MinConfirmations = 0
	built, err := p.Plan(payTo(10000))
	require.NoError(t, err)
	require.Equal(t, fresh.OutPoint, built.Inputs[0].OutPoint)
}

func TestPlanHonorsAllowChangeSpend(t *testing.T) {
	t.Parallel()

	change := utxo(1, 0, 50000)
	change.IsChange = true
	p, _ := newPlanner(t, change, utxo(2, 0, 3000))

	_, err := p.Plan(payTo(10000))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	req := payTo(10000)
	req.AllowChangeSpend = true
	built, err := p.Plan(req)
	require.NoError(t, err)
	require.True(t, built.Inputs[0].IsChange)
}

func TestPlanAndAcceptConcurrent(t *testing.T) {
	t.Parallel()

	p, _ := newPlanner(t, utxo(1, 0, 5000), utxo(2, 0, 5000), utxo(3, 0, 5000))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		spent    = map[string]bool{}
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			built, err := p.PlanAndAccept(payTo(4000))
			if err != nil {
				assert.ErrorIs(t, err, ErrInsufficientFunds)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			accepted++
			for _, in := range built.Inputs {
				key := in.OutPoint.String()
				assert.False(t, spent[key], "%s spent twice", key)
				spent[key] = true
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 3, accepted)
}

func TestPlanNoRecipients(t *testing.T) {
	t.Parallel()

	p, _ := newPlanner(t, utxo(1, 0, 5000))
	_, err := p.Plan(SpendRequest{FeeRate: NewFeeRate(1)})
	require.ErrorIs(t, err, ErrNoRecipients)
}
