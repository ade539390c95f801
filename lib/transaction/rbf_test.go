package transaction

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBumpFeeReducesChange(t *testing.T) {
	t.Parallel()

	orig := buildScenario(t, 6000, true)
	s := NewCoinSelector(DefaultPolicy())

	bumped, err := s.BumpFee(orig, NewFeeRate(5))
	require.NoError(t, err)

	require.EqualValues(t, 1045, bumped.Fee)
	require.EqualValues(t, 955, bumped.ChangeAmount())
	require.Equal(t, 1, bumped.ChangeIndex)
	require.EqualValues(t, 7, bumped.ChangeKeyIndex)
	require.Equal(t, p2wpkhScript(0xcc), bumped.Tx.TxOut[1].PkScript)
	require.EqualValues(t, 6000, bumped.Tx.TxOut[0].Value)
	require.Equal(t, bumped.InputTotal(), bumped.OutputTotal()+bumped.Fee)

	require.Len(t, bumped.Tx.TxIn, len(orig.Tx.TxIn))
	for i, in := range bumped.Tx.TxIn {
		require.Equal(t, orig.Tx.TxIn[i].PreviousOutPoint, in.PreviousOutPoint)
		require.Equal(t, uint32(RBFSequenceNumber), in.Sequence)
	}

	require.NotNil(t, bumped.Replaces)
	require.Equal(t, orig.TxHash(), *bumped.Replaces)
	require.NotEqual(t, orig.TxHash(), bumped.TxHash())
}

func TestBumpFeeDropsDustChange(t *testing.T) {
	t.Parallel()

	orig := buildScenario(t, 6000, true)
	s := NewCoinSelector(DefaultPolicy())

	bumped, err := s.BumpFee(orig, NewFeeRate(8))
	require.NoError(t, err)
	require.Equal(t, -1, bumped.ChangeIndex)
	require.Len(t, bumped.Tx.TxOut, 1)
	require.EqualValues(t, 2000, bumped.Fee)
	require.Equal(t, bumped.InputTotal(), bumped.OutputTotal()+bumped.Fee)
}

func TestBumpFeeErrors(t *testing.T) {
	t.Parallel()

	s := NewCoinSelector(DefaultPolicy())
	orig := buildScenario(t, 6000, true)

	tests := []struct {
		name string
		orig *BuiltTransaction
		rate FeeRate
		want error
	}{
		{"same rate", orig, NewFeeRate(1), ErrFeeNotIncreased},
		{"change cannot cover", orig, NewFeeRate(12), ErrInsufficientFunds},
		{"invalid rate", orig, 0, ErrInvalidFeeRate},
		{"no rbf signal", buildScenario(t, 6000, false), NewFeeRate(5), ErrNotReplaceable},
		{"no change to take from", buildScenario(t, 7300, true), NewFeeRate(2), ErrFeeNotIncreased},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.BumpFee(tc.orig, tc.rate)
			require.ErrorIs(t, err, tc.want)
		})
	}
}
