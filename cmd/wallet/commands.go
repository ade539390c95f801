package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/ledger"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/wallet"
	"github.com/yuvraj-wale/sample-BDK-wallet/lib/transaction"
)

type balanceResult struct {
	Confirmed    int64 `json:"confirmed"`
	Unconfirmed  int64 `json:"unconfirmed"`
	Total        int64 `json:"total"`
	SyncedHeight int32 `json:"syncedHeight"`
}

type utxoResult struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Value         int64  `json:"value"`
	Confirmations uint32 `json:"confirmations"`
	Keychain      string `json:"keychain"`
	Index         uint32 `json:"index"`
}

type addressResult struct {
	Keychain string `json:"keychain"`
	Index    uint32 `json:"index"`
	Address  string `json:"address"`
}

type sendResult struct {
	TxID          string `json:"txid"`
	Fee           int64  `json:"fee"`
	Change        int64  `json:"change"`
	FeeRate       string `json:"feeRate"`
	PSBT          string `json:"psbt"`
	Finalized     bool   `json:"finalized"`
	Replaces      string `json:"replaces,omitempty"`
	BroadcastTxID string `json:"broadcastTxid,omitempty"`
}

type estimateResult struct {
	Inputs  int    `json:"inputs"`
	Outputs int    `json:"outputs"`
	VSize   int64  `json:"vsize"`
	Fee     int64  `json:"fee"`
	Change  int64  `json:"change"`
	FeeRate string `json:"feeRate"`
}

type historyResult struct {
	TxID      string    `json:"txid"`
	Fee       int64     `json:"fee"`
	Finalized bool      `json:"finalized"`
	CreatedAt time.Time `json:"createdAt"`
}

// spendFlags are the command line switches shared by send and
// rbf-transaction.
type spendFlags struct {
	rbf           bool
	noChangeSpend bool
	sign          bool
	broadcast     bool
}

func addSpendFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("rbf", true, "signal replace-by-fee")
	cmd.Flags().Bool("no-change-spend", false, "do not spend outputs received as change")
	cmd.Flags().Bool("sign", false, "sign the transaction")
	cmd.Flags().Bool("broadcast", false, "sign and broadcast the transaction")
}

func readSpendFlags(cmd *cobra.Command) spendFlags {
	var f spendFlags
	f.rbf, _ = cmd.Flags().GetBool("rbf")
	f.noChangeSpend, _ = cmd.Flags().GetBool("no-change-spend")
	f.sign, _ = cmd.Flags().GetBool("sign")
	f.broadcast, _ = cmd.Flags().GetBool("broadcast")
	return f
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the wallet with the Electrum server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if offline {
			return errors.New("sync needs a server connection")
		}
		return withWallet(cmd, true, func(ctx context.Context, w *wallet.Wallet) error {
			balance, err := walletBalance(w)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				UTXOs   int           `json:"utxos"`
				Balance balanceResult `json:"balance"`
			}{len(w.ListUnspent()), balance})
		})
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Get the current wallet balance",
	Long: `Get the current wallet balance. With --offline the stored state is
reported together with the height it was last synced to.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWallet(cmd, true, func(ctx context.Context, w *wallet.Wallet) error {
			balance, err := walletBalance(w)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), balance)
		})
	},
}

func walletBalance(w *wallet.Wallet) (balanceResult, error) {
	height, err := w.SyncedHeight()
	if err != nil {
		return balanceResult{}, fmt.Errorf("error getting last scanned block height: %w", err)
	}
	return toBalanceResult(w.Balance(), height), nil
}

func toBalanceResult(b ledger.Balance, height int32) balanceResult {
	return balanceResult{
		Confirmed:    int64(b.Confirmed),
		Unconfirmed:  int64(b.Unconfirmed),
		Total:        int64(b.Total()),
		SyncedHeight: height,
	}
}

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Reveal new receive or change addresses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		change, _ := cmd.Flags().GetBool("change")
		count, _ := cmd.Flags().GetInt("count")
		if count < 1 {
			return fmt.Errorf("count must be positive, got %d", count)
		}

		return withWallet(cmd, true, func(ctx context.Context, w *wallet.Wallet) error {
			keychain := wallet.Keychain(change)
			results := make([]addressResult, 0, count)
			for i := 0; i < count; i++ {
				key, err := w.NewAddress(keychain)
				if err != nil {
					return err
				}
				results = append(results, addressResult{
					Keychain: keychain.String(),
					Index:    key.Index,
					Address:  key.Address.EncodeAddress(),
				})
			}
			return printJSON(cmd.OutOrStdout(), results)
		})
	},
}

var utxosCmd = &cobra.Command{
	Use:   "utxos",
	Short: "List unspent outputs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWallet(cmd, true, func(ctx context.Context, w *wallet.Wallet) error {
			utxos := w.ListUnspent()
			results := make([]utxoResult, len(utxos))
			for i, u := range utxos {
				results[i] = utxoResult{
					TxID:          u.OutPoint.Hash.String(),
					Vout:          u.OutPoint.Index,
					Value:         int64(u.Value),
					Confirmations: u.Confirmations,
					Keychain:      wallet.Keychain(u.IsChange).String(),
					Index:         u.Index,
				}
			}
			return printJSON(cmd.OutOrStdout(), results)
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [address] [amount-sat]",
	Short: "Build a spend to an address",
	Long: `Build a transaction paying amount satoshis to address and print its PSBT.
With --sign the wallet signs what it holds keys for; with --broadcast a fully
signed transaction is published and its inputs marked spent.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := cfg.ChainParams()
		if err != nil {
			return err
		}
		script, err := recipientScript(args[0], params)
		if err != nil {
			return err
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		flags := readSpendFlags(cmd)

		return withWallet(cmd, true, func(ctx context.Context, w *wallet.Wallet) error {
			rate, err := resolveFeeRate(ctx, w)
			if err != nil {
				return err
			}
			return runSend(ctx, w, cmd.OutOrStdout(), newSpendRequest(script, amount, rate, flags), flags)
		})
	},
}

var estimateTxSizeCmd = &cobra.Command{
	Use:   "estimate-tx-size [spend-amount] [recipient-address] [fee-rate]",
	Short: "Estimate transaction size",
	Long: `Plan a spend of spend-amount satoshis to recipient-address at fee-rate
sat/vB and report its inputs, virtual size, fee and change. Nothing is built
or recorded.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := cfg.ChainParams()
		if err != nil {
			return err
		}
		amount, err := parseAmount(args[0])
		if err != nil {
			return err
		}
		script, err := recipientScript(args[1], params)
		if err != nil {
			return err
		}
		rate, err := transaction.ParseFeeRate(args[2])
		if err != nil {
			return err
		}
		req := newSpendRequest(script, amount, rate, readSpendFlags(cmd))

		return withWallet(cmd, true, func(ctx context.Context, w *wallet.Wallet) error {
			return runEstimate(w, cmd.OutOrStdout(), req)
		})
	},
}

var rbfTransactionCmd = &cobra.Command{
	Use:   "rbf-transaction [original-txid] [new-fee-rate]",
	Short: "Replace a transaction with a higher fee",
	Long: `Rebuild a transaction this wallet built at a higher fee rate (in sat/vB).
The replacement spends the same inputs and takes the extra fee from change.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rate, err := transaction.ParseFeeRate(args[1])
		if err != nil {
			return err
		}
		flags := readSpendFlags(cmd)

		return withWallet(cmd, false, func(ctx context.Context, w *wallet.Wallet) error {
			built, packet, err := w.BumpFee(args[0], rate)
			if err != nil {
				return err
			}
			return finishSpend(ctx, w, cmd.OutOrStdout(), built, packet, rate, flags)
		})
	},
}

var txHistoryCmd = &cobra.Command{
	Use:   "tx-history",
	Short: "Get transaction history",
	Long:  `List every transaction the wallet built, oldest first.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWallet(cmd, false, func(ctx context.Context, w *wallet.Wallet) error {
			return runHistory(w, cmd.OutOrStdout())
		})
	},
}

func init() {
	addressCmd.Flags().Bool("change", false, "reveal internal (change) addresses")
	addressCmd.Flags().Int("count", 1, "number of addresses to reveal")

	sendCmd.Flags().String("fee-rate", "", "fee rate in sat/vB (default: fee_rate from config, then the fee source)")
	addSpendFlags(sendCmd)
	_ = viper.BindPFlag("fee_rate", sendCmd.Flags().Lookup("fee-rate"))

	estimateTxSizeCmd.Flags().Bool("no-change-spend", false, "do not spend outputs received as change")

	rbfTransactionCmd.Flags().Bool("sign", false, "sign the replacement")
	rbfTransactionCmd.Flags().Bool("broadcast", false, "sign and broadcast the replacement")
}

func parseAmount(s string) (btcutil.Amount, error) {
	amount, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if amount <= 0 || amount > btcutil.MaxSatoshi {
		return 0, fmt.Errorf("%w: %d", transaction.ErrInvalidAmount, amount)
	}
	return btcutil.Amount(amount), nil
}

func recipientScript(address string, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("address %q is not for %s", address, params.Name)
	}
	return txscript.PayToAddrScript(addr)
}

// newSpendRequest maps the command line onto a single recipient spend.
func newSpendRequest(script []byte, amount btcutil.Amount, rate transaction.FeeRate,
	flags spendFlags) transaction.SpendRequest {

	return transaction.SpendRequest{
		Recipients:       []transaction.Recipient{{PkScript: script, Amount: amount}},
		FeeRate:          rate,
		AllowChangeSpend: !flags.noChangeSpend,
		EnableRBF:        flags.rbf,
	}
}

// resolveFeeRate prefers the configured rate and falls back to the fee source.
func resolveFeeRate(ctx context.Context, w *wallet.Wallet) (transaction.FeeRate, error) {
	if cfg.FeeRate != "" {
		return transaction.ParseFeeRate(cfg.FeeRate)
	}
	if offline {
		return 0, errors.New("--fee-rate is required when offline")
	}
	rate, err := w.FeeRate(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get fee rate: %w", err)
	}
	return rate, nil
}

func runSend(ctx context.Context, w *wallet.Wallet, out io.Writer,
	req transaction.SpendRequest, flags spendFlags) error {

	built, packet, err := w.CreateSpend(req)
	if err != nil {
		return err
	}
	return finishSpend(ctx, w, out, built, packet, req.FeeRate, flags)
}

// finishSpend signs and broadcasts as flags ask and prints the result.
func finishSpend(ctx context.Context, w *wallet.Wallet, out io.Writer, built *transaction.BuiltTransaction,
	packet *psbt.Packet, rate transaction.FeeRate, flags spendFlags) error {

	if flags.sign || flags.broadcast {
		var err error
		built.IsFinalized, err = w.Sign(packet)
		if err != nil {
			return err
		}
	}

	encoded, err := packet.B64Encode()
	if err != nil {
		return err
	}
	result := sendResult{
		TxID:      built.TxHash().String(),
		Fee:       int64(built.Fee),
		Change:    int64(built.ChangeAmount()),
		FeeRate:   rate.String(),
		PSBT:      encoded,
		Finalized: built.IsFinalized,
	}
	if built.Replaces != nil {
		result.Replaces = built.Replaces.String()
	}

	if flags.broadcast {
		txid, err := w.Broadcast(ctx, built, packet)
		if err != nil {
			return err
		}
		result.BroadcastTxID = txid.String()
	}
	return printJSON(out, result)
}

func runEstimate(w *wallet.Wallet, out io.Writer, req transaction.SpendRequest) error {
	est, err := w.EstimateSpend(req)
	if err != nil {
		return err
	}
	return printJSON(out, estimateResult{
		Inputs:  est.Inputs,
		Outputs: est.Outputs,
		VSize:   est.VSize,
		Fee:     int64(est.Fee),
		Change:  int64(est.Change),
		FeeRate: req.FeeRate.String(),
	})
}

func runHistory(w *wallet.Wallet, out io.Writer) error {
	txs, err := w.History()
	if err != nil {
		return fmt.Errorf("error getting transaction history: %w", err)
	}
	results := make([]historyResult, len(txs))
	for i, tx := range txs {
		results[i] = historyResult{
			TxID:      tx.TxID,
			Fee:       tx.Fee,
			Finalized: tx.Finalized,
			CreatedAt: tx.CreatedAt,
		}
	}
	return printJSON(out, results)
}
