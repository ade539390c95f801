package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/wallet"
	"github.com/yuvraj-wale/sample-BDK-wallet/lib/transaction"
)

const (
	demoAmount  = 10_000
	demoFeeRate = 5 // sat/vB
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the end to end wallet walkthrough",
	Long: `Sync, print the balance, reveal three addresses and list the UTXOs. When
the wallet has a confirmed balance it also builds a 10000 sat payment to a
fresh wallet address at 5 sat/vB with RBF, without spending change, and signs
it. Nothing is broadcast.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Creating a simple descriptor wallet application...")
		fmt.Fprintln(out, "Syncing wallet with blockchain...")
		return withWallet(cmd, true, func(ctx context.Context, w *wallet.Wallet) error {
			return runDemo(ctx, w, out)
		})
	},
}

// demoRequest pays demoAmount to script at demoFeeRate with RBF and without
// spending change.
func demoRequest(script []byte) transaction.SpendRequest {
	return transaction.SpendRequest{
		Recipients: []transaction.Recipient{{PkScript: script, Amount: demoAmount}},
		FeeRate:    transaction.NewFeeRate(demoFeeRate),
		EnableRBF:  true,
	}
}

func runDemo(ctx context.Context, w *wallet.Wallet, out io.Writer) error {
	balance := w.Balance()
	fmt.Fprintf(out, "Wallet balance: %d SAT (confirmed: %d, unconfirmed: %d)\n",
		int64(balance.Total()), int64(balance.Confirmed), int64(balance.Unconfirmed))

	fmt.Fprintln(out, "\nGenerating new addresses:")
	for i := 0; i < 3; i++ {
		key, err := w.NewAddress(wallet.External)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Address #%d: %s\n", i, key.Address.EncodeAddress())
	}

	utxos := w.ListUnspent()
	fmt.Fprintf(out, "\nUTXO count: %d\n", len(utxos))
	for i, u := range utxos {
		fmt.Fprintf(out, "UTXO #%d: %d SAT, txid: %s\n", i, int64(u.Value), u.OutPoint.Hash)
	}

	if balance.Confirmed <= 0 {
		fmt.Fprintln(out, "\nWallet has no confirmed balance. Cannot create a transaction.")
		return nil
	}

	fmt.Fprintln(out, "\nCreating a transaction:")
	sendTo, err := w.NewAddress(wallet.External)
	if err != nil {
		return err
	}
	built, packet, err := w.CreateSpend(demoRequest(sendTo.PkScript))
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Transaction recipient: %s\n", sendTo.Address.EncodeAddress())
	fmt.Fprintf(out, "Transaction details: txid=%s inputs=%d inputs_value=%d sent=%d fee=%d change=%d\n",
		built.TxHash(), len(built.Inputs), int64(built.InputTotal()),
		int64(built.OutputTotal()-built.ChangeAmount()), int64(built.Fee), int64(built.ChangeAmount()))
	unsigned, err := packet.B64Encode()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Unsigned PSBT: %s\n", unsigned)

	fmt.Fprintln(out, "\nSigning transaction...")
	finalized, err := w.Sign(packet)
	if err != nil {
		return err
	}
	if finalized {
		fmt.Fprintln(out, "Transaction fully signed and ready to broadcast!")
	} else {
		fmt.Fprintln(out, "Transaction partially signed.")
	}
	return nil
}
