package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nodegate",
	Short: "Transaction co-signing and authorization gateway for node rewards, staking and airdrops",
	Long: `nodegate sits between end-user wallets and the on-chain reward, stake and
airdrop programs. Every state-changing transaction must be countersigned by the
gateway's administrative key, and the co-signature is only granted after the
request has been verified against the authorization ledger and the returned
transaction has been checked for tampering.`,
}

// Execute runs the root command.
func Execute() {
	// Load .env if present; real deployments configure via the environment.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
