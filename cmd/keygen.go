package cmd

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"nodegate/config"
)

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an administrative keypair file",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			return fmt.Errorf("generate keypair: %w", err)
		}
		if err := config.WriteKeypairFile(keygenOut, key); err != nil {
			return err
		}
		// Only the public half is printed; the secret stays in the file.
		fmt.Printf("wrote %s\npublic key: %s\n", keygenOut, key.PublicKey().String())
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "admin-keypair.json", "output file path")
	rootCmd.AddCommand(keygenCmd)
}
