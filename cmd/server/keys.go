package main

import (
	"fmt"
	"os"

	"github.com/jrsteele09/go-oidc-provider/token"
	"github.com/spf13/cobra"
)

var (
	keyAlgorithm string
	keyOutput    string
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage signing keys",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a signing key as PKCS#8 PEM",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		kp, err := token.GenerateKeyPair(keyAlgorithm)
		if err != nil {
			return err
		}
		pemData, err := kp.ExportPrivateKeyPEM()
		if err != nil {
			return err
		}
		if keyOutput == "" || keyOutput == "-" {
			_, err = fmt.Fprint(cmd.OutOrStdout(), pemData)
			return err
		}
		if err := os.WriteFile(keyOutput, []byte(pemData), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", keyOutput, err)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s key %s written to %s\n", kp.Algorithm, kp.KeyID, keyOutput)
		return err
	},
}

func init() {
	keysGenerateCmd.Flags().StringVarP(&keyAlgorithm, "alg", "a", token.RS256, "Signing algorithm (RS256, RS384, RS512, ES256, ES384, ES512)")
	keysGenerateCmd.Flags().StringVarP(&keyOutput, "out", "o", "", "Output file, stdout when empty")
	keysCmd.AddCommand(keysGenerateCmd)
}
