package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/authgate/authgate/internal/domain/token"
)

var genKeyCmd = &cobra.Command{
	Use:   "gen-key",
	Short: "Generate a signing key for the config file",
	Long: `Generate a new HMAC signing key and print it as a YAML snippet
ready for the keys section of the config file.

To rotate keys: add the new key with status "active", change the old
key's status to "retiring", and restart. Retiring keys keep verifying
in-flight tokens for token.key_grace, then can be removed.

Example:
  authgate gen-key
  # keys:
  #   - id: 6b9f...
  #     secret: qUxL...
  #     status: active`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := token.GenerateSigningKey()
		if err != nil {
			return fmt.Errorf("generate signing key: %w", err)
		}
		fmt.Println("keys:")
		fmt.Printf("  - id: %s\n", key.ID)
		fmt.Printf("    secret: %s\n", base64.StdEncoding.EncodeToString(key.Secret))
		fmt.Println("    status: active")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(genKeyCmd)
}
