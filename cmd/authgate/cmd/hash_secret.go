package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/authgate/authgate/internal/domain/auth"
)

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret [secret]",
	Short: "Hash a principal secret for the config file",
	Long: `Generate an Argon2id hash of a login secret for use in config.

The output is a PHC-format string for the principals.secret_hash field.
Plaintext secrets are never stored.

Example:
  authgate hash-secret "correct horse battery staple"
  # Output: $argon2id$v=19$m=47104,t=1,p=1$...

Security note: The secret will appear in shell history.
Consider clearing history after use or using an environment variable:
  authgate hash-secret "$MY_SECRET"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.NewArgon2idHasher().Hash(args[0])
		if err != nil {
			return fmt.Errorf("hash secret: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashSecretCmd)
}
