package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate auth material for a Gatelock policy",
		Long: `Generate the secrets the auth stage consumes: bcrypt hashes for
auth.api_keys entries, and random signing secrets for auth.signing_secret.

Config files should carry hashed API keys; the engine recognizes bcrypt
entries by their "$2" prefix and verifies presented keys against them.`,
	}

	cmd.AddCommand(keysHashCmd(), keysSecretCmd())
	return cmd
}

func keysHashCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash <api-key>",
		Short: "Bcrypt-hash an API key for auth.api_keys",
		Long: `Hash an API key with bcrypt so the config file never stores it in
the clear.

Examples:
  gatelock keys hash my-client-key
  gatelock keys hash my-client-key --cost 12`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if key == "" {
				return fmt.Errorf("api key must not be empty")
			}
			if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
				return fmt.Errorf("invalid cost %d: must be between %d and %d", cost, bcrypt.MinCost, bcrypt.MaxCost)
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
			if err != nil {
				return fmt.Errorf("hashing key: %w", err)
			}

			cmd.Println(string(hash))
			cmd.PrintErrln("\nAdd to your config:")
			cmd.PrintErrln("  auth:")
			cmd.PrintErrln("    api_keys:")
			cmd.PrintErrf("      - %q\n", string(hash))
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost factor")
	return cmd
}

func keysSecretCmd() *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Generate a random signing secret for auth.signing_secret",
		Long: `Generate a cryptographically random secret for HMAC bearer-token
signing, hex-encoded.

Examples:
  gatelock keys secret
  gatelock keys secret --bytes 64`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if size < 32 || size > 512 {
				return fmt.Errorf("invalid --bytes %d: must be between 32 and 512", size)
			}

			buf := make([]byte, size)
			if _, err := rand.Read(buf); err != nil {
				return fmt.Errorf("reading randomness: %w", err)
			}

			cmd.Println(hex.EncodeToString(buf))
			return nil
		},
	}

	cmd.Flags().IntVar(&size, "bytes", 32, "secret length in random bytes before encoding")
	return cmd
}
