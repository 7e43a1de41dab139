package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	pkgcrypto "github.com/and161185/jwt-auth/internal/crypto"
)

func newKeygenCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print a random signing secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if size < 16 {
				return fmt.Errorf("--bytes must be at least 16")
			}
			s, err := pkgcrypto.NewSecret(size)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "bytes", 32, "secret length in bytes before encoding")
	return cmd
}
