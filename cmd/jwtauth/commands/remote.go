package commands

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	grpcserver "github.com/and161185/jwt-auth/internal/server/grpc"
)

type remoteFlags struct {
	addr     string
	insecure bool
	timeout  time.Duration
}

func (f *remoteFlags) dial() (*grpc.ClientConn, error) {
	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if f.insecure {
		creds = insecure.NewCredentials()
	}
	return grpc.NewClient(f.addr, grpc.WithTransportCredentials(creds))
}

func newRemoteCmd() *cobra.Command {
	f := &remoteFlags{}
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Call a running jwtauth server",
	}
	cmd.PersistentFlags().StringVar(&f.addr, "addr", "localhost:8443", "server address")
	cmd.PersistentFlags().BoolVar(&f.insecure, "insecure", false, "plaintext connection")
	cmd.PersistentFlags().DurationVar(&f.timeout, "timeout", 10*time.Second, "call timeout")

	cmd.AddCommand(&cobra.Command{
		Use:   "authenticate <idnumber>",
		Short: "Request a token for idnumber",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := f.dial()
			if err != nil {
				return err
			}
			defer cc.Close()
			ctx, cancel := contextWithTimeout(cmd, f.timeout)
			defer cancel()
			tok, err := grpcserver.NewClient(cc).Authenticate(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <token>",
		Short: "Ask the server whether a token is valid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := f.dial()
			if err != nil {
				return err
			}
			defer cc.Close()
			ctx, cancel := contextWithTimeout(cmd, f.timeout)
			defer cancel()
			ok, err := grpcserver.NewClient(cc).Validate(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	})
	return cmd
}
