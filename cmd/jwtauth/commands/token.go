package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/and161185/jwt-auth/internal/app"
	"github.com/and161185/jwt-auth/internal/config"
	"github.com/and161185/jwt-auth/internal/repository/postgres"
	"github.com/and161185/jwt-auth/internal/token"
)

func newTokenCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue, encode and decode tokens",
	}
	cmd.AddCommand(newTokenIssueCmd(g))
	cmd.AddCommand(newTokenEncodeCmd(g))
	cmd.AddCommand(newTokenDecodeCmd(g))
	return cmd
}

func newTokenIssueCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "issue <idnumber>",
		Short: "Issue a token for the local identity with idnumber",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			db, err := postgres.New(cmd.Context(), cfg.Local.DSN)
			if err != nil {
				return fmt.Errorf("connect local store: %w", err)
			}
			defer db.Close()

			tok, err := app.AuthService(cfg, db, nil, log).IssueToken(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
			return nil
		},
	}
}

func newTokenEncodeCmd(g *globals) *cobra.Command {
	var alg string
	cmd := &cobra.Command{
		Use:   "encode <claims-json>",
		Short: "Sign arbitrary claims with the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := codecFrom(g)
			if err != nil {
				return err
			}
			a, err := token.ParseAlgorithm(alg)
			if err != nil {
				return err
			}
			var claims map[string]any
			if err := json.Unmarshal([]byte(args[0]), &claims); err != nil {
				return fmt.Errorf("claims must be a JSON object: %w", err)
			}
			tok, err := codec.Encode(claims, a)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&alg, "alg", string(token.DefaultAlgorithm), "HS256, HS384 or HS512")
	return cmd
}

func newTokenDecodeCmd(g *globals) *cobra.Command {
	var noVerify bool
	cmd := &cobra.Command{
		Use:   "decode <token>",
		Short: "Decode a token and print its claims",
		Long:  "Expiry is always checked; --no-verify skips only the signature check.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := codecFrom(g)
			if err != nil {
				return err
			}
			claims, err := codec.Decode(args[0], !noVerify)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(claims)
		},
	}
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip signature verification")
	return cmd
}

func codecFrom(g *globals) (*token.Codec, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Secret == "" {
		return nil, errors.New("secret is not configured")
	}
	return token.New(cfg.TokenConfig()), nil
}
