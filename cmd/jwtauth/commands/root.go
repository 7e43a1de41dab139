// Package commands implements the jwtauth CLI subcommands.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/jwt-auth/internal/config"
	"github.com/and161185/jwt-auth/internal/logger"
)

type globals struct {
	configPath string
}

func (g *globals) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Debug, cfg.Log.Development)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "jwtauth",
		Short:         "JWT authentication and directory sync tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to YAML config")

	root.AddCommand(newSyncCmd(g))
	root.AddCommand(newTokenCmd(g))
	root.AddCommand(newMigrateCmd(g))
	root.AddCommand(newKeygenCmd())
	root.AddCommand(newRemoteCmd())
	return root
}
