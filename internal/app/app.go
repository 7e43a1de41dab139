// Package app assembles the runtime object graph shared by the commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/and161185/jwt-auth/internal/config"
	"github.com/and161185/jwt-auth/internal/directory"
	"github.com/and161185/jwt-auth/internal/limiter"
	"github.com/and161185/jwt-auth/internal/metrics"
	"github.com/and161185/jwt-auth/internal/progress"
	"github.com/and161185/jwt-auth/internal/repository/postgres"
	"github.com/and161185/jwt-auth/internal/service"
	"github.com/and161185/jwt-auth/internal/token"
	"github.com/and161185/jwt-auth/internal/usersync"
)

// ErrNoDirectory is returned when a sync is requested without a directory DSN.
var ErrNoDirectory = errors.New("directory dsn is not configured")

// AuthService builds the token service over the local store.
func AuthService(cfg *config.Config, db *postgres.DB, reg prometheus.Registerer, log *zap.Logger) *service.AuthServiceImpl {
	users := postgres.NewUserRepo(db)
	lim := limiter.NewPG(db.Pool, cfg.LimiterPolicy())
	codec := token.New(cfg.TokenConfig())
	return service.NewAuthService(users, codec, lim, service.Options{
		AuthType:         cfg.Sync.AuthType,
		MnetHostID:       cfg.Sync.MnetHostID,
		DefaultLang:      cfg.Sync.DefaultLang,
		AllowManualLogin: cfg.AllowManualLogin,
		LoginSalt:        cfg.LoginSalt,
		LogoutURI:        cfg.LogoutURI,
	}, metrics.NewToken(reg), log.Named("auth"))
}

// Synchronizer opens the directory and builds a synchronizer over the local store.
// The returned close func releases the directory connection.
func Synchronizer(ctx context.Context, cfg *config.Config, db *postgres.DB, trace progress.Trace, reg prometheus.Registerer, log *zap.Logger) (*usersync.Synchronizer, func() error, error) {
	if cfg.Directory.DSN == "" {
		return nil, nil, ErrNoDirectory
	}
	dir, err := directory.Open(ctx, cfg.Directory.DSN, cfg.DirectorySchema())
	if err != nil {
		return nil, nil, fmt.Errorf("open directory: %w", err)
	}
	s := usersync.New(dir, postgres.NewUserRepo(db), trace, log.Named("sync"), cfg.SyncOptions(), metrics.NewSync(reg))
	return s, dir.Close, nil
}
