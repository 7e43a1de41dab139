// Package service contains the token authentication application service.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/jwt-auth/internal/crypto"
	"github.com/and161185/jwt-auth/internal/errs"
	"github.com/and161185/jwt-auth/internal/limiter"
	"github.com/and161185/jwt-auth/internal/metrics"
	"github.com/and161185/jwt-auth/internal/model"
	"github.com/and161185/jwt-auth/internal/repository"
	"github.com/and161185/jwt-auth/internal/token"
)

// AuthService defines token issuance, validation and login operations.
type AuthService interface {
	// IssueToken signs a token whose subject is the local id of the identity with idnumber.
	IssueToken(ctx context.Context, idnumber string) (model.Tokens, error)
	// ValidateToken verifies a token and returns its claims.
	ValidateToken(ctx context.Context, tok string) (map[string]any, error)
	// UpdateUser creates or updates the identity described by d once tok verifies.
	UpdateUser(ctx context.Context, tok string, d model.UserData) (int64, error)
	// LoginWithToken authenticates the identity with idnumber when tok was issued for it.
	LoginWithToken(ctx context.Context, sess *Session, tok, idnumber string) (*model.Identity, error)
	// CheckCredentials authenticates a pending token result on sess or, when allowed, a password.
	CheckCredentials(ctx context.Context, sess *Session, username, password, ip string) (*model.Identity, error)
	// Logout clears sess and returns the redirect target.
	Logout(sess *Session) string
}

// Options configures AuthServiceImpl.
type Options struct {
	AuthType         string
	MnetHostID       int64
	DefaultLang      string
	AllowManualLogin bool
	LoginSalt        string
	LogoutURI        string
}

type AuthServiceImpl struct {
	users    repository.IdentityStore
	codec    *token.Codec
	lim      limiter.Limiter
	opts     Options
	metrics  *metrics.Token
	log      *zap.Logger
	validate *validator.Validate
}

var _ AuthService = (*AuthServiceImpl)(nil)

// NewAuthService constructs AuthServiceImpl. lim, m and log may be nil.
func NewAuthService(users repository.IdentityStore, codec *token.Codec, lim limiter.Limiter, opts Options, m *metrics.Token, log *zap.Logger) *AuthServiceImpl {
	if lim == nil {
		lim = limiter.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.AuthType == "" {
		opts.AuthType = "jwt"
	}
	if opts.MnetHostID == 0 {
		opts.MnetHostID = 1
	}
	return &AuthServiceImpl{
		users:    users,
		codec:    codec,
		lim:      lim,
		opts:     opts,
		metrics:  m,
		log:      log,
		validate: validator.New(),
	}
}

// IssueToken looks the identity up by idnumber and encodes {"sub": id}.
func (s *AuthServiceImpl) IssueToken(ctx context.Context, idnumber string) (tokens model.Tokens, err error) {
	defer func() { s.metrics.Observe("issue", errs.Kind(err)) }()
	if idnumber == "" {
		return model.Tokens{}, fmt.Errorf("%w: empty idnumber", errs.ErrNotFound)
	}
	u, err := s.users.Get(ctx, repository.Filter{Idnumber: idnumber})
	if err != nil {
		return model.Tokens{}, err
	}
	tok, err := s.codec.Encode(map[string]any{token.ClaimSubject: strconv.FormatInt(u.ID, 10)}, token.DefaultAlgorithm)
	if err != nil {
		return model.Tokens{}, err
	}
	claims, err := s.codec.Decode(tok, false)
	if err != nil {
		return model.Tokens{}, err
	}
	exp, _ := token.ExpiresAt(claims)
	return model.Tokens{AccessToken: tok, ExpiresAt: exp}, nil
}

// ValidateToken decodes with signature verification.
func (s *AuthServiceImpl) ValidateToken(_ context.Context, tok string) (claims map[string]any, err error) {
	defer func() { s.metrics.Observe("validate", errs.Kind(err)) }()
	return s.codec.Decode(tok, true)
}

// UpdateUser upserts by idnumber. New identities are tagged with this auth method.
func (s *AuthServiceImpl) UpdateUser(ctx context.Context, tok string, d model.UserData) (id int64, err error) {
	defer func() { s.metrics.Observe("update_user", errs.Kind(err)) }()
	if _, err := s.codec.Decode(tok, true); err != nil {
		return 0, err
	}
	d.Username = model.NormalizeUsername(d.Username)
	if err := s.validate.Struct(d); err != nil {
		return 0, fmt.Errorf("validation: %w", err)
	}

	u, err := s.users.Get(ctx, repository.Filter{Idnumber: d.Idnumber})
	switch {
	case errors.Is(err, errs.ErrNotFound):
		u = &model.Identity{
			Auth:       s.opts.AuthType,
			Idnumber:   d.Idnumber,
			Confirmed:  true,
			MnetHostID: s.opts.MnetHostID,
			Lang:       s.opts.DefaultLang,
		}
		apply(u, d)
		id, err := s.users.Create(ctx, u)
		if err != nil {
			return 0, err
		}
		s.log.Info("identity created from token request", zap.Int64("id", id), zap.String("idnumber", d.Idnumber))
		return id, nil
	case err != nil:
		return 0, err
	}
	apply(u, d)
	if err := s.users.Update(ctx, u); err != nil {
		return 0, err
	}
	return u.ID, nil
}

func apply(u *model.Identity, d model.UserData) {
	u.Username = model.Truncate("username", d.Username)
	u.Email = model.Truncate("email", d.Email)
	u.FirstName = model.Truncate("firstname", d.FirstName)
	u.LastName = model.Truncate("lastname", d.LastName)
}

// LoginWithToken verifies tok, requires its subject to be the id of the identity with
// idnumber, records the result on sess and completes login through CheckCredentials.
func (s *AuthServiceImpl) LoginWithToken(ctx context.Context, sess *Session, tok, idnumber string) (u *model.Identity, err error) {
	defer func() { s.metrics.Observe("login_token", errs.Kind(err)) }()
	if sess == nil {
		return nil, errors.New("nil session")
	}
	claims, err := s.codec.Decode(tok, true)
	if err != nil {
		return nil, err
	}
	u, err = s.users.Get(ctx, repository.Filter{Idnumber: idnumber})
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrUnauthorized
		}
		return nil, err
	}
	if sub, ok := token.Subject(claims); !ok || sub != strconv.FormatInt(u.ID, 10) {
		return nil, fmt.Errorf("%w: token is not valid for the given user", errs.ErrUnauthorized)
	}
	sess.set(AuthResult{UserID: u.ID, Username: u.Username, Method: MethodToken, At: time.Now()})
	return s.CheckCredentials(ctx, sess, u.Username, "", "")
}

// CheckCredentials consumes a pending token result for username. Without one, and when
// manual login is allowed, it verifies password against the stored hash, upgrading
// legacy hashes to bcrypt. Attempts are throttled per (username, ip).
func (s *AuthServiceImpl) CheckCredentials(ctx context.Context, sess *Session, username, password, ip string) (*model.Identity, error) {
	username = model.NormalizeUsername(username)
	if r, ok := sess.take(); ok {
		if r.Username == username {
			u, err := s.users.Get(ctx, repository.Filter{Username: username, MnetHostID: s.opts.MnetHostID})
			if err != nil {
				return nil, err
			}
			sess.set(r.completed())
			return u, nil
		}
		s.log.Warn("pending token result for another user discarded", zap.String("username", username))
	}
	if !s.opts.AllowManualLogin || username == "" || password == "" {
		return nil, errs.ErrUnauthorized
	}

	client := limiter.HashClient(ip)
	allowed, _, err := s.lim.Allow(ctx, username, client)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errs.ErrRateLimited
	}

	u, err := s.users.Get(ctx, repository.Filter{Username: username, MnetHostID: s.opts.MnetHostID})
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	ok, upgrade := false, false
	if err == nil && !u.Suspended {
		ok, upgrade = pkgcrypto.VerifyPassword(password, u.Password, s.opts.LoginSalt)
	}
	if !ok {
		blocked, _, ferr := s.lim.Failure(ctx, username, client)
		if ferr != nil {
			s.log.Warn("login failure not recorded", zap.String("username", username), zap.Error(ferr))
		}
		if blocked {
			return nil, errs.ErrRateLimited
		}
		return nil, errs.ErrUnauthorized
	}

	if err := s.lim.Success(ctx, username, client); err != nil {
		s.log.Warn("login attempts not reset", zap.Int64("id", u.ID), zap.Error(err))
	}
	if upgrade {
		if hash, err := pkgcrypto.HashPassword(password); err == nil {
			if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
				s.log.Warn("password upgrade failed", zap.Int64("id", u.ID), zap.Error(err))
			} else {
				u.Password = hash
			}
		}
	}
	if sess != nil {
		sess.set(AuthResult{UserID: u.ID, Username: u.Username, Method: MethodPassword, At: time.Now(), Done: true})
	}
	return u, nil
}

// Logout clears the session and returns the configured logout URI.
func (s *AuthServiceImpl) Logout(sess *Session) string {
	sess.clear()
	return s.opts.LogoutURI
}
