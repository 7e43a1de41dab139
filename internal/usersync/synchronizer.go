// Package usersync reconciles local identities against the external directory.
package usersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/jwt-auth/internal/crypto"
	"github.com/and161185/jwt-auth/internal/errs"
	"github.com/and161185/jwt-auth/internal/metrics"
	"github.com/and161185/jwt-auth/internal/model"
	"github.com/and161185/jwt-auth/internal/progress"
	"github.com/and161185/jwt-auth/internal/repository"
)

const (
	// DefaultAuthType tags identities owned by this synchronizer.
	DefaultAuthType = "jwt"
	// DefaultChunkSize bounds the idnumber list of one store query.
	DefaultChunkSize = 10000
)

// Directory is the external system of record. Errors are fatal to a run.
type Directory interface {
	// ListIdentities returns idnumber -> trimmed, lower-cased username.
	ListIdentities(ctx context.Context) (map[string]string, error)
	// FetchAttributes returns mapped field values for one identity.
	FetchAttributes(ctx context.Context, idnumber string) (map[string]string, error)
}

// Options configures a Synchronizer.
type Options struct {
	AuthType         string
	RemovePolicy     model.RemovePolicy
	UpdateOnLogin    []string // fields refreshed when updating existing identities
	AllowManualLogin bool
	LoginSalt        string
	MnetHostID       int64
	DefaultLang      string
	ChunkSize        int
}

func (o Options) withDefaults() Options {
	if o.AuthType == "" {
		o.AuthType = DefaultAuthType
	}
	if o.RemovePolicy == "" {
		o.RemovePolicy = model.RemoveKeep
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MnetHostID == 0 {
		o.MnetHostID = 1
	}
	return o
}

// Synchronizer runs reconciliation passes. It holds no per-run state, so one value may
// serve many sequential runs. Concurrent runs are not serialized.
type Synchronizer struct {
	dir     Directory
	store   repository.IdentityStore
	trace   progress.Trace
	log     *zap.Logger
	opts    Options
	metrics *metrics.Sync
}

// New builds a Synchronizer. trace, log and m may be nil.
func New(dir Directory, store repository.IdentityStore, trace progress.Trace, log *zap.Logger, opts Options, m *metrics.Sync) *Synchronizer {
	if trace == nil {
		trace = progress.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{dir: dir, store: store, trace: trace, log: log, opts: opts.withDefaults(), metrics: m}
}

// Synchronize runs one pass and returns its status code.
func (s *Synchronizer) Synchronize(ctx context.Context, updateExisting bool) (int, error) {
	rep, err := s.Run(ctx, updateExisting)
	return rep.Status, err
}

// Run executes Fetch, Prune, Update and Create in that order. Per-identity failures are
// traced and skipped; directory failures, store read failures and cancellation abort the run.
func (s *Synchronizer) Run(ctx context.Context, updateExisting bool) (rep Report, err error) {
	started := time.Now()
	rep.RunID, err = uuid.NewV4()
	if err != nil {
		return rep, fmt.Errorf("run id: %w", err)
	}
	r := &run{Synchronizer: s, log: s.log.With(zap.String("run_id", rep.RunID.String())), plan: &rep.Plan}
	defer func() {
		s.metrics.Run(started, err)
		if err != nil {
			r.log.Error("sync aborted", zap.Error(err))
			return
		}
		r.log.Info("sync finished",
			zap.Int("fetched", rep.Fetched),
			zap.Int("removed", rep.Count(ActionSuspend)+rep.Count(ActionDelete)),
			zap.Int("updated", rep.Count(ActionUpdate)),
			zap.Int("created", rep.Count(ActionCreate)),
			zap.Int("failed", len(rep.Failed())),
			zap.Duration("took", time.Since(started)),
		)
	}()

	fetched, err := s.dir.ListIdentities(ctx)
	if err != nil {
		return rep, fmt.Errorf("list directory identities: %w", err)
	}
	rep.Fetched = len(fetched)
	r.log.Info("sync started", zap.Int("fetched", rep.Fetched), zap.Bool("update_existing", updateExisting))

	if err = r.prune(ctx, fetched); err != nil {
		return rep, err
	}
	if len(fetched) == 0 {
		s.trace.Finish()
		return rep, nil
	}
	if updateExisting {
		if err = r.updateExisting(ctx, fetched); err != nil {
			return rep, err
		}
	}
	if err = r.createMissing(ctx, fetched); err != nil {
		return rep, err
	}
	s.trace.Finish()
	return rep, nil
}

// run carries the state of one pass.
type run struct {
	*Synchronizer
	log  *zap.Logger
	plan *Plan
}

// fatal reports whether err must abort the run rather than skip the item.
func fatal(err error) bool {
	return errors.Is(err, errs.ErrConnection) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// done records an outcome, traces it and returns err when it must abort the run.
func (r *run) done(o Outcome, msg string) error {
	r.plan.record(o)
	r.metrics.Action(string(o.Action), o.Err)
	if o.Err != nil {
		r.log.Warn("sync item failed",
			zap.String("action", string(o.Action)),
			zap.String("idnumber", o.Idnumber),
			zap.String("username", o.Username),
			zap.Error(o.Err))
		if fatal(o.Err) {
			return o.Err
		}
	} else {
		r.log.Debug("sync item",
			zap.String("action", string(o.Action)),
			zap.String("idnumber", o.Idnumber),
			zap.Int64("id", o.ID))
	}
	r.trace.Emit(msg, 1)
	return nil
}

func (r *run) prune(ctx context.Context, fetched map[string]string) error {
	policy := r.opts.RemovePolicy
	if policy != model.RemoveSuspend && policy != model.RemoveDelete {
		return nil
	}
	f := repository.Filter{Auth: r.opts.AuthType, MnetHostID: r.opts.MnetHostID}
	if policy == model.RemoveSuspend {
		f.Suspended = repository.Bool(false)
	}
	locals, err := r.store.Find(ctx, f)
	if err != nil {
		return fmt.Errorf("find identities to remove: %w", err)
	}

	present := make(map[string]struct{}, len(fetched))
	for _, username := range fetched {
		present[username] = struct{}{}
	}
	for _, u := range locals {
		if _, ok := present[u.Username]; !ok {
			r.plan.Remove = append(r.plan.Remove, u)
		}
	}
	if len(r.plan.Remove) == 0 {
		return nil
	}

	r.trace.Emit(fmt.Sprintf("User entries to remove: %d", len(r.plan.Remove)), 0)
	for _, u := range r.plan.Remove {
		if err := ctx.Err(); err != nil {
			return err
		}
		o := Outcome{Idnumber: u.Idnumber, Username: u.Username, ID: u.ID}
		var msg string
		if policy == model.RemoveDelete {
			o.Action = ActionDelete
			o.Err = r.store.Delete(ctx, u.ID)
			msg = fmt.Sprintf("Deleted user %s id %d", u.Username, u.ID)
			if o.Err != nil {
				msg = fmt.Sprintf("Error deleting user %s: %v", u.Username, o.Err)
			}
		} else {
			o.Action = ActionSuspend
			o.Err = r.store.SetSuspended(ctx, u.ID, true)
			msg = fmt.Sprintf("Suspended user %s id %d", u.Username, u.ID)
			if o.Err != nil {
				msg = fmt.Sprintf("Error suspending user %s: %v", u.Username, o.Err)
			}
		}
		if err := r.done(o, msg); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) updateExisting(ctx context.Context, fetched map[string]string) error {
	keys := r.opts.UpdateOnLogin
	if len(keys) == 0 {
		return nil
	}
	for _, chunk := range chunks(sortedIDs(fetched), r.opts.ChunkSize) {
		found, err := r.store.Find(ctx, repository.Filter{Auth: r.opts.AuthType, Idnumbers: chunk})
		if err != nil {
			return fmt.Errorf("find identities to update: %w", err)
		}
		r.plan.Update = append(r.plan.Update, found...)
	}
	if len(r.plan.Update) == 0 {
		return nil
	}

	r.trace.Emit(fmt.Sprintf("User entries to update: %d", len(r.plan.Update)), 0)
	for i := range r.plan.Update {
		if err := ctx.Err(); err != nil {
			return err
		}
		u := r.plan.Update[i]
		changed, err := r.refresh(ctx, &u, keys)
		if err == nil && !changed {
			continue
		}
		o := Outcome{Action: ActionUpdate, Idnumber: u.Idnumber, Username: u.Username, ID: u.ID, Err: err}
		msg := fmt.Sprintf("Updating user %s id %d", u.Username, u.ID)
		if err != nil {
			msg = fmt.Sprintf("Error updating user %s: %v", u.Username, err)
		}
		if err := r.done(o, msg); err != nil {
			return err
		}
	}
	return nil
}

// refresh applies changed directory values for keys to u. It writes nothing and returns
// false when no configured field differs. The suspended flag is left as stored.
func (r *run) refresh(ctx context.Context, u *model.Identity, keys []string) (bool, error) {
	attrs, err := r.dir.FetchAttributes(ctx, u.Idnumber)
	if err != nil {
		return false, err
	}
	attrs = model.TruncateAll(attrs)

	next := *u
	changed := false
	var current, profile map[string]string
	for _, key := range keys {
		value := attrs[key]
		if short, ok := strings.CutPrefix(key, model.ProfileFieldPrefix); ok {
			if current == nil {
				if current, err = r.store.ProfileFields(ctx, u.ID); err != nil {
					return false, err
				}
				profile = map[string]string{}
			}
			if current[short] != value {
				changed = true
			}
			profile[short] = value
			continue
		}
		if key == "password" {
			continue
		}
		cur, ok := next.Field(key)
		if !ok {
			continue
		}
		if cur != value {
			next.SetField(key, value)
			changed = true
		}
	}

	var hash string
	if pw := attrs["password"]; r.opts.AllowManualLogin && pw != "" {
		if ok, upgrade := pkgcrypto.VerifyPassword(pw, u.Password, r.opts.LoginSalt); !ok || upgrade {
			if hash, err = pkgcrypto.HashPassword(pw); err != nil {
				return false, err
			}
		}
	}
	if !changed && hash == "" {
		return false, nil
	}

	if changed {
		if err := r.store.Update(ctx, &next); err != nil {
			return false, err
		}
		if len(profile) > 0 {
			if err := r.store.SaveProfileFields(ctx, u.ID, profile); err != nil {
				return false, err
			}
		}
	}
	if hash != "" {
		if err := r.store.UpdatePassword(ctx, u.ID, hash); err != nil {
			return false, err
		}
	}
	*u = next
	return true, nil
}

func (r *run) createMissing(ctx context.Context, fetched map[string]string) error {
	var f repository.Filter
	if r.opts.RemovePolicy == model.RemoveSuspend {
		f.Suspended = repository.Bool(false)
	}
	names, err := r.store.ListUsernames(ctx, f)
	if err != nil {
		return fmt.Errorf("list local usernames: %w", err)
	}
	local := make(map[string]struct{}, len(names))
	for _, n := range names {
		local[n] = struct{}{}
	}

	r.plan.Create = missing(fetched, local)
	if len(r.plan.Create) == 0 {
		return nil
	}

	r.trace.Emit(fmt.Sprintf("User entries to add: %d", len(r.plan.Create)), 0)
	for _, e := range r.plan.Create {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.createOne(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// classify decides what to do with a missing entry: revive, then duplicate, then
// rectify, else create. The matched identity is returned for every case but none.
func (r *run) classify(ctx context.Context, e model.ExternalIdentity) (Collision, *model.Identity, error) {
	if r.opts.RemovePolicy == model.RemoveSuspend {
		old, err := r.store.Get(ctx, repository.Filter{
			Idnumber:  e.Idnumber,
			Auth:      r.opts.AuthType,
			Suspended: repository.Bool(true),
		})
		switch {
		case err == nil:
			return CollisionRevive, old, nil
		case !errors.Is(err, errs.ErrNotFound):
			return CollisionNone, nil, err
		}
	}

	other, err := r.store.Get(ctx, repository.Filter{Idnumber: e.Idnumber, ExcludeAuth: r.opts.AuthType})
	switch {
	case err == nil:
		return CollisionDuplicate, other, nil
	case !errors.Is(err, errs.ErrNotFound):
		return CollisionNone, nil, err
	}

	same, err := r.store.Get(ctx, repository.Filter{Idnumber: e.Idnumber, Auth: r.opts.AuthType})
	switch {
	case err == nil:
		return CollisionRectify, same, nil
	case !errors.Is(err, errs.ErrNotFound):
		return CollisionNone, nil, err
	}
	return CollisionNone, nil, nil
}

func (r *run) createOne(ctx context.Context, e model.ExternalIdentity) error {
	c, existing, err := r.classify(ctx, e)
	if err != nil {
		return r.done(Outcome{Action: ActionCreate, Idnumber: e.Idnumber, Username: e.Username, Err: err},
			fmt.Sprintf("Error inserting user %s: %v", e.Username, err))
	}

	switch c {
	case CollisionRevive:
		o := Outcome{Action: ActionRevive, Idnumber: e.Idnumber, Username: e.Username, ID: existing.ID}
		o.Err = r.store.SetSuspended(ctx, existing.ID, false)
		msg := fmt.Sprintf("Revived user %s id %d", e.Username, existing.ID)
		if o.Err != nil {
			msg = fmt.Sprintf("Error reviving user %s: %v", e.Username, o.Err)
		}
		return r.done(o, msg)

	case CollisionDuplicate:
		return r.done(Outcome{Action: ActionDuplicate, Idnumber: e.Idnumber, Username: e.Username, ID: existing.ID},
			fmt.Sprintf("Error inserting user %s - user with this username was already created through '%s' plugin.",
				e.Username, existing.Auth))

	case CollisionRectify:
		return r.rectify(ctx, e, existing)
	}

	attrs, err := r.dir.FetchAttributes(ctx, e.Idnumber)
	if err != nil {
		return r.done(Outcome{Action: ActionCreate, Idnumber: e.Idnumber, Username: e.Username, Err: err},
			fmt.Sprintf("Error inserting user %s: %v", e.Username, err))
	}
	u, profile, err := r.newIdentity(e, model.TruncateAll(attrs))
	o := Outcome{Action: ActionCreate, Idnumber: e.Idnumber, Username: u.Username, Err: err}
	if err == nil {
		o.ID, o.Err = r.store.Create(ctx, u)
	}
	if o.Err == nil && len(profile) > 0 {
		o.Err = r.store.SaveProfileFields(ctx, o.ID, profile)
	}
	if o.Err != nil {
		return r.done(o, fmt.Sprintf("Error inserting user %s: %v", u.Username, o.Err))
	}
	return r.done(o, fmt.Sprintf("Inserted user %s id %d", u.Username, o.ID))
}

// rectify overwrites username and email of an identity whose idnumber matched under
// this auth method, taking the directory as the source of truth.
func (r *run) rectify(ctx context.Context, e model.ExternalIdentity, u *model.Identity) error {
	attrs, err := r.dir.FetchAttributes(ctx, e.Idnumber)
	if err != nil {
		return r.done(Outcome{Action: ActionRectify, Idnumber: e.Idnumber, Username: e.Username, ID: u.ID, Err: err},
			fmt.Sprintf("Error rectifying user %s: %v", u.Username, err))
	}
	oldEmail, oldUsername := u.Email, u.Username

	next := *u
	next.Username = e.Username
	if v := model.NormalizeUsername(attrs["username"]); v != "" {
		next.Username = v
	}
	if v, ok := attrs["email"]; ok {
		next.Email = model.NormalizeUsername(v)
	}
	next.Username = model.Truncate("username", next.Username)
	next.Email = model.Truncate("email", next.Email)

	msg := fmt.Sprintf("Found idnumber collision (%s): rectifying with external source. (%s <--> %s), (%s <--> %s)",
		u.Idnumber, oldEmail, next.Email, oldUsername, next.Username)
	o := Outcome{Action: ActionRectify, Idnumber: e.Idnumber, Username: next.Username, ID: u.ID}
	if o.Err = r.store.Update(ctx, &next); o.Err != nil {
		msg = fmt.Sprintf("Error rectifying user %s: %v", oldUsername, o.Err)
	}
	return r.done(o, msg)
}

// newIdentity stamps the defaults of an identity created by this synchronizer and splits
// custom profile attributes off.
func (r *run) newIdentity(e model.ExternalIdentity, attrs map[string]string) (*model.Identity, map[string]string, error) {
	u := &model.Identity{
		Auth:       r.opts.AuthType,
		Username:   model.Truncate("username", e.Username),
		Idnumber:   e.Idnumber,
		Confirmed:  true,
		MnetHostID: r.opts.MnetHostID,
	}
	profile := map[string]string{}
	for k, v := range attrs {
		switch {
		case strings.HasPrefix(k, model.ProfileFieldPrefix):
			profile[strings.TrimPrefix(k, model.ProfileFieldPrefix)] = v
		case k == "username" || k == "idnumber":
		case k == "password":
			if !r.opts.AllowManualLogin || v == "" {
				continue
			}
			hash, err := pkgcrypto.HashPassword(v)
			if err != nil {
				return u, nil, err
			}
			u.Password = hash
		default:
			u.SetField(k, v)
		}
	}
	if u.Lang == "" {
		u.Lang = r.opts.DefaultLang
	}
	if u.Username == "" {
		return u, nil, errors.New("empty username")
	}
	return u, profile, nil
}
