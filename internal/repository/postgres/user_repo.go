package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/jwt-auth/internal/errs"
	"github.com/and161185/jwt-auth/internal/model"
	"github.com/and161185/jwt-auth/internal/repository"
)

const userColumns = `id, auth, username, idnumber, password, confirmed, suspended, deleted, mnethostid,
firstname, lastname, email, city, country, lang, institution, department, phone1, address,
created_at, updated_at`

// UserRepo implements IdentityStore using PostgreSQL.
type UserRepo struct{ db *DB }

var _ repository.IdentityStore = (*UserRepo)(nil)

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

func scanIdentity(row pgx.Row, u *model.Identity) error {
	return row.Scan(&u.ID, &u.Auth, &u.Username, &u.Idnumber, &u.Password, &u.Confirmed, &u.Suspended,
		&u.Deleted, &u.MnetHostID, &u.FirstName, &u.LastName, &u.Email, &u.City, &u.Country, &u.Lang,
		&u.Institution, &u.Department, &u.Phone1, &u.Address, &u.CreatedAt, &u.UpdatedAt)
}

// Find selects identities matching f ordered by id.
func (r *UserRepo) Find(ctx context.Context, f repository.Filter) ([]model.Identity, error) {
	where, args := whereClause(f)
	q := "SELECT " + userColumns + " FROM users" + where + " ORDER BY id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Identity
	for rows.Next() {
		var u model.Identity
		if err := scanIdentity(rows, &u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Get returns the first identity matching f.
func (r *UserRepo) Get(ctx context.Context, f repository.Filter) (*model.Identity, error) {
	f.Limit = 1
	found, err := r.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, errs.ErrNotFound
	}
	return &found[0], nil
}

// ListUsernames selects usernames matching f.
func (r *UserRepo) ListUsernames(ctx context.Context, f repository.Filter) ([]string, error) {
	where, args := whereClause(f)
	rows, err := r.db.Pool.Query(ctx, "SELECT username FROM users"+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Create inserts a new identity row and returns its id.
func (r *UserRepo) Create(ctx context.Context, u *model.Identity) (int64, error) {
	const q = `
INSERT INTO users (auth, username, idnumber, password, confirmed, suspended, mnethostid,
firstname, lastname, email, city, country, lang, institution, department, phone1, address)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
RETURNING id`
	var id int64
	err := r.db.Pool.QueryRow(ctx, q, u.Auth, u.Username, u.Idnumber, u.Password, u.Confirmed, u.Suspended,
		u.MnetHostID, u.FirstName, u.LastName, u.Email, u.City, u.Country, u.Lang, u.Institution,
		u.Department, u.Phone1, u.Address).Scan(&id)
	if isUniqueViolation(err) {
		return 0, errs.ErrAlreadyExists
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Update writes every mutable column of u.
func (r *UserRepo) Update(ctx context.Context, u *model.Identity) error {
	const q = `
UPDATE users
SET auth = $2, username = $3, idnumber = $4, password = $5, confirmed = $6, suspended = $7,
firstname = $8, lastname = $9, email = $10, city = $11, country = $12, lang = $13,
institution = $14, department = $15, phone1 = $16, address = $17, updated_at = now()
WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, u.ID, u.Auth, u.Username, u.Idnumber, u.Password, u.Confirmed,
		u.Suspended, u.FirstName, u.LastName, u.Email, u.City, u.Country, u.Lang, u.Institution,
		u.Department, u.Phone1, u.Address)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetSuspended toggles the suspended flag.
func (r *UserRepo) SetSuspended(ctx context.Context, id int64, suspended bool) error {
	const q = `UPDATE users SET suspended = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, q, id, suspended)
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	const q = `UPDATE users SET password = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, q, id, hash)
}

// Delete removes an identity; profile rows go with it (ON DELETE CASCADE).
func (r *UserRepo) Delete(ctx context.Context, id int64) error {
	const q = `DELETE FROM users WHERE id = $1`
	return r.execOne(ctx, q, id)
}

func (r *UserRepo) execOne(ctx context.Context, q string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ProfileFields loads custom profile values for a user.
func (r *UserRepo) ProfileFields(ctx context.Context, id int64) (map[string]string, error) {
	const q = `SELECT field, value FROM user_profile_data WHERE user_id = $1`
	rows, err := r.db.Pool.Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SaveProfileFields upserts custom profile values in one transaction.
func (r *UserRepo) SaveProfileFields(ctx context.Context, id int64, fields map[string]string) (err error) {
	if len(fields) == 0 {
		return nil
	}
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const q = `
INSERT INTO user_profile_data (user_id, field, value) VALUES ($1, $2, $3)
ON CONFLICT (user_id, field) DO UPDATE SET value = EXCLUDED.value`
	for _, k := range sortedKeys(fields) {
		if _, err = tx.Exec(ctx, q, id, k, fields[k]); err != nil {
			return fmt.Errorf("profile field %q: %w", k, err)
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
