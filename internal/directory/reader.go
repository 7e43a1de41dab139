// Package directory reads identities from the external system of record.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/and161185/jwt-auth/internal/errs"
	"github.com/and161185/jwt-auth/internal/model"
)

// Schema names the external table and its columns.
// Fields maps local field names to external column names.
type Schema struct {
	Table         string
	IdnumberField string
	UsernameField string
	Fields        map[string]string
}

// Reader queries the external table. All failures wrap errs.ErrConnection.
type Reader struct {
	db     *sql.DB
	schema Schema
	fields []string
}

// Open connects to the external database and pings it.
func Open(ctx context.Context, dsn string, s Schema) (*Reader, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open directory: %v", errs.ErrConnection, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping directory: %v", errs.ErrConnection, err)
	}
	return NewReader(db, s), nil
}

// NewReader wraps an existing handle.
func NewReader(db *sql.DB, s Schema) *Reader {
	fields := make([]string, 0, len(s.Fields))
	for f, col := range s.Fields {
		if col != "" {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)
	return &Reader{db: db, schema: s, fields: fields}
}

// Close releases the handle.
func (r *Reader) Close() error { return r.db.Close() }

// ListIdentities returns idnumber -> normalized username for every external row.
func (r *Reader) ListIdentities(ctx context.Context) (map[string]string, error) {
	q := fmt.Sprintf("SELECT %s, %s FROM %s",
		pq.QuoteIdentifier(r.schema.IdnumberField),
		pq.QuoteIdentifier(r.schema.UsernameField),
		quoteTable(r.schema.Table))
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: list identities: %v", errs.ErrConnection, err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var id, username sql.NullString
		if err := rows.Scan(&id, &username); err != nil {
			return nil, fmt.Errorf("%w: scan identity: %v", errs.ErrConnection, err)
		}
		if !id.Valid || id.String == "" {
			continue
		}
		out[id.String] = model.NormalizeUsername(username.String)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list identities: %v", errs.ErrConnection, err)
	}
	return out, nil
}

// FetchAttributes returns mapped field values for one identity. NULL becomes ""
// and a missing row yields an empty map.
func (r *Reader) FetchAttributes(ctx context.Context, idnumber string) (map[string]string, error) {
	out := map[string]string{}
	if len(r.fields) == 0 {
		return out, nil
	}
	cols := make([]string, len(r.fields))
	for i, f := range r.fields {
		cols[i] = fmt.Sprintf("%s AS f%d", pq.QuoteIdentifier(r.schema.Fields[f]), i)
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		strings.Join(cols, ", "),
		quoteTable(r.schema.Table),
		pq.QuoteIdentifier(r.schema.IdnumberField))

	vals := make([]sql.NullString, len(r.fields))
	dest := make([]any, len(vals))
	for i := range vals {
		dest[i] = &vals[i]
	}
	err := r.db.QueryRowContext(ctx, q, idnumber).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetch attributes %s: %v", errs.ErrConnection, idnumber, err)
	}
	for i, f := range r.fields {
		out[f] = vals[i].String
	}
	if u, ok := out["username"]; ok {
		out["username"] = model.NormalizeUsername(u)
	}
	return out, nil
}

// quoteTable quotes each dot-separated part so schema-qualified names work.
func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}
