package limiter

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, p Policy) (*PG, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewPG(mock, p)
	l.now = func() time.Time { return now }
	return l, mock, now
}

var selBlocked = regexp.QuoteMeta(`SELECT blocked_until FROM login_attempts WHERE username=$1 AND ip_hash=$2`)

func TestAllow(t *testing.T) {
	l, mock, now := newLimiter(t, DefaultPolicy)
	ctx := context.Background()
	h := HashClient("10.0.0.1")

	mock.ExpectQuery(selBlocked).WithArgs("alice", h).WillReturnError(pgx.ErrNoRows)
	ok, wait, err := l.Allow(ctx, "alice", h)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, wait)

	mock.ExpectQuery(selBlocked).WithArgs("alice", h).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(now.Add(10 * time.Minute)))
	ok, wait, err = l.Allow(ctx, "alice", h)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 10*time.Minute, wait)

	mock.ExpectQuery(selBlocked).WithArgs("alice", h).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(time.Unix(0, 0)))
	ok, _, err = l.Allow(ctx, "alice", h)
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(selBlocked).WithArgs("alice", h).WillReturnError(errors.New("db down"))
	ok, _, err = l.Allow(ctx, "alice", h)
	require.Error(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSuccess(t *testing.T) {
	l, mock, _ := newLimiter(t, DefaultPolicy)
	h := HashClient("")

	mock.ExpectExec(`INSERT INTO login_attempts`).WithArgs("bob", h).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, l.Success(context.Background(), "bob", h))

	mock.ExpectExec(`INSERT INTO login_attempts`).WithArgs("bob", h).WillReturnError(errors.New("exec fail"))
	require.Error(t, l.Success(context.Background(), "bob", h))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailure_CountsThenBlocks(t *testing.T) {
	p := Policy{Window: 5 * time.Minute, MaxFails: 3, BlockFor: 10 * time.Minute}
	l, mock, now := newLimiter(t, p)
	ctx := context.Background()
	h := HashClient("10.0.0.2")

	mock.ExpectQuery(`RETURNING fail_count`).WithArgs("carol", h, p.Window).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(2))
	blocked, wait, err := l.Failure(ctx, "carol", h)
	require.NoError(t, err)
	require.False(t, blocked)
	require.Zero(t, wait)

	mock.ExpectQuery(`RETURNING fail_count`).WithArgs("carol", h, p.Window).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE login_attempts SET blocked_until=$3`)).
		WithArgs("carol", h, now.Add(p.BlockFor)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	blocked, wait, err = l.Failure(ctx, "carol", h)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, p.BlockFor, wait)

	mock.ExpectQuery(`RETURNING fail_count`).WithArgs("carol", h, p.Window).WillReturnError(errors.New("boom"))
	_, _, err = l.Failure(ctx, "carol", h)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPG_DefaultsPolicy(t *testing.T) {
	l := NewPG(nil, Policy{})
	require.Equal(t, DefaultPolicy, l.policy)
}

func TestHashClient_Determinism(t *testing.T) {
	a := HashClient("1.2.3.4:123")
	b := HashClient("1.2.3.4:123")
	c := HashClient("5.6.7.8:321")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 32)
}
