package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/jwt-auth/internal/errs"
	"github.com/and161185/jwt-auth/internal/model"
	"github.com/and161185/jwt-auth/internal/repository"
	"github.com/and161185/jwt-auth/internal/service"
	"github.com/and161185/jwt-auth/internal/token"
)

// oneUserStore knows a single identity; methods other than Get are not used here.
type oneUserStore struct {
	repository.IdentityStore
	u model.Identity
}

func (s oneUserStore) Get(_ context.Context, f repository.Filter) (*model.Identity, error) {
	if (f.Idnumber != "" && f.Idnumber != s.u.Idnumber) || (f.Username != "" && f.Username != s.u.Username) {
		return nil, errs.ErrNotFound
	}
	u := s.u
	return &u, nil
}

func loginFixture(t *testing.T) (*service.AuthServiceImpl, string) {
	t.Helper()
	codec := token.New(token.Config{Secret: testKey, Expiry: time.Hour})
	store := oneUserStore{u: model.Identity{ID: 11, Idnumber: "E1", Username: "alice", MnetHostID: 1}}
	svc := service.NewAuthService(store, codec, nil, service.Options{}, nil, nil)
	tok, err := codec.Encode(map[string]any{"sub": "11"}, token.HS256)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return svc, tok
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

var loginInfo = &grpc.UnaryServerInfo{FullMethod: MethodLogin}

func TestLoggingUnary_LogsAuthenticatedUser(t *testing.T) {
	t.Parallel()

	svc, tok := loginFixture(t)
	log, logs := observed()
	ic := LoggingUnary(log)

	ctx := peer.NewContext(WithSession(context.Background(), service.NewSession()), &peer.Peer{Addr: loopbackAddr{}})
	h := func(ctx context.Context, _ any) (any, error) {
		sess, _ := SessionFromCtx(ctx)
		u, err := svc.LoginWithToken(ctx, sess, tok, "E1")
		if err != nil {
			return nil, toStatus("login", err)
		}
		return u.ID, nil
	}

	resp, err := ic(ctx, nil, loginInfo, h)
	if err != nil || resp.(int64) != 11 {
		t.Fatalf("login through interceptor: %v %v", resp, err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("want one access entry, got %d", len(entries))
	}
	e := entries[0]
	fields := e.ContextMap()
	if e.Level != zapcore.InfoLevel || fields["rpc"] != "Login" || fields["code"] != "OK" {
		t.Fatalf("unexpected entry: %v %v", e.Level, fields)
	}
	if fields["user_id"] != int64(11) || fields["auth_method"] != service.MethodToken {
		t.Fatalf("session fields missing: %v", fields)
	}
	if fields["peer"] != "127.0.0.1:5555" {
		t.Fatalf("peer: %v", fields["peer"])
	}
	if _, ok := fields["reason"]; ok {
		t.Fatalf("reason on success: %v", fields)
	}
}

func TestLoggingUnary_RejectedTokenIsWarning(t *testing.T) {
	t.Parallel()

	svc, tok := loginFixture(t)
	log, logs := observed()
	ic := LoggingUnary(log)

	ctx := WithSession(context.Background(), service.NewSession())
	h := func(ctx context.Context, _ any) (any, error) {
		sess, _ := SessionFromCtx(ctx)
		_, err := svc.LoginWithToken(ctx, sess, tok+"x", "E1")
		return nil, toStatus("login", err)
	}

	_, err := ic(ctx, nil, loginInfo, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated, got %v", err)
	}
	e := logs.All()[0]
	fields := e.ContextMap()
	if e.Level != zapcore.WarnLevel || fields["reason"] != "invalid token" {
		t.Fatalf("unexpected entry: %v %v", e.Level, fields)
	}
	if _, ok := fields["user_id"]; ok {
		t.Fatalf("failed login must not log a user: %v", fields)
	}
}

func TestLoggingUnary_ServerFailureIsError(t *testing.T) {
	t.Parallel()

	log, logs := observed()
	ic := LoggingUnary(log)
	wantErr := toStatus("authenticate", errors.New("pool closed"))
	h := func(context.Context, any) (any, error) { return nil, wantErr }

	if _, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: MethodAuthenticate}, h); !errors.Is(err, wantErr) {
		t.Fatalf("want original status, got %v", err)
	}
	e := logs.All()[0]
	if e.Level != zapcore.ErrorLevel || e.ContextMap()["rpc"] != "Authenticate" {
		t.Fatalf("unexpected entry: %v %v", e.Level, e.ContextMap())
	}
}

func TestOutcomeLevel(t *testing.T) {
	t.Parallel()

	cases := map[codes.Code]zapcore.Level{
		codes.OK:                 zapcore.InfoLevel,
		codes.InvalidArgument:    zapcore.WarnLevel,
		codes.Unauthenticated:    zapcore.WarnLevel,
		codes.ResourceExhausted:  zapcore.WarnLevel,
		codes.NotFound:           zapcore.WarnLevel,
		codes.FailedPrecondition: zapcore.ErrorLevel,
		codes.Unavailable:        zapcore.ErrorLevel,
		codes.Internal:           zapcore.ErrorLevel,
	}
	for c, want := range cases {
		if got := outcomeLevel(c); got != want {
			t.Fatalf("%s: got %v want %v", c, got, want)
		}
	}
}

func TestRpcName(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		MethodValidate:   "Validate",
		MethodUpdateUser: "UpdateUser",
		"Bare":           "Bare",
	} {
		if got := rpcName(in); got != want {
			t.Fatalf("%q: got %q", in, got)
		}
	}
}

func TestRecoverUnary(t *testing.T) {
	t.Parallel()

	log, logs := observed()
	ic := RecoverUnary(log)

	panicking := func(context.Context, any) (any, error) { panic("nil codec") }
	resp, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: MethodValidate}, panicking)
	if resp != nil || status.Code(err) != codes.Internal {
		t.Fatalf("want Internal, got %v %v", resp, err)
	}
	e := logs.All()[0]
	if e.Level != zapcore.ErrorLevel || e.ContextMap()["rpc"] != "Validate" {
		t.Fatalf("unexpected entry: %v %v", e.Level, e.ContextMap())
	}

	ok := func(context.Context, any) (any, error) { return true, nil }
	resp, err = ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: MethodValidate}, ok)
	if err != nil || resp != true {
		t.Fatalf("pass-through: %v %v", resp, err)
	}
	if logs.Len() != 1 {
		t.Fatalf("no entry expected without panic")
	}
}
