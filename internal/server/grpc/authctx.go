package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"github.com/and161185/jwt-auth/internal/service"
)

type ctxKey string

const sessionKey ctxKey = "jwtauth.session"

// WithSession stores a request-scoped authentication session in context.
func WithSession(ctx context.Context, s *service.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromCtx fetches the session stored by WithSession.
func SessionFromCtx(ctx context.Context) (*service.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*service.Session)
	return s, ok && s != nil
}

// SessionUnary attaches a fresh session to every call that does not carry one yet.
func SessionUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if _, ok := SessionFromCtx(ctx); !ok {
			ctx = WithSession(ctx, service.NewSession())
		}
		return next(ctx, req)
	}
}
