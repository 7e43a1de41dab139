package grpcserver

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// rpcName strips the service prefix from a full method name.
func rpcName(fullMethod string) string {
	if i := strings.LastIndexByte(fullMethod, '/'); i >= 0 {
		return fullMethod[i+1:]
	}
	return fullMethod
}

// outcomeLevel grades a call result. Rejected tokens and throttled logins are client
// problems; everything else that fails is ours.
func outcomeLevel(c codes.Code) zapcore.Level {
	switch c {
	case codes.OK:
		return zapcore.InfoLevel
	case codes.InvalidArgument, codes.Unauthenticated, codes.NotFound, codes.AlreadyExists,
		codes.ResourceExhausted, codes.Canceled:
		return zapcore.WarnLevel
	}
	return zapcore.ErrorLevel
}

// LoggingUnary writes one access entry per call. When SessionUnary runs first, the
// entry carries the authenticated user and method. Request payloads are never logged.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)

		st := status.Convert(err)
		fields := []zap.Field{
			zap.String("rpc", rpcName(info.FullMethod)),
			zap.String("code", st.Code().String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remoteIP(ctx)),
		}
		if sess, ok := SessionFromCtx(ctx); ok {
			if r, ok := sess.Current(); ok {
				fields = append(fields, zap.Int64("user_id", r.UserID), zap.String("auth_method", r.Method))
			}
		}
		if err != nil {
			fields = append(fields, zap.String("reason", st.Message()))
		}
		if ce := log.Check(outcomeLevel(st.Code()), "token rpc"); ce != nil {
			ce.Write(fields...)
		}
		return resp, err
	}
}

// RecoverUnary turns a handler panic into codes.Internal and logs it with a stack trace.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			log.Error("token rpc panicked",
				zap.String("rpc", rpcName(info.FullMethod)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			resp, err = nil, status.Error(codes.Internal, "internal")
		}()
		return next(ctx, req)
	}
}
