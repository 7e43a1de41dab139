// Package grpcserver exposes the token service over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/and161185/jwt-auth/internal/errs"
	"github.com/and161185/jwt-auth/internal/model"
	"github.com/and161185/jwt-auth/internal/service"
)

// Server wires the auth service into gRPC handlers.
type Server struct {
	auth service.AuthService
}

var _ TokenServiceServer = (*Server)(nil)

// New constructs a gRPC server with the injected service.
func New(auth service.AuthService) *Server {
	return &Server{auth: auth}
}

// Authenticate issues a token for the user with the given idnumber.
func (s *Server) Authenticate(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	idnumber := strings.TrimSpace(req.GetValue())
	if idnumber == "" {
		return nil, status.Error(codes.InvalidArgument, "empty idnumber")
	}
	tok, err := s.auth.IssueToken(ctx, idnumber)
	if err != nil {
		return nil, toStatus("authenticate", err)
	}
	return wrapperspb.String(tok.AccessToken), nil
}

// Validate answers false for tokens that fail to decode or verify.
func (s *Server) Validate(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	_, err := s.auth.ValidateToken(ctx, req.GetValue())
	switch {
	case err == nil:
		return wrapperspb.Bool(true), nil
	case errors.Is(err, errs.ErrMalformedToken), errors.Is(err, errs.ErrExpiredToken), errors.Is(err, errs.ErrSignature):
		return wrapperspb.Bool(false), nil
	}
	return nil, toStatus("validate", err)
}

// UpdateUser upserts a user. The request must carry "authorization: Bearer <token>".
func (s *Server) UpdateUser(ctx context.Context, req *structpb.Struct) (*wrapperspb.Int64Value, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	d, err := userDataFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	id, err := s.auth.UpdateUser(ctx, tok, d)
	if err != nil {
		return nil, toStatus("update user", err)
	}
	return wrapperspb.Int64(id), nil
}

// Login signs in the user with idnumber using token and returns the local id.
func (s *Server) Login(ctx context.Context, req *structpb.Struct) (*wrapperspb.Int64Value, error) {
	tok, _ := stringField(req, "token")
	idnumber, _ := stringField(req, "idnumber")
	if tok == "" || idnumber == "" {
		return nil, status.Error(codes.InvalidArgument, "token and idnumber are required")
	}
	sess, ok := SessionFromCtx(ctx)
	if !ok {
		sess = service.NewSession()
	}
	u, err := s.auth.LoginWithToken(ctx, sess, tok, idnumber)
	if err != nil {
		return nil, toStatus("login", err)
	}
	return wrapperspb.Int64(u.ID), nil
}

// toStatus maps service errors onto gRPC codes.
func toStatus(op string, err error) error {
	var verr validator.ValidationErrors
	switch {
	case errors.Is(err, errs.ErrMalformedToken):
		return status.Error(codes.InvalidArgument, "malformed token")
	case errors.Is(err, errs.ErrExpiredToken), errors.Is(err, errs.ErrSignature):
		return status.Error(codes.Unauthenticated, "invalid token")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, errs.ErrConfig):
		return status.Error(codes.FailedPrecondition, "token configuration")
	case errors.Is(err, errs.ErrConnection):
		return status.Error(codes.Unavailable, "directory unavailable")
	case errors.As(err, &verr):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	return status.Errorf(codes.Internal, "%s: %v", op, err)
}

func userDataFromStruct(req *structpb.Struct) (model.UserData, error) {
	var d model.UserData
	var err error
	if d.Idnumber, err = stringField(req, "idnumber"); err != nil {
		return d, err
	}
	if d.Username, err = stringField(req, "username"); err != nil {
		return d, err
	}
	if d.Email, err = stringField(req, "email"); err != nil {
		return d, err
	}
	if d.FirstName, err = stringField(req, "firstname"); err != nil {
		return d, err
	}
	if d.LastName, err = stringField(req, "lastname"); err != nil {
		return d, err
	}
	return d, nil
}

// stringField reads a string or integral number field. Missing fields yield "".
func stringField(req *structpb.Struct, name string) (string, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return "", nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return strings.TrimSpace(k.StringValue), nil
	case *structpb.Value_NumberValue:
		n := k.NumberValue
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return "", errors.New(name + ": not an integer")
		}
		return strconv.FormatFloat(n, 'f', 0, 64), nil
	case *structpb.Value_NullValue:
		return "", nil
	}
	return "", errors.New(name + ": unsupported value type")
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}

func remoteIP(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}
