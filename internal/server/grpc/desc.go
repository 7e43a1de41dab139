package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "jwtauth.v1.TokenService"

// Full method names.
const (
	MethodAuthenticate = "/" + ServiceName + "/Authenticate"
	MethodValidate     = "/" + ServiceName + "/Validate"
	MethodUpdateUser   = "/" + ServiceName + "/UpdateUser"
	MethodLogin        = "/" + ServiceName + "/Login"
)

// TokenServiceServer is the server API of jwtauth.v1.TokenService. Messages are
// well-known protobuf types, so no generated code is needed.
type TokenServiceServer interface {
	// Authenticate takes an idnumber and returns a signed token.
	Authenticate(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	// Validate reports whether a token verifies and has not expired.
	Validate(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	// UpdateUser upserts the user described by the struct; the token travels as bearer metadata.
	UpdateUser(context.Context, *structpb.Struct) (*wrapperspb.Int64Value, error)
	// Login takes {token, idnumber} and returns the local user id.
	Login(context.Context, *structpb.Struct) (*wrapperspb.Int64Value, error)
}

// RegisterTokenServiceServer registers srv on s.
func RegisterTokenServiceServer(s grpc.ServiceRegistrar, srv TokenServiceServer) {
	s.RegisterService(&tokenServiceDesc, srv)
}

var tokenServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TokenServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Authenticate", Handler: unary(MethodAuthenticate, TokenServiceServer.Authenticate)},
		{MethodName: "Validate", Handler: unary(MethodValidate, TokenServiceServer.Validate)},
		{MethodName: "UpdateUser", Handler: unary(MethodUpdateUser, TokenServiceServer.UpdateUser)},
		{MethodName: "Login", Handler: unary(MethodLogin, TokenServiceServer.Login)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "jwtauth/v1/token.proto",
}

// unary adapts a typed method expression to a grpc.MethodHandler.
func unary[Req any, Resp any](fullMethod string, call func(TokenServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TokenServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TokenServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
