package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/and161185/jwt-auth/internal/model"
)

// Client calls jwtauth.v1.TokenService over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Authenticate returns a token for idnumber.
func (c *Client) Authenticate(ctx context.Context, idnumber string, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, MethodAuthenticate, wrapperspb.String(idnumber), out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Validate reports whether tok verifies.
func (c *Client) Validate(ctx context.Context, tok string, opts ...grpc.CallOption) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, MethodValidate, wrapperspb.String(tok), out, opts...); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// UpdateUser sends d authorized by tok and returns the local id.
func (c *Client) UpdateUser(ctx context.Context, tok string, d model.UserData, opts ...grpc.CallOption) (int64, error) {
	in, err := structpb.NewStruct(map[string]any{
		"idnumber":  d.Idnumber,
		"username":  d.Username,
		"email":     d.Email,
		"firstname": d.FirstName,
		"lastname":  d.LastName,
	})
	if err != nil {
		return 0, err
	}
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, MethodUpdateUser, in, out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// Login signs in the user with idnumber and returns the local id.
func (c *Client) Login(ctx context.Context, tok, idnumber string, opts ...grpc.CallOption) (int64, error) {
	in, err := structpb.NewStruct(map[string]any{"token": tok, "idnumber": idnumber})
	if err != nil {
		return 0, err
	}
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, MethodLogin, in, out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}
