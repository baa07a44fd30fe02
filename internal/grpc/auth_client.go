package grpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"messaging-service/internal/auth"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

// ValidateTokenMethod is the auth-service RPC. Request and response are
// google.protobuf.Struct values: {"token"} in, {"valid","user_id","is_staff","is_active"} out.
const ValidateTokenMethod = "/auth.AuthService/ValidateToken"

// Dial opens an instrumented client connection to the auth service.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	)
}

// AuthClient validates tokens against the auth service.
type AuthClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

// NewAuthClient constructs the client. timeout bounds each call.
func NewAuthClient(conn grpc.ClientConnInterface, timeout time.Duration) *AuthClient {
	return &AuthClient{conn: conn, timeout: timeout}
}

// Validate verifies the token and returns the authenticated identity.
func (a *AuthClient) Validate(ctx context.Context, token string) (models.Identity, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	req, err := structpb.NewStruct(map[string]any{"token": token})
	if err != nil {
		return models.Identity{}, err
	}
	resp := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, ValidateTokenMethod, req, resp); err != nil {
		return models.Identity{}, fmt.Errorf("validate token: %w", err)
	}

	fields := resp.GetFields()
	if !fields["valid"].GetBoolValue() {
		return models.Identity{}, auth.ErrInvalidToken
	}
	userID := int64(fields["user_id"].GetNumberValue())
	if userID <= 0 {
		return models.Identity{}, auth.ErrInvalidToken
	}
	identity := models.Identity{
		UserID:   userID,
		IsStaff:  fields["is_staff"].GetBoolValue(),
		IsActive: true,
	}
	if v, ok := fields["is_active"]; ok {
		identity.IsActive = v.GetBoolValue()
	}
	return identity, nil
}

var _ auth.Validator = (*AuthClient)(nil)
