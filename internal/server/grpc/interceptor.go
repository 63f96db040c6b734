package grpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/dmitrijs2005/tenantry/internal/server/auth"
	"github.com/dmitrijs2005/tenantry/internal/server/tenancy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const (
	userIDKey      ctxKey = "userID"
	tokenTenantKey ctxKey = "tokenTenant"
)

const healthPrefix = "/grpc.health.v1.Health/"

// UserIDFromContext returns the caller id set by the access token interceptor.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func firstMetadata(ctx context.Context, key string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(key); len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

func isAdminMethod(method string) bool {
	return strings.HasPrefix(method, "/"+AdminServiceName+"/")
}

func tenantExempt(method string) bool {
	return strings.HasPrefix(method, healthPrefix) || isAdminMethod(method)
}

func (s *GRPCServer) metricsInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.metrics.RequestHandled(info.FullMethod, status.Code(err).String(), time.Since(start))
	return resp, err
}

// accessTokenInterceptor puts the caller id into the context when a token is
// sent. Admin methods require one that is not scoped to a tenant; elsewhere
// it is optional, but an invalid token is always rejected.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if strings.HasPrefix(info.FullMethod, healthPrefix) {
		return handler(ctx, req)
	}

	accessToken := firstMetadata(ctx, common.AccessTokenHeaderName)
	if accessToken == "" {
		if isAdminMethod(info.FullMethod) {
			return nil, status.Error(codes.Unauthenticated, "missing token")
		}
		return handler(ctx, req)
	}

	claims, err := auth.ParseToken(accessToken, s.jwtSecret)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}

	if claims.Tenant != "" && isAdminMethod(info.FullMethod) {
		return nil, status.Error(codes.PermissionDenied, "token is scoped to a tenant")
	}

	ctx = context.WithValue(ctx, userIDKey, claims.UserID)
	if claims.Tenant != "" {
		ctx = context.WithValue(ctx, tokenTenantKey, claims.Tenant)
	}

	return handler(ctx, req)
}

// tenantInterceptor resolves the tenant named in the request metadata and
// runs the handler inside a unit of work bound to it. The unit of work ends,
// and its connection is released, when the handler returns or the call is
// cancelled.
func (s *GRPCServer) tenantInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if tenantExempt(info.FullMethod) {
		return handler(ctx, req)
	}

	slug := firstMetadata(ctx, common.TenantHeaderName)
	if slug == "" {
		s.metrics.TenantRejected("missing_slug")
		return nil, status.Error(codes.InvalidArgument, "missing "+common.TenantHeaderName)
	}

	if scoped, ok := ctx.Value(tokenTenantKey).(string); ok && scoped != slug {
		s.metrics.TenantRejected("token_mismatch")
		return nil, status.Error(codes.PermissionDenied, "token is not valid for this tenant")
	}

	t, err := s.resolver.Resolve(ctx, slug)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.metrics.TenantRejected("not_found")
			return nil, status.Errorf(codes.NotFound, "tenant %q not found", slug)
		}
		s.logger.Error(ctx, "tenant resolution failed", "slug", slug, "error", err)
		s.metrics.TenantRejected("error")
		return nil, status.Error(codes.Internal, "internal error")
	}

	ctx, done := s.scoper.Scope(ctx, tenancy.NewTenantContext(t))
	defer done()

	return handler(ctx, req)
}
