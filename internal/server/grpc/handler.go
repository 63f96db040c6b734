package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/dmitrijs2005/tenantry/internal/server/models"
	"github.com/dmitrijs2005/tenantry/internal/server/tenancy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	TenancyServiceName = "tenantry.v1.Tenancy"
	AdminServiceName   = "tenantry.v1.Admin"
)

// unary builds a method descriptor around call, decoding requests into
// fresh values from newReq. It mirrors what protoc-gen-go-grpc emits.
func unary(service, method string, newReq func() proto.Message, call func(*GRPCServer, context.Context, proto.Message) (proto.Message, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*GRPCServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(proto.Message))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type tenancyServer interface {
	Current(ctx context.Context) (*structpb.Struct, error)
}

type adminServer interface {
	MigrateTenant(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error)
	MigrateAll(ctx context.Context) (*structpb.Struct, error)
	MigrationStatus(ctx context.Context) (*structpb.ListValue, error)
}

func newEmpty() proto.Message { return &emptypb.Empty{} }

func newString() proto.Message { return &wrapperspb.StringValue{} }

var tenancyServiceDesc = grpc.ServiceDesc{
	ServiceName: TenancyServiceName,
	HandlerType: (*tenancyServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(TenancyServiceName, "Current", newEmpty, func(s *GRPCServer, ctx context.Context, _ proto.Message) (proto.Message, error) {
			return s.Current(ctx)
		}),
	},
	Metadata: "tenantry/v1/tenancy.proto",
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*adminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(AdminServiceName, "MigrateTenant", newString, func(s *GRPCServer, ctx context.Context, in proto.Message) (proto.Message, error) {
			return s.MigrateTenant(ctx, in.(*wrapperspb.StringValue))
		}),
		unary(AdminServiceName, "MigrateAll", newEmpty, func(s *GRPCServer, ctx context.Context, _ proto.Message) (proto.Message, error) {
			return s.MigrateAll(ctx)
		}),
		unary(AdminServiceName, "MigrationStatus", newEmpty, func(s *GRPCServer, ctx context.Context, _ proto.Message) (proto.Message, error) {
			return s.MigrationStatus(ctx)
		}),
	},
	Metadata: "tenantry/v1/admin.proto",
}

// Current describes the tenant the call is bound to, including the
// search_path seen by its schema-bound connection.
func (s *GRPCServer) Current(ctx context.Context) (*structpb.Struct, error) {
	tc, err := tenancy.Require(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	conn, err := tenancy.Conn(ctx)
	if err != nil {
		s.logger.Error(ctx, "schema connection failed", "slug", tc.Slug, "error", err)
		return nil, toStatus(err)
	}

	var searchPath string
	if err := conn.QueryRowContext(ctx, `SHOW search_path`).Scan(&searchPath); err != nil {
		s.logger.Error(ctx, "search_path query failed", "slug", tc.Slug, "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	userID, _ := UserIDFromContext(ctx)
	out, err := structpb.NewStruct(map[string]any{
		"slug":        tc.Slug,
		"schema_name": tc.SchemaName,
		"tenant_id":   tc.TenantID,
		"user_id":     userID,
		"search_path": searchPath,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *GRPCServer) MigrateTenant(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	slug := req.GetValue()
	if slug == "" {
		return nil, status.Error(codes.InvalidArgument, "slug is required")
	}

	s.logger.Info(ctx, "Migration request", "slug", slug)
	if err := s.migrations.RunMigrationsForTenant(ctx, slug); err != nil {
		s.logger.Error(ctx, "tenant migration failed", "slug", slug, "error", err)
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) MigrateAll(ctx context.Context) (*structpb.Struct, error) {
	res, err := s.migrations.RunMigrationsForAllTenants(ctx)
	if err != nil {
		s.logger.Error(ctx, "migration sweep failed", "error", err)
		return nil, toStatus(err)
	}
	return sweepToStruct(res)
}

func (s *GRPCServer) MigrationStatus(ctx context.Context) (*structpb.ListValue, error) {
	report, err := s.migrations.GetMigrationStatus(ctx)
	if err != nil {
		s.logger.Error(ctx, "migration status failed", "error", err)
		return nil, toStatus(err)
	}

	items := make([]any, 0, len(report))
	for _, st := range report {
		items = append(items, map[string]any{
			"slug":          st.Slug,
			"schema_name":   st.SchemaName,
			"schema_exists": st.SchemaExists,
			"tables_exist":  st.TablesExist,
			"is_active":     st.IsActive,
		})
	}

	out, err := structpb.NewList(items)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func sweepToStruct(res models.SweepResult) (*structpb.Struct, error) {
	toList := func(in []string) []any {
		out := make([]any, len(in))
		for i, v := range in {
			out[i] = v
		}
		return out
	}

	out, err := structpb.NewStruct(map[string]any{
		"success": toList(res.Success),
		"failed":  toList(res.Failed),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrorConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, common.ErrorInvalidSlug):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorNoTenant), errors.Is(err, common.ErrorRebuildDisabled):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrorHandleReleased), errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
