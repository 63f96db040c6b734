// Package grpc serves the tenancy subsystem over gRPC. Every unary call runs
// through an interceptor chain that records metrics, authenticates the
// caller and binds tenant-scoped methods to the tenant named in the
// x-tenant-slug metadata.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/tenantry/internal/logging"
	"github.com/dmitrijs2005/tenantry/internal/server/models"
	"github.com/dmitrijs2005/tenantry/internal/server/tenancy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// TenantResolver maps a slug to an active tenant. *tenancy.Resolver implements it.
type TenantResolver interface {
	Resolve(ctx context.Context, slug string) (*models.Tenant, error)
}

// Scoper opens a unit of work bound to a tenant. *tenancy.Binder implements it.
type Scoper interface {
	Scope(ctx context.Context, tc tenancy.TenantContext) (context.Context, func())
}

// MigrationOps is the administrative surface. *services.MigrationService implements it.
type MigrationOps interface {
	RunMigrationsForTenant(ctx context.Context, slug string) error
	RunMigrationsForAllTenants(ctx context.Context) (models.SweepResult, error)
	GetMigrationStatus(ctx context.Context) ([]models.SchemaStatus, error)
}

// RequestMetrics records request outcomes. *metrics.Collector implements it.
type RequestMetrics interface {
	RequestHandled(method, code string, elapsed time.Duration)
	TenantRejected(reason string)
}

type nopMetrics struct{}

func (nopMetrics) RequestHandled(string, string, time.Duration) {}
func (nopMetrics) TenantRejected(string)                        {}

type GRPCServer struct {
	address    string
	logger     logging.Logger
	jwtSecret  []byte
	resolver   TenantResolver
	scoper     Scoper
	migrations MigrationOps
	metrics    RequestMetrics
	health     *health.Server
}

func NewGRPCServer(a string, l logging.Logger, secretKey string, resolver TenantResolver, scoper Scoper, migrations MigrationOps, m RequestMetrics) *GRPCServer {
	if m == nil {
		m = nopMetrics{}
	}
	return &GRPCServer{
		address:    a,
		logger:     l.With("module", "grpc_server"),
		jwtSecret:  []byte(secretKey),
		resolver:   resolver,
		scoper:     scoper,
		migrations: migrations,
		metrics:    m,
		health:     health.NewServer(),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		s.metricsInterceptor,
		s.accessTokenInterceptor,
		s.tenantInterceptor,
	))

	healthpb.RegisterHealthServer(srv, s.health)
	srv.RegisterService(&tenancyServiceDesc, s)
	srv.RegisterService(&adminServiceDesc, s)
	return srv
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx is cancelled, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gPRC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.health.Resume()
	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
