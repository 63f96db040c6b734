// Package metrics exposes Prometheus collectors for schema routing,
// migrations, provisioning and the gRPC transport.
package metrics

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tenantry"

// Collector owns a private registry and implements the observer interfaces
// of the tenancy, runner and services packages.
type Collector struct {
	registry *prometheus.Registry

	ConnsInUse          prometheus.Gauge
	ConnsAcquired       prometheus.Counter
	ConnsReleased       *prometheus.CounterVec
	Migrations          *prometheus.CounterVec
	Sweeps              prometheus.Counter
	SweepTenants        *prometheus.CounterVec
	TenantsProvisioned  prometheus.Counter
	ProvisioningFailure *prometheus.CounterVec
	GRPCRequests        *prometheus.CounterVec
	GRPCDuration        *prometheus.HistogramVec
	TenantResolveErrors *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		ConnsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "connections_in_use",
			Help:      "Schema-bound connections currently checked out by routers",
		}),
		ConnsAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "connections_acquired_total",
			Help:      "Connections checked out and bound to a tenant schema",
		}),
		ConnsReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "connections_released_total",
			Help:      "Connections handed back by routers, by outcome",
		}, []string{"outcome"}),
		Migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "migrations",
			Name:      "applied_total",
			Help:      "Tenant migrations run, by kind and result",
		}, []string{"kind", "result"}),
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "migrations",
			Name:      "sweeps_total",
			Help:      "Completed fleet-wide migration sweeps",
		}),
		SweepTenants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "migrations",
			Name:      "sweep_tenants_total",
			Help:      "Tenants visited by migration sweeps, by result",
		}, []string{"result"}),
		TenantsProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "tenants_created_total",
			Help:      "Tenants provisioned with a migrated schema",
		}),
		ProvisioningFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "failures_total",
			Help:      "Failed tenant provisioning attempts, by step",
		}, []string{"step"}),
		GRPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "Unary RPCs handled, by method and status code",
		}, []string{"method", "code"}),
		GRPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "Duration of unary RPCs in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		TenantResolveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "tenant_resolution_errors_total",
			Help:      "Requests rejected during tenant resolution, by reason",
		}, []string{"reason"}),
	}

	c.registry = reg
	reg.MustRegister(
		c.ConnsInUse,
		c.ConnsAcquired,
		c.ConnsReleased,
		c.Migrations,
		c.Sweeps,
		c.SweepTenants,
		c.TenantsProvisioned,
		c.ProvisioningFailure,
		c.GRPCRequests,
		c.GRPCDuration,
		c.TenantResolveErrors,
		collectors.NewGoCollector(),
	)

	return c
}

// RegisterDB adds the pool statistics of db under the given name.
func (c *Collector) RegisterDB(db *sql.DB, name string) error {
	return c.registry.Register(collectors.NewDBStatsCollector(db, name))
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ConnAcquired() {
	c.ConnsAcquired.Inc()
	c.ConnsInUse.Inc()
}

func (c *Collector) ConnReleased(discarded bool) {
	c.ConnsInUse.Dec()
	outcome := "returned"
	if discarded {
		outcome = "discarded"
	}
	c.ConnsReleased.WithLabelValues(outcome).Inc()
}

func (c *Collector) MigrationApplied(kind string) {
	c.Migrations.WithLabelValues(kind, "success").Inc()
}

func (c *Collector) MigrationFailed(kind string) {
	c.Migrations.WithLabelValues(kind, "failure").Inc()
}

func (c *Collector) SweepFinished(success, failed int) {
	c.Sweeps.Inc()
	c.SweepTenants.WithLabelValues("success").Add(float64(success))
	c.SweepTenants.WithLabelValues("failure").Add(float64(failed))
}

func (c *Collector) TenantProvisioned() {
	c.TenantsProvisioned.Inc()
}

func (c *Collector) ProvisioningFailed(step string) {
	c.ProvisioningFailure.WithLabelValues(step).Inc()
}

// RequestHandled records one unary RPC.
func (c *Collector) RequestHandled(method, code string, elapsed time.Duration) {
	c.GRPCRequests.WithLabelValues(method, code).Inc()
	c.GRPCDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// TenantRejected records a request refused before reaching its handler.
func (c *Collector) TenantRejected(reason string) {
	c.TenantResolveErrors.WithLabelValues(reason).Inc()
}
