// Package models defines server-side data models persisted in the database.
package models

import "time"

// TenantStatus is the approval state of a tenant. It is independent of
// Tenant.IsActive, which only says whether the tenant is visible and usable.
type TenantStatus string

const (
	TenantStatusPending  TenantStatus = "pending"
	TenantStatusApproved TenantStatus = "approved"
	TenantStatusRejected TenantStatus = "rejected"
)

// Tenant is a row of the public.tenants catalog.
type Tenant struct {
	ID          string
	CompanyName string

	// Slug and SchemaName never change after creation.
	Slug       string
	SchemaName string

	// OwnerID references a user inside the tenant's own schema, so there is no FK.
	IsActive   bool
	OwnerEmail string
	OwnerID    *string

	Status           TenantStatus
	FirebaseTenantID string
	Description      *string
	Logo             *string
	Region           *string
	DefaultRole      *string
	EnforceDomain    bool

	// MembersCount is derived from public.tenant_members on every single-tenant read.
	MembersCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TenantWithRole is a tenant annotated with the caller's effective role in it.
type TenantWithRole struct {
	Tenant
	Role string
}

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)
