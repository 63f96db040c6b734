package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/dmitrijs2005/tenantry/internal/dbx"
	"github.com/dmitrijs2005/tenantry/internal/server/models"
	"github.com/google/uuid"
)

const selectTenant = `SELECT t.id, t.company_name, t.slug, t.schema_name, t.is_active, t.owner_email,
       t.owner_id, t.status, COALESCE(t.firebase_tenant_id, ''), t.description, t.logo, t.region,
       t.default_role, t.enforce_domain, t.created_at, t.updated_at,
       COALESCE(m.members_count, 0)
  FROM public.tenants t
  LEFT JOIN (
       SELECT tenant_id, COUNT(*) AS members_count
         FROM public.tenant_members
        WHERE deleted_at IS NULL
        GROUP BY tenant_id
  ) m ON m.tenant_id = t.id
`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*models.Tenant, error) {
	var (
		t                                           models.Tenant
		ownerID, description, logo, region, defRole sql.NullString
		status                                      string
	)

	err := row.Scan(&t.ID, &t.CompanyName, &t.Slug, &t.SchemaName, &t.IsActive, &t.OwnerEmail,
		&ownerID, &status, &t.FirebaseTenantID, &description, &logo, &region,
		&defRole, &t.EnforceDomain, &t.CreatedAt, &t.UpdatedAt, &t.MembersCount)
	if err != nil {
		return nil, err
	}

	t.Status = models.TenantStatus(status)
	t.OwnerID = nullable(ownerID)
	t.Description = nullable(description)
	t.Logo = nullable(logo)
	t.Region = nullable(region)
	t.DefaultRole = nullable(defRole)

	return &t, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func (r *PostgresRepository) findOne(ctx context.Context, where string, arg any) (*models.Tenant, error) {
	t, err := scanTenant(r.db.QueryRowContext(ctx, selectTenant+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.Tenant, error) {
	return r.findOne(ctx, ` WHERE t.id = $1`, id)
}

func (r *PostgresRepository) FindBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	return r.findOne(ctx, ` WHERE t.slug = $1`, slug)
}

func (r *PostgresRepository) FindByCompanyName(ctx context.Context, companyName string) (*models.Tenant, error) {
	return r.findOne(ctx, ` WHERE t.company_name = $1 ORDER BY t.created_at LIMIT 1`, companyName)
}

func (r *PostgresRepository) FindByOwnerEmail(ctx context.Context, email string) (*models.Tenant, error) {
	return r.findOne(ctx, ` WHERE t.owner_email = $1 ORDER BY t.created_at LIMIT 1`, email)
}

func (r *PostgresRepository) list(ctx context.Context, where string, args ...any) ([]*models.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, selectTenant+where, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

// ListActive returns active tenants ordered by slug.
func (r *PostgresRepository) ListActive(ctx context.Context) ([]*models.Tenant, error) {
	return r.list(ctx, ` WHERE t.is_active ORDER BY t.slug`)
}

// ListAll returns every tenant, active or not, ordered by slug.
func (r *PostgresRepository) ListAll(ctx context.Context) ([]*models.Tenant, error) {
	return r.list(ctx, ` ORDER BY t.slug`)
}

// ListOwnedOrMemberOf merges the tenants owned by userID with those it is a
// member of. Each tenant appears once, annotated with the user's role.
func (r *PostgresRepository) ListOwnedOrMemberOf(ctx context.Context, userID string) ([]*models.TenantWithRole, error) {
	owned, err := r.list(ctx, ` WHERE t.owner_id = $1 ORDER BY t.slug`, userID)
	if err != nil {
		return nil, err
	}

	memberOf, err := r.list(ctx, ` WHERE EXISTS (
       SELECT 1 FROM public.tenant_members tm
        WHERE tm.tenant_id = t.id AND tm.user_id = $1 AND tm.deleted_at IS NULL
  ) ORDER BY t.slug`, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(owned)+len(memberOf))
	result := make([]*models.TenantWithRole, 0, len(owned)+len(memberOf))

	for _, t := range append(owned, memberOf...) {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		result = append(result, &models.TenantWithRole{Tenant: *t, Role: r.roleOf(ctx, t, userID)})
	}

	return result, nil
}

// roleOf never fails: any lookup problem yields models.RoleMember.
func (r *PostgresRepository) roleOf(ctx context.Context, t *models.Tenant, userID string) string {
	if t.OwnerID != nil && *t.OwnerID == userID {
		return models.RoleOwner
	}

	query := fmt.Sprintf(`SELECT r.name
  FROM %s ur
  JOIN %s r ON r.id = ur.role_id
 WHERE ur.user_id = $1
 ORDER BY r.name
 LIMIT 1`, dbx.Ident(t.SchemaName, "user_roles"), dbx.Ident(t.SchemaName, "roles"))

	var role string
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&role); err != nil || role == "" {
		return models.RoleMember
	}
	return role
}

// Insert stores a new tenant and fills its ID and timestamps. A unique
// violation is reported as common.ErrorConflict.
func (r *PostgresRepository) Insert(ctx context.Context, t *models.Tenant) (*models.Tenant, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	query :=
		`INSERT INTO public.tenants (id, company_name, slug, schema_name, is_active, owner_email,
		    owner_id, status, firebase_tenant_id, description, logo, region, default_role, enforce_domain)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12, $13, $14)
		 RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		t.ID, t.CompanyName, t.Slug, t.SchemaName, t.IsActive, t.OwnerEmail,
		t.OwnerID, string(t.Status), t.FirebaseTenantID, t.Description, t.Logo, t.Region, t.DefaultRole, t.EnforceDomain,
	).Scan(&t.CreatedAt, &t.UpdatedAt)

	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: tenant %q: %v", common.ErrorConflict, t.Slug, err)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return t, nil
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateOwner(ctx context.Context, id, ownerID string) error {
	return r.exec(ctx, `UPDATE public.tenants SET owner_id = $2, updated_at = now() WHERE id = $1`, id, ownerID)
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.TenantStatus) error {
	return r.exec(ctx, `UPDATE public.tenants SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE public.tenants SET is_active = false, updated_at = now() WHERE id = $1`, id)
}

// Delete removes the catalog row. It is the compensating action of a failed
// provisioning and leaves the tenant schema alone.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM public.tenants WHERE id = $1`, id)
}
