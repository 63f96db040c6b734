package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/dmitrijs2005/tenantry/internal/dbx"
	"github.com/dmitrijs2005/tenantry/internal/server/models"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/schemas"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/tenants"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/tracking"
	"github.com/google/uuid"
)

// MemorySchema is the in-memory state of one tenant schema.
type MemorySchema struct {
	Tables   map[string]bool
	Tracking bool
	Records  []models.MigrationRecord
}

type memoryMember struct {
	tenantID string
	userID   string
	deleted  bool
}

// MemoryStore backs InMemoryRepositoryManager. It mimics the constraints of
// the Postgres catalog (unique slug, schema name and identity-provider id)
// and lets callers inject failures per operation name.
type MemoryStore struct {
	mu      sync.Mutex
	tenants map[string]*models.Tenant
	members []memoryMember
	schemas map[string]*MemorySchema
	roles   map[string]map[string]string
	faults  map[string]error
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[string]*models.Tenant),
		schemas: make(map[string]*MemorySchema),
		roles:   make(map[string]map[string]string),
		faults:  make(map[string]error),
		now:     time.Now,
	}
}

// FailOn makes the named repository operation (e.g. "CreateSchemaIfMissing")
// return err until cleared with a nil err.
func (s *MemoryStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *MemoryStore) fault(op string) error {
	return s.faults[op]
}

// AddMember records userID as a member of tenantID.
func (s *MemoryStore) AddMember(tenantID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = append(s.members, memoryMember{tenantID: tenantID, userID: userID})
}

// SetRole sets the role userID holds inside schema.
func (s *MemoryStore) SetRole(schema, userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roles[schema] == nil {
		s.roles[schema] = make(map[string]string)
	}
	s.roles[schema][userID] = role
}

// Schema returns the schema state, or nil if the schema does not exist.
// The returned value must only be modified while no repository call runs.
func (s *MemoryStore) Schema(name string) *MemorySchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schemas[name]
}

// CreateTable marks table as present in schema, creating the schema if needed.
func (s *MemoryStore) CreateTable(schema, table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemaLocked(schema).Tables[table] = true
}

func (s *MemoryStore) schemaLocked(name string) *MemorySchema {
	sc, ok := s.schemas[name]
	if !ok {
		sc = &MemorySchema{Tables: make(map[string]bool)}
		s.schemas[name] = sc
	}
	return sc
}

// Tenants returns a snapshot of every catalog row sorted by slug.
func (s *MemoryStore) Tenants() []*models.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterLocked(func(*models.Tenant) bool { return true })
}

func (s *MemoryStore) filterLocked(keep func(*models.Tenant) bool) []*models.Tenant {
	var out []*models.Tenant
	for _, t := range s.tenants {
		if keep(t) {
			out = append(out, s.withCountLocked(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

func (s *MemoryStore) withCountLocked(t *models.Tenant) *models.Tenant {
	c := *t
	c.MembersCount = 0
	for _, m := range s.members {
		if m.tenantID == t.ID && !m.deleted {
			c.MembersCount++
		}
	}
	return &c
}

// InMemoryRepositoryManager is a RepositoryManager whose repositories share
// one MemoryStore and ignore the DBTX they are given.
type InMemoryRepositoryManager struct {
	Store *MemoryStore
}

func NewInMemoryRepositoryManager(store *MemoryStore) *InMemoryRepositoryManager {
	if store == nil {
		store = NewMemoryStore()
	}
	return &InMemoryRepositoryManager{Store: store}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

func (m *InMemoryRepositoryManager) Tenants(dbx.DBTX) tenants.Repository {
	return memoryTenants{m.Store}
}

func (m *InMemoryRepositoryManager) Schemas(dbx.DBTX) schemas.Repository {
	return memorySchemas{m.Store}
}

func (m *InMemoryRepositoryManager) Tracking(dbx.DBTX) tracking.Repository {
	return memoryTracking{m.Store}
}

// InMemoryTx runs functions without a transaction, passing a nil DBTX.
type InMemoryTx struct{}

func (InMemoryTx) InTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return fn(ctx, nil)
}

type memoryTenants struct{ s *MemoryStore }

func (r memoryTenants) findOne(op string, match func(*models.Tenant) bool) (*models.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault(op); err != nil {
		return nil, err
	}
	found := r.s.filterLocked(match)
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (r memoryTenants) FindByID(_ context.Context, id string) (*models.Tenant, error) {
	return r.findOne("FindByID", func(t *models.Tenant) bool { return t.ID == id })
}

func (r memoryTenants) FindBySlug(_ context.Context, slug string) (*models.Tenant, error) {
	return r.findOne("FindBySlug", func(t *models.Tenant) bool { return t.Slug == slug })
}

func (r memoryTenants) FindByCompanyName(_ context.Context, name string) (*models.Tenant, error) {
	return r.findOne("FindByCompanyName", func(t *models.Tenant) bool { return t.CompanyName == name })
}

func (r memoryTenants) FindByOwnerEmail(_ context.Context, email string) (*models.Tenant, error) {
	return r.findOne("FindByOwnerEmail", func(t *models.Tenant) bool { return t.OwnerEmail == email })
}

func (r memoryTenants) ListActive(context.Context) ([]*models.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("ListActive"); err != nil {
		return nil, err
	}
	return r.s.filterLocked(func(t *models.Tenant) bool { return t.IsActive }), nil
}

func (r memoryTenants) ListAll(context.Context) ([]*models.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("ListAll"); err != nil {
		return nil, err
	}
	return r.s.filterLocked(func(*models.Tenant) bool { return true }), nil
}

func (r memoryTenants) ListOwnedOrMemberOf(_ context.Context, userID string) ([]*models.TenantWithRole, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("ListOwnedOrMemberOf"); err != nil {
		return nil, err
	}

	memberOf := make(map[string]bool)
	for _, m := range r.s.members {
		if m.userID == userID && !m.deleted {
			memberOf[m.tenantID] = true
		}
	}

	var out []*models.TenantWithRole
	for _, t := range r.s.filterLocked(func(t *models.Tenant) bool {
		return (t.OwnerID != nil && *t.OwnerID == userID) || memberOf[t.ID]
	}) {
		role := models.RoleMember
		if t.OwnerID != nil && *t.OwnerID == userID {
			role = models.RoleOwner
		} else if rr, ok := r.s.roles[t.SchemaName][userID]; ok {
			role = rr
		}
		out = append(out, &models.TenantWithRole{Tenant: *t, Role: role})
	}
	return out, nil
}

func (r memoryTenants) Insert(_ context.Context, t *models.Tenant) (*models.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Insert"); err != nil {
		return nil, err
	}

	for _, e := range r.s.tenants {
		if e.Slug == t.Slug || e.SchemaName == t.SchemaName || (t.FirebaseTenantID != "" && e.FirebaseTenantID == t.FirebaseTenantID) {
			return nil, fmt.Errorf("%w: tenant %q", common.ErrorConflict, t.Slug)
		}
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = r.s.now()
	t.UpdatedAt = t.CreatedAt

	c := *t
	r.s.tenants[t.ID] = &c
	return t, nil
}

func (r memoryTenants) update(op, id string, fn func(*models.Tenant)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault(op); err != nil {
		return err
	}
	t, ok := r.s.tenants[id]
	if !ok {
		return common.ErrorNotFound
	}
	fn(t)
	t.UpdatedAt = r.s.now()
	return nil
}

func (r memoryTenants) UpdateOwner(_ context.Context, id, ownerID string) error {
	return r.update("UpdateOwner", id, func(t *models.Tenant) { t.OwnerID = &ownerID })
}

func (r memoryTenants) UpdateStatus(_ context.Context, id string, status models.TenantStatus) error {
	return r.update("UpdateStatus", id, func(t *models.Tenant) { t.Status = status })
}

func (r memoryTenants) Deactivate(_ context.Context, id string) error {
	return r.update("Deactivate", id, func(t *models.Tenant) { t.IsActive = false })
}

func (r memoryTenants) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Delete"); err != nil {
		return err
	}
	if _, ok := r.s.tenants[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.tenants, id)
	return nil
}

type memorySchemas struct{ s *MemoryStore }

func (r memorySchemas) CreateSchemaIfMissing(_ context.Context, schema string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("CreateSchemaIfMissing"); err != nil {
		return err
	}
	r.s.schemaLocked(schema)
	return nil
}

func (r memorySchemas) DropSchemaCascade(_ context.Context, schema string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("DropSchemaCascade"); err != nil {
		return err
	}
	delete(r.s.schemas, schema)
	delete(r.s.roles, schema)
	return nil
}

func (r memorySchemas) SchemaExists(_ context.Context, schema string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("SchemaExists"); err != nil {
		return false, err
	}
	_, ok := r.s.schemas[schema]
	return ok, nil
}

func (r memorySchemas) TableExists(_ context.Context, schema, table string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("TableExists"); err != nil {
		return false, err
	}
	sc, ok := r.s.schemas[schema]
	return ok && sc.Tables[table], nil
}

func (r memorySchemas) EnsureUUIDExtension(context.Context) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.fault("EnsureUUIDExtension")
}

func (r memorySchemas) EnsureHelpers(context.Context) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.fault("EnsureHelpers")
}

type memoryTracking struct{ s *MemoryStore }

func (r memoryTracking) EnsureTable(_ context.Context, schema string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("EnsureTable"); err != nil {
		return err
	}
	sc, ok := r.s.schemas[schema]
	if !ok {
		return fmt.Errorf("schema %q does not exist", schema)
	}
	sc.Tracking = true
	return nil
}

func (r memoryTracking) Applied(_ context.Context, schema string) ([]models.MigrationRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Applied"); err != nil {
		return nil, err
	}
	sc, ok := r.s.schemas[schema]
	if !ok || !sc.Tracking {
		return nil, nil
	}
	out := make([]models.MigrationRecord, len(sc.Records))
	copy(out, sc.Records)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (r memoryTracking) Record(_ context.Context, schema string, version int64, name string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Record"); err != nil {
		return err
	}
	sc, ok := r.s.schemas[schema]
	if !ok || !sc.Tracking {
		return fmt.Errorf("relation %q.%q does not exist", schema, tracking.TableName)
	}
	for _, rec := range sc.Records {
		if rec.Version == version {
			return fmt.Errorf("%w: migration %d already recorded", common.ErrorConflict, version)
		}
	}
	sc.Records = append(sc.Records, models.MigrationRecord{Version: version, Name: name, AppliedAt: r.s.now()})
	return nil
}
