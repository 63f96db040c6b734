package registry

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/tenantry/internal/dbx"
)

// BaseTable must exist in every fully provisioned tenant schema. Status
// reports use it to tell an empty schema from a migrated one.
const BaseTable = "users"

// Default is the registry applied to every tenant schema. New entries are
// appended with a larger version; existing entries are never edited.
func Default() *Registry {
	return MustNew(
		Definition{Version: 1718000000000, Name: "CreateUsersAndRoles", Apply: createUsersAndRoles},
		Definition{Version: 1718100000000, Name: "CreateCampaigns", Apply: createCampaigns},
		Definition{Version: 1718200000000, Name: "CreateAudiences", Apply: createAudiences},
		Definition{Version: 1718300000000, Name: "CreateTasks", Apply: createTasks},
		Definition{Version: 1719000000000, Name: "AddUsersAvatarURL", Apply: addUsersAvatarURL},
		Definition{Version: 1719500000000, Name: "EnsureDefaultRoles", Kind: KindEnsure, Apply: ensureDefaultRoles},
		Definition{Version: 1719600000000, Name: "EnsureUserRolesIndex", Kind: KindEnsure, Apply: ensureUserRolesIndex},
	)
}

// statements returns an ApplyFunc running each statement in order. Every %[1]s
// in a statement is replaced with the quoted schema name.
func statements(stmts ...string) ApplyFunc {
	return func(ctx context.Context, db dbx.DBTX, schema string) error {
		s := dbx.Ident(schema)
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, fmt.Sprintf(stmt, s)); err != nil {
				return err
			}
		}
		return nil
	}
}

var createUsersAndRoles = statements(
	`CREATE TABLE %[1]s.users (
		id           uuid PRIMARY KEY DEFAULT uuid_generate_v4(),
		email        text NOT NULL UNIQUE,
		display_name text NOT NULL DEFAULT '',
		firebase_uid text UNIQUE,
		created_at   timestamptz NOT NULL DEFAULT now(),
		updated_at   timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE %[1]s.roles (
		id          uuid PRIMARY KEY DEFAULT uuid_generate_v4(),
		name        text NOT NULL UNIQUE,
		description text NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE %[1]s.user_roles (
		user_id uuid NOT NULL REFERENCES %[1]s.users(id) ON DELETE CASCADE,
		role_id uuid NOT NULL REFERENCES %[1]s.roles(id) ON DELETE CASCADE,
		PRIMARY KEY (user_id, role_id)
	)`,
	`CREATE TRIGGER users_set_updated_at BEFORE UPDATE ON %[1]s.users
		FOR EACH ROW EXECUTE FUNCTION public.set_updated_at()`,
)

var createCampaigns = statements(
	`CREATE TABLE %[1]s.campaigns (
		id         uuid PRIMARY KEY DEFAULT uuid_generate_v4(),
		name       text NOT NULL,
		status     text NOT NULL DEFAULT 'draft',
		starts_at  timestamptz,
		ends_at    timestamptz,
		created_by uuid REFERENCES %[1]s.users(id) ON DELETE SET NULL,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TRIGGER campaigns_set_updated_at BEFORE UPDATE ON %[1]s.campaigns
		FOR EACH ROW EXECUTE FUNCTION public.set_updated_at()`,
)

var createAudiences = statements(
	`CREATE TABLE %[1]s.audiences (
		id          uuid PRIMARY KEY DEFAULT uuid_generate_v4(),
		campaign_id uuid REFERENCES %[1]s.campaigns(id) ON DELETE CASCADE,
		name        text NOT NULL,
		definition  jsonb NOT NULL DEFAULT '{}'::jsonb,
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TRIGGER audiences_set_updated_at BEFORE UPDATE ON %[1]s.audiences
		FOR EACH ROW EXECUTE FUNCTION public.set_updated_at()`,
)

var createTasks = statements(
	`CREATE TABLE %[1]s.tasks (
		id          uuid PRIMARY KEY DEFAULT uuid_generate_v4(),
		campaign_id uuid REFERENCES %[1]s.campaigns(id) ON DELETE CASCADE,
		title       text NOT NULL,
		status      text NOT NULL DEFAULT 'open',
		assignee_id uuid REFERENCES %[1]s.users(id) ON DELETE SET NULL,
		due_at      timestamptz,
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX tasks_campaign_id_idx ON %[1]s.tasks (campaign_id)`,
	`CREATE TRIGGER tasks_set_updated_at BEFORE UPDATE ON %[1]s.tasks
		FOR EACH ROW EXECUTE FUNCTION public.set_updated_at()`,
)

var addUsersAvatarURL = statements(
	`ALTER TABLE %[1]s.users ADD COLUMN avatar_url text`,
)

var ensureDefaultRoles = statements(
	`INSERT INTO %[1]s.roles (name, description) VALUES
		('owner', 'Tenant owner'),
		('admin', 'Administrator'),
		('member', 'Member')
	 ON CONFLICT (name) DO NOTHING`,
)

var ensureUserRolesIndex = statements(
	`CREATE INDEX IF NOT EXISTS user_roles_role_id_idx ON %[1]s.user_roles (role_id)`,
)
