package tenantctl

import (
	"fmt"

	"github.com/dmitrijs2005/tenantry/internal/server/services"
	"github.com/spf13/cobra"
)

func optional(cmd *cobra.Command, name string, v string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

func (a *App) createCmd() *cobra.Command {
	var in services.CreateTenantInput
	var description, logo, region, role string

	cmd := &cobra.Command{
		Use:   "create [company-name]",
		Short: "Provision a tenant and its schema",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := a.deps.EnsureHelpers(ctx); err != nil {
			return err
		}

		in.CompanyName = args[0]
		in.Description = optional(cmd, "description", description)
		in.Logo = optional(cmd, "logo", logo)
		in.Region = optional(cmd, "region", region)
		in.DefaultRole = optional(cmd, "default-role", role)

		t, err := a.deps.Provisioning.CreateTenant(ctx, in)
		if err != nil {
			return err
		}
		return a.printJSON(t)
	}

	f := cmd.Flags()
	f.StringVar(&in.Slug, "slug", "", "explicit slug (derived from the company name when empty)")
	f.StringVar(&in.OwnerEmail, "owner-email", "", "owner e-mail address")
	f.StringVar(&in.FirebaseTenantID, "idp-tenant", "", "identity provider tenant id")
	f.BoolVar(&in.EnforceDomain, "enforce-domain", false, "restrict members to the owner's e-mail domain")
	f.StringVar(&description, "description", "", "tenant description")
	f.StringVar(&logo, "logo", "", "logo URL")
	f.StringVar(&region, "region", "", "data region")
	f.StringVar(&role, "default-role", "", "role given to new members")
	return cmd
}

func (a *App) setOwnerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-owner [tenant-id] [user-id]",
		Short: "Record the owning user of a tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.deps.Provisioning.SetOwner(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "tenant %s owned by %s\n", args[0], args[1])
			return nil
		},
	}
}

func (a *App) approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve [tenant-id]",
		Short: "Approve a pending tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.deps.Provisioning.Approve(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "tenant %s approved\n", args[0])
			return nil
		},
	}
}

func (a *App) rejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject [tenant-id]",
		Short: "Reject a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.deps.Provisioning.Reject(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "tenant %s rejected\n", args[0])
			return nil
		},
	}
}

func (a *App) deactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate [tenant-id]",
		Short: "Hide a tenant; its schema is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.deps.Provisioning.Deactivate(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "tenant %s deactivated\n", args[0])
			return nil
		},
	}
}

func (a *App) listForUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-for-user [user-id]",
		Short: "List the tenants a user owns or belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := a.deps.Provisioning.ListTenantsForUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(ts)
		},
	}
}
