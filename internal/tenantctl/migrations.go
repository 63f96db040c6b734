package tenantctl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/dmitrijs2005/tenantry/internal/server/models"
	"github.com/spf13/cobra"
)

var errNotConfirmed = errors.New("aborted: not confirmed")

func (a *App) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [slug]",
		Short: "Apply pending migrations to one tenant, or to all active tenants without a slug",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.deps.EnsureHelpers(ctx); err != nil {
				return err
			}
			if len(args) == 0 {
				return a.sweep(ctx)
			}
			if err := a.deps.Migrations.RunMigrationsForTenant(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "tenant %s migrated\n", args[0])
			return nil
		},
	}
}

func (a *App) migrateAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-all",
		Short: "Apply pending migrations to every active tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.deps.EnsureHelpers(cmd.Context()); err != nil {
				return err
			}
			return a.sweep(cmd.Context())
		},
	}
}

func (a *App) sweep(ctx context.Context) error {
	res, err := a.deps.Migrations.RunMigrationsForAllTenants(ctx)
	if err != nil {
		return err
	}
	return a.report(res)
}

func (a *App) report(res models.SweepResult) error {
	if err := a.printJSON(res); err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d tenant(s) failed: %s", len(res.Failed), strings.Join(res.Failed, ", "))
	}
	return nil
}

func (a *App) rebuildCmd() *cobra.Command {
	var yes, all bool

	cmd := &cobra.Command{
		Use:   "rebuild [slug]",
		Short: "Drop and recreate a tenant schema; all its data is lost",
		Long: "Drops the tenant schema with everything in it, recreates it and applies every migration.\n" +
			"Requires -x. Interactive runs ask for confirmation; other runs need --yes.",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		interactive := a.terminal()

		if err := a.deps.EnsureHelpers(ctx); err != nil {
			if !interactive {
				return err
			}
			a.logger.Warn(ctx, "continuing without shared helpers", "error", err)
		}

		if all {
			return a.rebuildAll(ctx, yes, interactive)
		}

		slug := args[0]
		if !yes {
			if !interactive {
				return fmt.Errorf("%w: pass --yes to rebuild %s non-interactively", errNotConfirmed, slug)
			}
			answer, err := a.prompt(fmt.Sprintf("Type the slug %q to drop and rebuild its schema: ", slug))
			if err != nil {
				return err
			}
			if answer != slug {
				return errNotConfirmed
			}
		}

		if err := a.deps.Migrations.RebuildTenantSchema(ctx, slug); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "tenant %s rebuilt\n", slug)
		return nil
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&all, "all", false, "rebuild every active tenant")
	return cmd
}

func (a *App) rebuildAll(ctx context.Context, yes, interactive bool) error {
	count, err := a.deps.Migrations.ActiveTenantCount(ctx)
	if err != nil {
		return err
	}

	confirm := count
	if !yes {
		if !interactive {
			return fmt.Errorf("%w: pass --yes to rebuild all tenants non-interactively", errNotConfirmed)
		}
		answer, err := a.prompt(fmt.Sprintf("This drops %d tenant schemas. Type the number of tenants to continue: ", count))
		if err != nil {
			return err
		}
		if confirm, err = strconv.Atoi(answer); err != nil {
			return fmt.Errorf("%w: %q is not a number", common.ErrorConfirmation, answer)
		}
	}

	res, err := a.deps.Migrations.RebuildAllTenantSchemas(ctx, confirm)
	if err != nil {
		return err
	}
	return a.report(res)
}

func (a *App) prompt(question string) (string, error) {
	fmt.Fprint(a.out, question)
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read confirmation: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (a *App) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the schema state of every tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.deps.Migrations.GetMigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(st)
		},
	}
}
