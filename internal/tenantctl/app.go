// Package tenantctl implements the administrative command line: tenant
// provisioning, catalog updates and schema migrations run against the same
// database the server uses.
package tenantctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/tenantry/internal/dbx"
	"github.com/dmitrijs2005/tenantry/internal/logging"
	"github.com/dmitrijs2005/tenantry/internal/server"
	"github.com/dmitrijs2005/tenantry/internal/server/config"
	"github.com/dmitrijs2005/tenantry/internal/server/registry"
	"github.com/dmitrijs2005/tenantry/internal/server/repositories/repomanager"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

// DepsFactory opens the collaborators a command runs against.
type DepsFactory func(ctx context.Context, cfg *config.Config, logger logging.Logger) (*server.Deps, error)

type App struct {
	config   *config.Config
	open     DepsFactory
	in       io.Reader
	out      io.Writer
	errOut   io.Writer
	terminal func() bool

	configFile string
	cacheTTL   int

	logger logging.Logger
	deps   *server.Deps
}

// NewApp returns an App that talks to PostgreSQL using cfg.
func NewApp(cfg *config.Config) *App {
	return &App{
		config:   cfg,
		open:     OpenPostgres,
		in:       os.Stdin,
		out:      os.Stdout,
		errOut:   os.Stderr,
		terminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
}

// OpenPostgres is the production DepsFactory.
func OpenPostgres(ctx context.Context, cfg *config.Config, logger logging.Logger) (*server.Deps, error) {
	db, err := server.OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	d, err := server.NewDeps(ctx, cfg, logger, db, repomanager.NewPostgresRepositoryManager(cfg.DBRole), dbx.NewTxRunner(db), registry.Default())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// Command builds the cobra command tree.
func (a *App) Command() *cobra.Command {
	root := &cobra.Command{
		Use:               "tenantctl",
		Short:             "Administer tenants and their schemas",
		SilenceUsage:      true,
		PersistentPreRunE: a.connect,
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	a.bindFlags(root.PersistentFlags())

	root.AddCommand(
		a.createCmd(),
		a.setOwnerCmd(),
		a.approveCmd(),
		a.rejectCmd(),
		a.deactivateCmd(),
		a.listForUserCmd(),
		a.migrateCmd(),
		a.migrateAllCmd(),
		a.rebuildCmd(),
		a.statusCmd(),
	)
	return root
}

// bindFlags mirrors the server's short flags so one invocation style works
// for both binaries. Defaults are whatever config.LoadConfig produced.
func (a *App) bindFlags(fs *pflag.FlagSet) {
	c := a.config
	fs.StringVarP(&a.configFile, "config", "c", "", "path to JSON config file")
	fs.StringVarP(&c.EndpointAddrGRPC, "address", "a", c.EndpointAddrGRPC, "gRPC bind address (unused by tenantctl)")
	fs.StringVarP(&c.DatabaseDSN, "dsn", "d", c.DatabaseDSN, "database DSN")
	fs.StringVarP(&c.SecretKey, "secret", "s", c.SecretKey, "token secret key (unused by tenantctl)")
	fs.StringVarP(&c.MetricsAddr, "metrics", "m", c.MetricsAddr, "metrics address (unused by tenantctl)")
	fs.StringVarP(&c.DBRole, "db-role", "o", c.DBRole, "database role granted tenant schema privileges")
	fs.StringVarP(&c.RedisAddr, "redis", "r", c.RedisAddr, "redis address of the tenant cache")
	fs.IntVarP(&a.cacheTTL, "cache-ttl", "t", int(c.TenantCacheTTL.Seconds()), "tenant cache ttl (in seconds)")
	fs.IntVarP(&c.MaxOpenConns, "max-conns", "n", c.MaxOpenConns, "max open database connections")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "log level")
	fs.StringVarP(&c.LogFormat, "log-format", "f", c.LogFormat, "log format (text, json)")
	fs.StringVarP(&c.S3Bucket, "s3-bucket", "b", c.S3Bucket, "S3 bucket for rebuild audit records")
	fs.StringVarP(&c.S3Region, "s3-region", "g", c.S3Region, "S3 region")
	fs.StringVarP(&c.S3BaseEndpoint, "s3-endpoint", "e", c.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVarP(&c.S3AccessKey, "s3-access-key", "u", c.S3AccessKey, "S3 access key")
	fs.StringVarP(&c.S3SecretKey, "s3-secret-key", "k", c.S3SecretKey, "S3 secret key")
	fs.BoolVarP(&c.AllowSchemaRebuild, "allow-rebuild", "x", c.AllowSchemaRebuild, "allow schema rebuild")
	fs.BoolVarP(&c.AutoApproveTenants, "auto-approve", "p", c.AutoApproveTenants, "approve new tenants on creation")
	fs.BoolVarP(&c.MigrateOnStart, "migrate-on-start", "w", c.MigrateOnStart, "migrate all tenants on start (unused by tenantctl)")
}

func (a *App) connect(cmd *cobra.Command, _ []string) error {
	if f := cmd.Flags().Lookup("cache-ttl"); f != nil && f.Changed {
		a.config.TenantCacheTTL = time.Duration(a.cacheTTL) * time.Second
	}

	a.logger = logging.New(a.errOut, a.config.LogLevel, a.config.LogFormat)

	deps, err := a.open(cmd.Context(), a.config, a.logger)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	a.deps = deps
	return nil
}

func (a *App) disconnect() {
	if a.deps == nil {
		return
	}
	if err := a.deps.Close(); err != nil {
		a.logger.Warn(context.Background(), "close failed", "error", err)
	}
	a.deps = nil
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Run executes the command tree with args.
func (a *App) Run(ctx context.Context, args []string) error {
	root := a.Command()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	a.disconnect()
	return err
}
