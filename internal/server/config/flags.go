package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/tenantry/internal/flagx"
)

var (
	valueFlags = []string{"-a", "-d", "-s", "-m", "-o", "-r", "-t", "-n", "-l", "-f", "-b", "-g", "-e", "-u", "-k"}
	boolFlags  = []string{"-x", "-p", "-w"}
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-m string   metrics bind address
//	-o string   database role granted tenant schema privileges
//	-r string   Redis address for the tenant cache
//	-t int      tenant cache TTL, seconds
//	-n int      max open database connections
//	-l string   log level (debug, info, warn, error)
//	-f string   log format (text, json)
//	-b string   S3 bucket for rebuild audit records
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-u string   S3 access key
//	-k string   S3 secret key
//	-x bool     allow destructive schema rebuilds
//	-p bool     auto-approve new tenants
//	-w bool     run migrations for all tenants on start
//
// Notes:
//   - os.Args is filtered down to the flags recognized here using
//     flagx.FilterArgsWithBools, so cobra subcommands and their own flags
//     pass through untouched.
//   - The cache TTL is accepted as an integer in seconds and then converted
//     to a time.Duration value.
func parseFlags(config *Config) {
	allowed := append(append([]string{}, valueFlags...), boolFlags...)
	args := flagx.FilterArgsWithBools(os.Args[1:], allowed, boolFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics address")
	fs.StringVar(&config.DBRole, "o", config.DBRole, "database role owning tenant schemas")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")

	cacheTTL := fs.Int("t", int(config.TenantCacheTTL.Seconds()), "tenant cache ttl (in seconds)")

	fs.IntVar(&config.MaxOpenConns, "n", config.MaxOpenConns, "max open database connections")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 audit bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3AccessKey, "u", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "k", config.S3SecretKey, "S3 secret key")
	fs.BoolVar(&config.AllowSchemaRebuild, "x", config.AllowSchemaRebuild, "allow schema rebuild")
	fs.BoolVar(&config.AutoApproveTenants, "p", config.AutoApproveTenants, "auto-approve new tenants")
	fs.BoolVar(&config.MigrateOnStart, "w", config.MigrateOnStart, "migrate all tenants on start")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TenantCacheTTL = time.Duration(*cacheTTL) * time.Second
}
