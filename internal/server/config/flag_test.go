package config

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		start       *Config
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{"cmd",
				"-a", "127.0.0.1:9090", "-d", "db", "-s", "secret", "-m", ":9100",
				"-o", "app_role", "-r", "localhost:6379", "-t", "30", "-n", "5",
				"-l", "debug", "-f", "json", "-x", "-p", "-w=false",
				"-b", "audit", "-g", "eu-west-1", "-e", "http://minio:9000", "-u", "user", "-k", "pass",
			},
			start: &Config{MigrateOnStart: true},
			expected: &Config{
				EndpointAddrGRPC:   "127.0.0.1:9090",
				DatabaseDSN:        "db",
				SecretKey:          "secret",
				MetricsAddr:        ":9100",
				DBRole:             "app_role",
				RedisAddr:          "localhost:6379",
				TenantCacheTTL:     30 * time.Second,
				MaxOpenConns:       5,
				LogLevel:           "debug",
				LogFormat:          "json",
				AllowSchemaRebuild: true,
				AutoApproveTenants: true,
				MigrateOnStart:     false,
				S3Bucket:           "audit",
				S3Region:           "eu-west-1",
				S3BaseEndpoint:     "http://minio:9000",
				S3AccessKey:        "user",
				S3SecretKey:        "pass",
			},
		},
		{
			name:  "bool flag does not swallow subcommand",
			args:  []string{"cmd", "-x", "rebuild", "acme", "-d", "db"},
			start: &Config{},
			expected: &Config{
				DatabaseDSN:        "db",
				AllowSchemaRebuild: true,
			},
		},
		{
			name:        "bad int",
			args:        []string{"cmd", "-n", "many"},
			start:       &Config{},
			expectPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)
			os.Args = tt.args

			config := tt.start

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
