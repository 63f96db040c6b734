package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/tenantry/internal/flagx"
	"github.com/dmitrijs2005/tenantry/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON configuration
// files. Pointer fields distinguish "absent" from a zero value so that a
// partial file only overrides what it mentions.
type JsonConfig struct {
	EndpointAddrGRPC   *string         `json:"endpoint_addr_grpc"`
	DatabaseDSN        *string         `json:"database_dsn"`
	SecretKey          *string         `json:"secret_key"`
	MetricsAddr        *string         `json:"metrics_addr"`
	DBRole             *string         `json:"db_role"`
	RedisAddr          *string         `json:"redis_addr"`
	TenantCacheTTL     *timex.Duration `json:"tenant_cache_ttl"`
	MaxOpenConns       *int            `json:"max_open_conns"`
	LogLevel           *string         `json:"log_level"`
	LogFormat          *string         `json:"log_format"`
	AllowSchemaRebuild *bool           `json:"allow_schema_rebuild"`
	AutoApproveTenants *bool           `json:"auto_approve_tenants"`
	MigrateOnStart     *bool           `json:"migrate_on_start"`
	S3Bucket           *string         `json:"s3_bucket"`
	S3Region           *string         `json:"s3_region"`
	S3BaseEndpoint     *string         `json:"s3_base_endpoint"`
	S3AccessKey        *string         `json:"s3_access_key"`
	S3SecretKey        *string         `json:"s3_secret_key"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags. If neither
// is set, no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setIf(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setIf(&config.DatabaseDSN, c.DatabaseDSN)
	setIf(&config.SecretKey, c.SecretKey)
	setIf(&config.MetricsAddr, c.MetricsAddr)
	setIf(&config.DBRole, c.DBRole)
	setIf(&config.RedisAddr, c.RedisAddr)
	if c.TenantCacheTTL != nil {
		config.TenantCacheTTL = c.TenantCacheTTL.Duration
	}
	setIf(&config.MaxOpenConns, c.MaxOpenConns)
	setIf(&config.LogLevel, c.LogLevel)
	setIf(&config.LogFormat, c.LogFormat)
	setIf(&config.AllowSchemaRebuild, c.AllowSchemaRebuild)
	setIf(&config.AutoApproveTenants, c.AutoApproveTenants)
	setIf(&config.MigrateOnStart, c.MigrateOnStart)
	setIf(&config.S3Bucket, c.S3Bucket)
	setIf(&config.S3Region, c.S3Region)
	setIf(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setIf(&config.S3AccessKey, c.S3AccessKey)
	setIf(&config.S3SecretKey, c.S3SecretKey)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
