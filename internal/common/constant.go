package common

// AccessTokenHeaderName is the gRPC metadata key carrying the caller's access token.
const AccessTokenHeaderName = "access_token"

// TenantHeaderName is the gRPC metadata key carrying the tenant slug.
const TenantHeaderName = "x-tenant-slug"

// PublicSchema is the schema holding the tenant catalog.
const PublicSchema = "public"
