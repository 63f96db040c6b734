// Package slug derives URL-safe tenant slugs from company names and maps
// slugs to Postgres schema names.
package slug

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/dmitrijs2005/tenantry/internal/server/models"
)

const (
	// SchemaPrefix is prepended to every tenant schema name.
	SchemaPrefix = "tenant_"

	// MaxLength keeps SchemaPrefix+slug within Postgres' 63 byte identifier limit.
	MaxLength = 63 - len(SchemaPrefix)

	maxSuffixAttempts = 10_000
)

var (
	disallowed = regexp.MustCompile(`[^a-z0-9 -]`)
	spaces     = regexp.MustCompile(` +`)
	hyphens    = regexp.MustCompile(`-+`)
)

// Generate turns an arbitrary name into a slug made of lowercase letters,
// digits and single hyphens, with no leading or trailing hyphen. Only plain
// spaces become hyphens; tabs, newlines and every other character outside
// [a-z0-9 -] are dropped.
// The result may be empty if name has no usable characters.
func Generate(name string) string {
	s := strings.TrimSpace(strings.ToLower(name))
	s = disallowed.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, "-")
	s = hyphens.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	return truncate(s, MaxLength)
}

// Sanitize normalizes an explicitly requested slug. It applies the same
// rules as Generate.
func Sanitize(requested string) string {
	return Generate(requested)
}

// SchemaName maps a slug to its schema name. Sanitized slugs never contain
// '_', so the mapping is injective.
func SchemaName(slug string) string {
	return SchemaPrefix + strings.ReplaceAll(slug, "-", "_")
}

// Finder is the lookup Resolve needs. tenants.Repository satisfies it.
type Finder interface {
	FindBySlug(ctx context.Context, slug string) (*models.Tenant, error)
}

// Resolve picks the slug for a new tenant.
//
// An explicit request is sanitized and used as is: it fails with
// common.ErrorInvalidSlug if nothing survives sanitization and with
// common.ErrorConflict if a tenant already has it. Explicit slugs are never
// suffixed.
//
// Without a request the slug is derived from fallbackName; if that is taken,
// the smallest free "-N" suffix (N >= 1) is appended. The check is not
// atomic; the catalog's unique constraint has the final word.
func Resolve(ctx context.Context, finder Finder, requested, fallbackName string) (string, error) {
	if strings.TrimSpace(requested) != "" {
		s := Sanitize(requested)
		if s == "" {
			return "", fmt.Errorf("%w: %q", common.ErrorInvalidSlug, requested)
		}
		taken, err := exists(ctx, finder, s)
		if err != nil {
			return "", err
		}
		if taken {
			return "", fmt.Errorf("%w: slug %q already exists", common.ErrorConflict, s)
		}
		return s, nil
	}

	base := Generate(fallbackName)
	if base == "" {
		return "", fmt.Errorf("%w: cannot derive a slug from %q", common.ErrorInvalidSlug, fallbackName)
	}

	taken, err := exists(ctx, finder, base)
	if err != nil {
		return "", err
	}
	if !taken {
		return base, nil
	}

	for n := 1; n <= maxSuffixAttempts; n++ {
		candidate := WithSuffix(base, n)
		taken, err := exists(ctx, finder, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: no free slug for %q", common.ErrorConflict, base)
}

// WithSuffix appends "-n" to base, shortening base if needed to stay within MaxLength.
func WithSuffix(base string, n int) string {
	suffix := "-" + strconv.Itoa(n)
	base = truncate(base, MaxLength-len(suffix))
	return base + suffix
}

func exists(ctx context.Context, finder Finder, slug string) (bool, error) {
	t, err := finder.FindBySlug(ctx, slug)
	if err != nil {
		return false, fmt.Errorf("slug lookup: %w", err)
	}
	return t != nil, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimRight(s[:n], "-")
}
