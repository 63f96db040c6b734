package slug

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/dmitrijs2005/tenantry/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFinder struct {
	taken map[string]bool
	err   error
	calls []string
}

func (f *fakeFinder) FindBySlug(_ context.Context, s string) (*models.Tenant, error) {
	f.calls = append(f.calls, s)
	if f.err != nil {
		return nil, f.err
	}
	if f.taken[s] {
		return &models.Tenant{Slug: s}, nil
	}
	return nil, nil
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme", "acme"},
		{"  Acme Corp  ", "acme-corp"},
		{"Acme   Corp\tLtd", "acme-corpltd"},
		{"Acme\tCorp", "acmecorp"},
		{"Acme\nCorp ", "acmecorp"},
		{"Foo -- Bar", "foo-bar"},
		{"--Leading and trailing--", "leading-and-trailing"},
		{"Ünïcødé & Co.", "ncd-co"},
		{"Under_score", "underscore"},
		{"123 Go!", "123-go"},
		{"!!!", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Generate(tt.in))
		})
	}
}

func TestGenerate_OutputAlphabet(t *testing.T) {
	valid := regexp.MustCompile(`^([a-z0-9]+(-[a-z0-9]+)*)?$`)

	inputs := []string{
		"Acme", "a--b", " - ", "x_y_z", "Tab\tSeparated\nLines", "MiXeD CaSe 42",
		"émigré café", "a - - - b", "-", "trailing-", "日本語 company", "a.b.c",
		strings.Repeat("long name ", 20),
	}

	for _, in := range inputs {
		got := Generate(in)
		assert.Regexp(t, valid, got, "input %q", in)
		assert.LessOrEqual(t, len(got), MaxLength, "input %q", in)
	}
}

func TestSchemaName(t *testing.T) {
	assert.Equal(t, "tenant_acme", SchemaName("acme"))
	assert.Equal(t, "tenant_acme_corp_1", SchemaName("acme-corp-1"))
	assert.Equal(t, SchemaName("acme-corp"), SchemaName("acme-corp"))
}

func TestSchemaName_Injective(t *testing.T) {
	slugs := []string{
		"acme", "acme-1", "acme1", "a-cme", "ac-me", "acme-corp", "acmecorp",
		"a-b-c", "ab-c", "a-bc", "abc", "1", "1-1", "11",
	}

	seen := make(map[string]string, len(slugs))
	for _, s := range slugs {
		require.Equal(t, s, Sanitize(s), "fixture must be a sanitized slug")
		name := SchemaName(s)
		if prev, ok := seen[name]; ok {
			t.Fatalf("slugs %q and %q both map to %q", prev, s, name)
		}
		seen[name] = s
	}
}

func TestSchemaName_FitsIdentifierLimit(t *testing.T) {
	s := Generate(strings.Repeat("x", 200))
	assert.LessOrEqual(t, len(SchemaName(s)), 63)
	assert.LessOrEqual(t, len(SchemaName(WithSuffix(s, 12345))), 63)
}

func TestResolve_Derived(t *testing.T) {
	ctx := context.Background()

	t.Run("free base", func(t *testing.T) {
		f := &fakeFinder{}
		got, err := Resolve(ctx, f, "", "Acme")
		require.NoError(t, err)
		assert.Equal(t, "acme", got)
	})

	t.Run("smallest free suffix", func(t *testing.T) {
		f := &fakeFinder{taken: map[string]bool{"acme": true, "acme-1": true, "acme-3": true}}
		got, err := Resolve(ctx, f, "", "Acme")
		require.NoError(t, err)
		assert.Equal(t, "acme-2", got)
		assert.Equal(t, []string{"acme", "acme-1", "acme-2"}, f.calls)
	})

	t.Run("whitespace-only request is ignored", func(t *testing.T) {
		f := &fakeFinder{}
		got, err := Resolve(ctx, f, "   ", "Acme")
		require.NoError(t, err)
		assert.Equal(t, "acme", got)
	})

	t.Run("empty derived slug", func(t *testing.T) {
		_, err := Resolve(ctx, &fakeFinder{}, "", "***")
		assert.ErrorIs(t, err, common.ErrorInvalidSlug)
	})

	t.Run("lookup error propagates", func(t *testing.T) {
		boom := errors.New("db down")
		_, err := Resolve(ctx, &fakeFinder{err: boom}, "", "Acme")
		assert.ErrorIs(t, err, boom)
	})
}

func TestResolve_Explicit(t *testing.T) {
	ctx := context.Background()

	t.Run("sanitized", func(t *testing.T) {
		got, err := Resolve(ctx, &fakeFinder{}, " My Team ", "Acme")
		require.NoError(t, err)
		assert.Equal(t, "my-team", got)
	})

	t.Run("collision is a conflict, never suffixed", func(t *testing.T) {
		f := &fakeFinder{taken: map[string]bool{"acme": true}}
		_, err := Resolve(ctx, f, "acme", "Whatever")
		assert.ErrorIs(t, err, common.ErrorConflict)
		assert.Equal(t, []string{"acme"}, f.calls)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := Resolve(ctx, &fakeFinder{}, "%%%", "Acme")
		assert.ErrorIs(t, err, common.ErrorInvalidSlug)
	})
}
