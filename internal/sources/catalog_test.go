package sources_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datacol/colfetch/internal/ratelimit"
	"github.com/datacol/colfetch/internal/sources"
)

const catalogYAML = `
sources:
  - key: dane
    name: DANE
    kind: api
    base_url: https://www.dane.gov.co
    path: /servicios/api
    rate_limit:
      max_requests: 10
      window: 1m
    cache_ttl: 1h
  - key: datos-abiertos
    name: Datos Abiertos Colombia
    kind: api
    base_url: https://www.datos.gov.co
    query:
      "$limit": "1000"
  - key: eltiempo
    name: El Tiempo
    kind: news
    base_url: https://www.eltiempo.com
    no_cache: true
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Catalog(t *testing.T) {
	t.Parallel()

	catalog, err := sources.Load(writeCatalog(t, catalogYAML))
	require.NoError(t, err)

	assert.Equal(t, 3, catalog.Len())
	assert.Equal(t, []string{"dane", "datos-abiertos", "eltiempo"}, catalog.Keys())

	dane, ok := catalog.Get("dane")
	require.True(t, ok)
	assert.Equal(t, sources.KindAPI, dane.Kind)
	assert.Equal(t, time.Hour, dane.CacheTTL)

	_, ok = catalog.Get("missing")
	assert.False(t, ok)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := sources.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestNewCatalog_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []sources.Source
		wantErr error
	}{
		{
			"missing key",
			[]sources.Source{{BaseURL: "https://x.gov.co"}},
			sources.ErrMissingKey,
		},
		{
			"missing base url",
			[]sources.Source{{Key: "x"}},
			sources.ErrMissingBaseURL,
		},
		{
			"duplicate keys",
			[]sources.Source{
				{Key: "x", BaseURL: "https://a.gov.co"},
				{Key: "x", BaseURL: "https://b.gov.co"},
			},
			sources.ErrDuplicateKey,
		},
		{
			"unknown kind",
			[]sources.Source{{Key: "x", BaseURL: "https://a.gov.co", Kind: "rss"}},
			sources.ErrInvalidKind,
		},
		{
			"bad rate override",
			[]sources.Source{{
				Key:       "x",
				BaseURL:   "https://a.gov.co",
				RateLimit: &sources.RateBudget{MaxRequests: 5},
			}},
			ratelimit.ErrInvalidWindow,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := sources.NewCatalog(tt.entries)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewCatalog_RejectsRelativeBaseURL(t *testing.T) {
	t.Parallel()

	_, err := sources.NewCatalog([]sources.Source{{Key: "x", BaseURL: "not-a-url"}})
	require.Error(t, err)
}

func TestCatalog_Budgets(t *testing.T) {
	t.Parallel()

	catalog, err := sources.Load(writeCatalog(t, catalogYAML))
	require.NoError(t, err)

	budgets := catalog.Budgets()
	require.Len(t, budgets, 1, "only explicit overrides appear")
	assert.Equal(t, ratelimit.Budget{MaxRequests: 10, Window: time.Minute}, budgets["dane"])
}

func TestSource_Request(t *testing.T) {
	t.Parallel()

	src := sources.Source{
		Key:      "datos-abiertos",
		BaseURL:  "https://www.datos.gov.co",
		Path:     "/resource/default.json",
		Query:    map[string]string{"$limit": "1000", "$order": "fecha"},
		Header:   map[string]string{"X-App-Token": "abc"},
		CacheTTL: time.Hour,
	}

	req := src.Request("/resource/gt2j-8ykr.json", map[string]string{"$limit": "50"})

	assert.Equal(t, "datos-abiertos", req.ResourceKey)
	assert.Equal(t, "/resource/gt2j-8ykr.json", req.Path)
	assert.Equal(t, "50", req.Query["$limit"], "request values win over source defaults")
	assert.Equal(t, "fecha", req.Query["$order"], "source defaults survive the merge")
	assert.Equal(t, "abc", req.Header["X-App-Token"])
	assert.True(t, req.UseCache)
	assert.Equal(t, time.Hour, req.CacheTTL)

	// Empty path falls back to the source default.
	assert.Equal(t, "/resource/default.json", src.Request("", nil).Path)

	noCache := sources.Source{Key: "eltiempo", BaseURL: "https://www.eltiempo.com", NoCache: true}
	assert.False(t, noCache.Request("/rss", nil).UseCache)
}

func TestSource_RequestCarriesRetryOverride(t *testing.T) {
	t.Parallel()

	src := sources.Source{
		Key:     "banrep",
		BaseURL: "https://suameca.banrep.gov.co",
		Retry:   &sources.RetryOverride{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond},
	}

	req := src.Request("", nil)
	require.NotNil(t, req.Retry)
	assert.Equal(t, 5, req.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, req.Retry.BaseDelay)

	plain := sources.Source{Key: "dane", BaseURL: "https://www.dane.gov.co"}
	assert.Nil(t, plain.Request("", nil).Retry)
}

func TestSource_RejectsNegativeRetryOverride(t *testing.T) {
	t.Parallel()

	_, err := sources.NewCatalog([]sources.Source{{
		Key:     "x",
		BaseURL: "https://a.gov.co",
		Retry:   &sources.RetryOverride{MaxAttempts: -1},
	}})
	require.Error(t, err)
}
