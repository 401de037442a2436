package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	m := NewManager(path)

	s, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 8632, s.Server.Port)
	assert.NotEmpty(t, s.Scrapers)
	_, err = os.Stat(path)
	assert.NoError(t, err, "defaults should have been written")
}

func TestLoadBackfillsNewScrapers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"host": "127.0.0.1", "port": 9000},
		"scrapers": [{"id": "onelou", "enabled": false, "siteUrl": "https://mirror.example"}]
	}`), 0o644))

	m := NewManager(path)
	s, err := m.Load()
	require.NoError(t, err)

	// User edits survive.
	one := s.Scraper("onelou")
	require.NotNil(t, one)
	assert.False(t, one.Enabled)
	assert.Equal(t, "https://mirror.example", one.SiteURL)
	// Zero-valued knobs get defaults.
	assert.Equal(t, 4, one.BatchConcurrency)

	// Scrapers missing from the old file appear.
	assert.NotNil(t, s.Scraper("cilixiong"))
	assert.NotNil(t, s.Scraper("wuqian"))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	m := NewManager(path)

	s, err := m.Load()
	require.NoError(t, err)
	s.Scraper("cilixiong").Enabled = false
	require.NoError(t, m.Save(s))

	again, err := m.Load()
	require.NoError(t, err)
	assert.False(t, again.Scraper("cilixiong").Enabled)
}

func TestDefaultScraperConfig(t *testing.T) {
	def, ok := DefaultScraperConfig("onelou")
	require.True(t, ok)
	assert.True(t, def.RequiresChallengeBypass)

	_, ok = DefaultScraperConfig("nope")
	assert.False(t, ok)
}
