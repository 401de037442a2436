package history

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magnetar/models"
)

func TestRecordNewestFirst(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "history.json"))

	s.Record("siteA", "first", 1, 3, models.RunOutcomeOK, "", time.Now())
	s.Record("siteB", "second", 1, 0, models.RunOutcomeEmpty, "", time.Now())

	recent := s.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].Keyword)
	assert.Equal(t, "first", recent[1].Keyword)
	assert.NotEmpty(t, recent[0].ID)
}

func TestRecordTrimsToBound(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "history.json"))

	for i := 0; i < MaxEntries+10; i++ {
		s.Record("site", fmt.Sprintf("kw%d", i), 1, 0, models.RunOutcomeEmpty, "", time.Now())
	}

	recent := s.Recent(0)
	require.Len(t, recent, MaxEntries)
	assert.Equal(t, fmt.Sprintf("kw%d", MaxEntries+9), recent[0].Keyword)
}

func TestRecentLimit(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "history.json"))
	for i := 0; i < 5; i++ {
		s.Record("site", "kw", 1, 0, models.RunOutcomeEmpty, "", time.Now())
	}
	assert.Len(t, s.Recent(3), 3)
	assert.Len(t, s.Recent(100), 5)
}

func TestHistoryPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	s := NewService(path)
	s.Record("site", "persisted", 1, 2, models.RunOutcomeOK, "", time.Now())

	reloaded := NewService(path)
	recent := reloaded.Recent(0)
	require.Len(t, recent, 1)
	assert.Equal(t, "persisted", recent[0].Keyword)
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewService(path)
	assert.Empty(t, s.Recent(0))
}
