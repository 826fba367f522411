package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tthsd/tthsd/internal/engine/types"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	tempDir := t.TempDir()
	t.Setenv("TTHSD_HOME", tempDir)
	Reset()
	t.Cleanup(Reset)
}

func TestBeginFinish_RoundTrips(t *testing.T) {
	setupTestDB(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	id, err := Begin("https://example.com/out.bin", path, 11)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	rec, err := Get(id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.StateRunning.String(), rec.Status)

	require.NoError(t, Finish(id, types.StateDone, path))

	rec, err = Get(id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.StateDone.String(), rec.Status)
	assert.NotZero(t, rec.FinishedAt)
}

func TestGet_UnknownIDReturnsNil(t *testing.T) {
	setupTestDB(t)

	rec, err := Get("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

// Both runs start within the same second (started_at has one-second
// resolution), so their relative order is not checked here.
func TestRecent_ReturnsAllStartedRuns(t *testing.T) {
	setupTestDB(t)

	id1, err := Begin("https://example.com/a.bin", "/tmp/a.bin", 10)
	require.NoError(t, err)
	id2, err := Begin("https://example.com/b.bin", "/tmp/b.bin", 20)
	require.NoError(t, err)

	recs, err := Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	ids := map[string]bool{id1: true, id2: true}
	assert.True(t, ids[recs[0].ID])
	assert.True(t, ids[recs[1].ID])
}

func TestFinish_FailedRunHasNoContentType(t *testing.T) {
	setupTestDB(t)

	id, err := Begin("https://example.com/out.bin", "/tmp/out.bin", 11)
	require.NoError(t, err)
	require.NoError(t, Finish(id, types.StateFailed, "/tmp/out.bin"))

	rec, err := Get(id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.StateFailed.String(), rec.Status)
	assert.Empty(t, rec.ContentType)
}
