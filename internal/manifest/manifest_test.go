package manifest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrips(t *testing.T) {
	m := New("http://example.com/f.bin", 1000, 100, `"etag1"`, 10)
	m.MarkDone(0)
	m.MarkDone(3)
	m.MarkDone(9)

	data, err := m.Encode()
	require.NoError(t, err)
	assert.Equal(t, magic[:], data[:6])
	assert.Equal(t, version, data[6])

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, m.URL, decoded.URL)
	assert.Equal(t, m.Total, decoded.Total)
	assert.Equal(t, m.ChunkSize, decoded.ChunkSize)
	assert.Equal(t, m.ETag, decoded.ETag)
	assert.True(t, decoded.IsDone(0))
	assert.True(t, decoded.IsDone(3))
	assert.True(t, decoded.IsDone(9))
	assert.False(t, decoded.IsDone(1))
}

func TestDecode_RejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte("not-a-manifest-at-all"))
	assert.Error(t, err)
}

func TestSaveLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	savePath := filepath.Join(dir, "file.bin")

	m := New("http://example.com/f.bin", 500, 50, "", 10)
	m.MarkDone(2)
	require.NoError(t, Save(savePath, m))

	loaded, err := Load(savePath)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.IsDone(2))
	assert.False(t, loaded.IsDone(3))
}

func TestLoad_MissingFileReturnsNil(t *testing.T) {
	dir := t.TempDir()
	loaded, err := Load(filepath.Join(dir, "nope.bin"))
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMatches(t *testing.T) {
	m := New("http://example.com/f.bin", 1000, 100, `"etag1"`, 10)
	assert.True(t, m.Matches("http://example.com/f.bin", 1000, `"etag1"`))
	assert.False(t, m.Matches("http://example.com/f.bin", 999, `"etag1"`))
	assert.False(t, m.Matches("http://example.com/f.bin", 1000, `"etag2"`))
	assert.True(t, m.Matches("http://example.com/f.bin", 1000, ""))
}

func TestWriter_FlushesOnClose(t *testing.T) {
	dir := t.TempDir()
	savePath := filepath.Join(dir, "file.bin")

	w := NewWriter(savePath)
	m := New("http://example.com/f.bin", 1000, 100, "", 10)
	m.MarkDone(0)
	w.Update(m, 100)
	require.NoError(t, w.Close())

	loaded, err := Load(savePath)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.IsDone(0))
}

func TestWriter_FlushesOnByteThreshold(t *testing.T) {
	dir := t.TempDir()
	savePath := filepath.Join(dir, "file.bin")

	w := NewWriter(savePath)
	defer w.Close()

	m := New("http://example.com/f.bin", 1000, 100, "", 10)
	w.Update(m, 64*1024*1024+1)

	require.Eventually(t, func() bool {
		loaded, err := Load(savePath)
		return err == nil && loaded != nil
	}, 2*time.Second, 10*time.Millisecond)
}
