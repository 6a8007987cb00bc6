package duplicate

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func sha1Hex(data []byte) string {
	return fmt.Sprintf("%X", sha1.Sum(data))
}

func TestCalculateFileSHA1(t *testing.T) {
	path := writeFile(t, "hello.txt", []byte("hello world"))

	sum, err := CalculateFileSHA1(path)
	require.NoError(t, err)
	assert.Equal(t, "2AAE6C35C94FCFB415DBE95F408B9CE91EE846ED", sum)

	_, err = CalculateFileSHA1(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCalculateStreamSHA1(t *testing.T) {
	sum, err := CalculateStreamSHA1(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "DA39A3EE5E6B4B0D3255BFEF95601890AFD80709", sum)
}

func TestGetFileInfo(t *testing.T) {
	t.Run("small file reuses full digest as prehash", func(t *testing.T) {
		data := []byte("small payload")
		path := writeFile(t, "small.bin", data)

		info, err := GetFileInfo(path)
		require.NoError(t, err)
		assert.Equal(t, sha1Hex(data), info.SHA1)
		assert.Equal(t, info.SHA1, info.PreSHA1)
		assert.Equal(t, int64(len(data)), info.Size)
		assert.Equal(t, "small.bin", info.Filename)
	})

	t.Run("large file hashes leading block separately", func(t *testing.T) {
		data := bytes.Repeat([]byte("0123456789abcdef"), PreHashSize/16+100)
		path := writeFile(t, "large.bin", data)

		info, err := GetFileInfo(path)
		require.NoError(t, err)
		assert.Equal(t, sha1Hex(data), info.SHA1)
		assert.Equal(t, sha1Hex(data[:PreHashSize]), info.PreSHA1)
		assert.NotEqual(t, info.SHA1, info.PreSHA1)
	})
}

func TestMemoryStore(t *testing.T) {
	var store Store = NewMemoryStore()

	_, ok := store.Get("/upload/a")
	assert.False(t, ok)

	store.Put("/upload/b", "BBBB")
	store.Put("/upload/a", "AAAA")
	store.Put("/upload/a", "A2A2")

	sum, ok := store.Get("/upload/a")
	assert.True(t, ok)
	assert.Equal(t, "A2A2", sum)
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, []string{"/upload/a", "/upload/b"}, store.Paths())

	store.Delete("/upload/a")
	store.Delete("/upload/never-there")
	_, ok = store.Get("/upload/a")
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len())
}
