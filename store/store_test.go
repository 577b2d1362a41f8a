package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfygallery/metadata"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheRoundtrip(t *testing.T) {
	c := openTestCache(t)

	meta := &metadata.Metadata{
		FileInfo: metadata.FileInfo{Filename: "a.png", Resolution: "512x512", Size: "1.2 MB", Date: "2026-08-01 10:00:00"},
		Prompt:   `{"1":{"class_type":"KSampler","inputs":{}}}`,
	}
	require.NoError(t, c.Put("/media/a.png", 1000, 2048, meta))

	got, ok := c.Get("/media/a.png", 1000, 2048)
	require.True(t, ok)
	assert.Equal(t, "a.png", got.FileInfo.Filename)
	assert.Equal(t, "512x512", got.FileInfo.Resolution)
	assert.Equal(t, `{"1":{"class_type":"KSampler","inputs":{}}}`, got.Prompt)
}

func TestCacheMissOnFingerprintChange(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Put("/media/a.png", 1000, 2048, &metadata.Metadata{}))

	_, ok := c.Get("/media/a.png", 1001, 2048)
	assert.False(t, ok)
	_, ok = c.Get("/media/a.png", 1000, 4096)
	assert.False(t, ok)
	_, ok = c.Get("/media/other.png", 1000, 2048)
	assert.False(t, ok)
}

func TestCachePutReplaces(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Put("/media/a.png", 1000, 2048, &metadata.Metadata{
		FileInfo: metadata.FileInfo{Filename: "old"},
	}))
	require.NoError(t, c.Put("/media/a.png", 2000, 4096, &metadata.Metadata{
		FileInfo: metadata.FileInfo{Filename: "new"},
	}))

	_, ok := c.Get("/media/a.png", 1000, 2048)
	assert.False(t, ok)

	got, ok := c.Get("/media/a.png", 2000, 4096)
	require.True(t, ok)
	assert.Equal(t, "new", got.FileInfo.Filename)
}

func TestCacheForget(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Put("/media/a.png", 1000, 2048, &metadata.Metadata{}))
	require.NoError(t, c.Forget("/media/a.png"))

	_, ok := c.Get("/media/a.png", 1000, 2048)
	assert.False(t, ok)

	require.NoError(t, c.Forget("/media/never-stored.png"))
}
