package gcs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeBucket(objects map[string]string) openFunc {
	return func(_ context.Context, bucket, object string) (io.ReadCloser, error) {
		body, ok := objects[bucket+"/"+object]
		if !ok {
			return nil, errors.New("object not found")
		}
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

func TestNewRequiresClientAndBucket(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = newSource(Config{}, fakeBucket(nil))
	require.Error(t, err)
}

func TestMaterializeDownloadsAndCleansUp(t *testing.T) {
	src, err := newSource(Config{Bucket: "media", Prefix: "listings", TempDir: t.TempDir()}, fakeBucket(map[string]string{
		"media/listings/l1/a.jpg": "first",
		"media/listings/l1/b.jpg": "second",
	}))
	require.NoError(t, err)

	paths, cleanup, err := src.Materialize(context.Background(), []string{"l1/a.jpg", "l1/b.jpg"})
	require.NoError(t, err)
	require.Len(t, paths, 2)
	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.Equal(t, "01-b.jpg", filepath.Base(paths[1]))

	cleanup()
	_, err = os.Stat(filepath.Dir(paths[0]))
	assert.True(t, os.IsNotExist(err))
}

func TestMaterializeRemovesPartialDownloads(t *testing.T) {
	tmp := t.TempDir()
	src, err := newSource(Config{Bucket: "media", TempDir: tmp}, fakeBucket(map[string]string{
		"media/a.jpg": "ok",
	}))
	require.NoError(t, err)

	_, _, err = src.Materialize(context.Background(), []string{"a.jpg", "missing.jpg"})
	require.ErrorContains(t, err, "gs://media/missing.jpg")

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
