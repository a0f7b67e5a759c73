package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestProvider(t *testing.T) (*LocalProvider, string) {
	t.Helper()
	dir := t.TempDir()
	provider, err := NewLocalProvider(dir)
	require.NoError(t, err)
	return provider, dir
}

func TestLocalProvider_PutObject(t *testing.T) {
	provider, baseDir := setupTestProvider(t)

	bucket := "shared"
	key := "reports/load-report.txt"
	content := []byte(">>> Load report : SUCCESS")

	err := provider.PutObject(context.Background(), bucket, key, bytes.NewReader(content))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(baseDir, bucket, key))
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalProvider_GetObjectStream(t *testing.T) {
	provider, _ := setupTestProvider(t)

	bucket := "shared"
	key := "input/users.csv"
	content := []byte("uid;name\njdoe;John Doe\n")

	require.NoError(t, provider.PutObject(context.Background(), bucket, key, bytes.NewReader(content)))

	stream, err := provider.GetObjectStream(context.Background(), bucket, key)
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalProvider_GetObjectMissing(t *testing.T) {
	provider, _ := setupTestProvider(t)

	_, err := provider.GetObject(context.Background(), "shared", "does-not-exist.csv")
	assert.Error(t, err)
}

func TestLocalProvider_ListObjects(t *testing.T) {
	provider, _ := setupTestProvider(t)
	ctx := context.Background()

	require.NoError(t, provider.PutObject(ctx, "shared", "input/a.csv", bytes.NewReader([]byte("a"))))
	require.NoError(t, provider.PutObject(ctx, "shared", "input/b.csv", bytes.NewReader([]byte("bb"))))
	require.NoError(t, provider.PutObject(ctx, "shared", "reports/r.txt", bytes.NewReader([]byte("r"))))

	objects, err := provider.ListObjects(ctx, "shared", "input/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "input/a.csv", objects[0].Name)
	assert.Equal(t, int64(1), objects[0].Size)
	assert.Equal(t, "input/b.csv", objects[1].Name)
	assert.Equal(t, int64(2), objects[1].Size)
}
