package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoragePut(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	path, err := store.Put(context.Background(), "timetables/run.csv", []byte("a,b\n"), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "timetables", "run.csv"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(content))
}

func TestLocalStorageRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../outside.csv", []byte("x"), "")
	assert.Error(t, err)
}

func TestLocalStorageCleanupOlderThan(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	oldPath, err := store.Put(context.Background(), "old.pdf", []byte("old"), "")
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "new.pdf", []byte("new"), "")
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	deleted, err := store.CleanupOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"old.pdf"}, deleted)
	_, err = os.Stat(filepath.Join(dir, "new.pdf"))
	assert.NoError(t, err)
}

func TestNewS3StorageValidatesConfig(t *testing.T) {
	_, err := NewS3Storage(S3Config{})
	assert.Error(t, err)

	_, err = NewS3Storage(S3Config{Endpoint: "localhost:9000", AccessKey: "key"})
	assert.Error(t, err)

	_, err = NewS3Storage(S3Config{Endpoint: "localhost:9000", AccessKey: "key", SecretKey: "secret"})
	assert.Error(t, err)

	store, err := NewS3Storage(S3Config{Endpoint: "localhost:9000", AccessKey: "key", SecretKey: "secret", Bucket: "exams"})
	require.NoError(t, err)
	assert.Equal(t, "s3", store.Name())
	assert.Equal(t, "us-east-1", store.region)
}
