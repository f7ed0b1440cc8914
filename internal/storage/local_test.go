package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	ls, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return ls
}

func createTempFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	return path
}

func TestNewLocalStorage(t *testing.T) {
	tests := []struct {
		name        string
		basePath    string
		shouldError bool
	}{
		{
			name:        "valid path",
			basePath:    t.TempDir(),
			shouldError: false,
		},
		{
			name:        "non-existent path",
			basePath:    filepath.Join(t.TempDir(), "nested", "path"),
			shouldError: false,
		},
		{
			name:        "invalid path (file instead of directory)",
			basePath:    createTempFile(t),
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ls, err := NewLocalStorage(tt.basePath)

			if tt.shouldError {
				assert.Error(t, err)
				assert.Nil(t, ls)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, ls)

				info, err := os.Stat(tt.basePath)
				assert.NoError(t, err)
				assert.True(t, info.IsDir())
			}
		})
	}
}

func TestLocalStorage_Store(t *testing.T) {
	ls := setupTestStorage(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		path    string
		content string
	}{
		{
			name:    "simple file",
			path:    "test.txt",
			content: "hello world",
		},
		{
			name:    "nested path",
			path:    "nested/dir/test.txt",
			content: "nested content",
		},
		{
			name:    "binary content",
			path:    "binary.bin",
			content: string([]byte{0x00, 0x01, 0x02, 0xFF}),
		},
		{
			name:    "empty content",
			path:    "empty.txt",
			content: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			written, err := ls.Store(ctx, tt.path, strings.NewReader(tt.content))
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.content)), written)

			reader, err := ls.Retrieve(ctx, tt.path)
			require.NoError(t, err)
			defer reader.Close()

			stored, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(stored))
		})
	}
}

func TestLocalStorage_Store_Overwrites(t *testing.T) {
	ls := setupTestStorage(t)
	ctx := context.Background()

	_, err := ls.Store(ctx, "file.bin", strings.NewReader("first version"))
	require.NoError(t, err)

	written, err := ls.Store(ctx, "file.bin", strings.NewReader("v2"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), written)

	size, err := ls.GetSize(ctx, "file.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)
}

func TestLocalStorage_Store_LeavesNoTempFiles(t *testing.T) {
	basePath := t.TempDir()
	ls, err := NewLocalStorage(basePath)
	require.NoError(t, err)

	_, err = ls.Store(context.Background(), "blob.bin", strings.NewReader("content"))
	require.NoError(t, err)

	entries, err := os.ReadDir(basePath)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "blob.bin", entries[0].Name())
}

func TestLocalStorage_Retrieve_NotFound(t *testing.T) {
	ls := setupTestStorage(t)

	reader, err := ls.Retrieve(context.Background(), "missing.txt")
	assert.Error(t, err)
	assert.Nil(t, reader)
	assert.Contains(t, err.Error(), "file not found")
}

func TestLocalStorage_Delete(t *testing.T) {
	ls := setupTestStorage(t)
	ctx := context.Background()

	_, err := ls.Store(ctx, "doomed.txt", strings.NewReader("bye"))
	require.NoError(t, err)

	require.NoError(t, ls.Delete(ctx, "doomed.txt"))

	exists, err := ls.Exists(ctx, "doomed.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting again is not an error
	assert.NoError(t, ls.Delete(ctx, "doomed.txt"))
}

func TestLocalStorage_Exists(t *testing.T) {
	ls := setupTestStorage(t)
	ctx := context.Background()

	exists, err := ls.Exists(ctx, "nope.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = ls.Store(ctx, "yes.txt", strings.NewReader("here"))
	require.NoError(t, err)

	exists, err = ls.Exists(ctx, "yes.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalStorage_GetSize(t *testing.T) {
	ls := setupTestStorage(t)
	ctx := context.Background()

	content := bytes.Repeat([]byte("a"), 1024)
	_, err := ls.Store(ctx, "sized.bin", bytes.NewReader(content))
	require.NoError(t, err)

	size, err := ls.GetSize(ctx, "sized.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), size)

	_, err = ls.GetSize(ctx, "missing.bin")
	assert.Error(t, err)
}

func TestLocalStorage_Rename(t *testing.T) {
	ls := setupTestStorage(t)
	ctx := context.Background()

	_, err := ls.Store(ctx, "uploads/abc.part", strings.NewReader("payload"))
	require.NoError(t, err)

	require.NoError(t, ls.Rename(ctx, "uploads/abc.part", "uploads/abc.txt"))

	exists, err := ls.Exists(ctx, "uploads/abc.part")
	require.NoError(t, err)
	assert.False(t, exists)

	reader, err := ls.Retrieve(ctx, "uploads/abc.txt")
	require.NoError(t, err)
	defer reader.Close()

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
}

func TestLocalStorage_Rename_IntoNewDirectory(t *testing.T) {
	ls := setupTestStorage(t)
	ctx := context.Background()

	_, err := ls.Store(ctx, "a.bin", strings.NewReader("move me"))
	require.NoError(t, err)

	require.NoError(t, ls.Rename(ctx, "a.bin", "deep/nested/b.bin"))

	exists, err := ls.Exists(ctx, "deep/nested/b.bin")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalStorage_Rename_SourceMissing(t *testing.T) {
	ls := setupTestStorage(t)

	err := ls.Rename(context.Background(), "ghost.part", "ghost.txt")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}

func TestLocalStorage_ConcurrentStores(t *testing.T) {
	ls := setupTestStorage(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("concurrent/%d.txt", i)
			_, err := ls.Store(ctx, path, strings.NewReader(fmt.Sprintf("content %d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		exists, err := ls.Exists(ctx, fmt.Sprintf("concurrent/%d.txt", i))
		require.NoError(t, err)
		assert.True(t, exists)
	}
}

func TestLocalStorage_ContextCancellation(t *testing.T) {
	ls := setupTestStorage(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ls.Store(ctx, "never.txt", strings.NewReader("no"))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = ls.Retrieve(ctx, "never.txt")
	assert.ErrorIs(t, err, context.Canceled)

	err = ls.Rename(ctx, "never.txt", "still-never.txt")
	assert.ErrorIs(t, err, context.Canceled)
}
