package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectName(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 7, 20, 9, 30, 5, 0, time.UTC)
	assert.Equal(t, "tickets_20240720_093005.json", ObjectName("tickets", ts))
}

func TestLocalSaveAndReload(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "dumps")
	arc, err := NewLocal(dir)
	require.NoError(t, err)

	require.NoError(t, arc.Save(context.Background(), "tickets_20240720_093005.json", []byte(`[]`)))

	data, err := os.ReadFile(filepath.Join(dir, "tickets_20240720_093005.json"))
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(data))
}

func TestLocalRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	arc, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	err = arc.Save(context.Background(), "../escape.json", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path separators")
}

func TestNewLocalRejectsFilePath(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := NewLocal(file)
	require.Error(t, err)
}

func TestNoOpSave(t *testing.T) {
	t.Parallel()

	require.NoError(t, NoOp{}.Save(context.Background(), "anything.json", nil))
}
