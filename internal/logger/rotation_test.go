package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter(t *testing.T) {
	t.Run("rotates past max size", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "chainscout.log")

		w, err := NewRotatingWriter(path, 1, 0, false)
		require.NoError(t, err)
		defer w.Close()

		chunk := []byte(strings.Repeat("x", 600*1024))
		_, err = w.Write(chunk)
		require.NoError(t, err)
		_, err = w.Write(chunk)
		require.NoError(t, err)

		matches, err := filepath.Glob(path + ".*")
		require.NoError(t, err)
		assert.Len(t, matches, 1)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, int64(len(chunk)), info.Size())
	})

	t.Run("compresses rotated files", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "chainscout.log")

		w, err := NewRotatingWriter(path, 1, 0, true)
		require.NoError(t, err)
		defer w.Close()

		chunk := []byte(strings.Repeat("y", 700*1024))
		_, _ = w.Write(chunk)
		_, err = w.Write(chunk)
		require.NoError(t, err)

		matches, err := filepath.Glob(path + ".*.gz")
		require.NoError(t, err)
		assert.Len(t, matches, 1)
	})

	t.Run("prunes old files", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "chainscout.log")
		old := path + ".20200101-000000.000"
		require.NoError(t, os.WriteFile(old, []byte("old"), 0644))
		past := time.Now().AddDate(0, 0, -30)
		require.NoError(t, os.Chtimes(old, past, past))

		w, err := NewRotatingWriter(path, 1, 7, false)
		require.NoError(t, err)
		defer w.Close()

		_, err = os.Stat(old)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("write after close", func(t *testing.T) {
		w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "a.log"), 1, 0, false)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		require.NoError(t, w.Close())

		_, err = w.Write([]byte("x"))
		assert.ErrorIs(t, err, os.ErrClosed)
	})
}
