package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactStore(t *testing.T) {
	store, err := NewAt(t.TempDir())
	require.NoError(t, err)

	t.Run("Should group parse and generation artifacts apart", func(t *testing.T) {
		parseDir, err := store.ParseDir("p1")
		require.NoError(t, err)
		genDir, err := store.GenerationDir("s1")
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(store.BaseDir(), "parses", "p1"), parseDir)
		assert.Equal(t, filepath.Join(store.BaseDir(), "generations", "s1"), genDir)
		assert.DirExists(t, parseDir)
		assert.DirExists(t, genDir)
	})

	t.Run("Should round trip JSON artifacts", func(t *testing.T) {
		dir, err := store.ParseDir("p2")
		require.NoError(t, err)
		path := filepath.Join(dir, "parsed.json")

		saved := map[string]int{"total": 12}
		require.NoError(t, store.SaveJSON(path, saved))

		var loaded map[string]int
		require.NoError(t, store.LoadJSON(path, &loaded))
		assert.Equal(t, saved, loaded)
	})

	t.Run("Should write raw bytes under missing parents", func(t *testing.T) {
		path := filepath.Join(store.BaseDir(), "generations", "s2", "cases_s2.xmind")
		require.NoError(t, store.SaveBytes(path, []byte("archive")))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []byte("archive"), data)
	})

	t.Run("Should remove a directory tree and tolerate missing ones", func(t *testing.T) {
		dir, err := store.GenerationDir("s3")
		require.NoError(t, err)
		require.NoError(t, store.SaveBytes(filepath.Join(dir, "cases.json"), []byte("{}")))

		require.NoError(t, store.RemoveDir(dir))
		assert.NoDirExists(t, dir)
		assert.NoError(t, store.RemoveDir(dir))
		assert.NoError(t, store.RemoveDir(""))
	})

	t.Run("Should fail to load a missing artifact", func(t *testing.T) {
		var v map[string]int
		err := store.LoadJSON(filepath.Join(store.BaseDir(), "nope.json"), &v)
		require.Error(t, err)
	})
}
