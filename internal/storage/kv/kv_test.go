package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/goald/internal/db"
)

func buckets(t *testing.T) map[string]Bucket {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "kv.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	return map[string]Bucket{
		"sqlite": NewSQLiteBucket(d.DB, "settings"),
		"memory": NewMemoryBucket("settings"),
	}
}

func TestBucket_PutGetDelete(t *testing.T) {
	for name, b := range buckets(t) {
		t.Run(name, func(t *testing.T) {
			var s string
			found, err := b.Get("active", &s)
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, b.Put("active", "p1"))
			require.NoError(t, b.Put("active", "p2"))
			found, err = b.Get("active", &s)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "p2", s)

			existed, err := b.Delete("active")
			require.NoError(t, err)
			assert.True(t, existed)
			existed, err = b.Delete("active")
			require.NoError(t, err)
			assert.False(t, existed)
		})
	}
}

func TestBucket_StructValuesAndKeys(t *testing.T) {
	type session struct {
		Started int64 `json:"started"`
	}
	for name, b := range buckets(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Put("session", session{Started: 42}))
			require.NoError(t, b.Put("active", "p1"))

			var got session
			found, err := b.Get("session", &got)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, int64(42), got.Started)

			keys, err := b.Keys()
			require.NoError(t, err)
			assert.Equal(t, []string{"active", "session"}, keys)
		})
	}
}

func TestSQLiteBucket_IsolatedByName(t *testing.T) {
	d, err := db.Open(filepath.Join(t.TempDir(), "kv.sqlite"))
	require.NoError(t, err)
	defer d.Close()

	a := NewSQLiteBucket(d.DB, "a")
	b := NewSQLiteBucket(d.DB, "b")
	require.NoError(t, a.Put("k", 1))

	var v int
	found, err := b.Get("k", &v)
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, a.IsPersistent())
	assert.False(t, NewMemoryBucket("m").IsPersistent())
}
