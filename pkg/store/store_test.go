package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsEmptyStore(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "accounts.yaml"))
	require.NoError(t, err)
	assert.Empty(t, s.All())
}

func TestPutPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")

	s, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(AccountConfig{ID: "itemX", Integration: "plaid", Token: "accX"}))

	reloaded, err := Load(path)
	require.NoError(t, err)
	cfg, ok := reloaded.Get("itemX")
	require.True(t, ok)
	assert.Equal(t, "plaid", cfg.Integration)
	assert.Equal(t, "accX", cfg.Token)
}

func TestPutOverwritesOnRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	s, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, s.Put(AccountConfig{ID: "itemX", Integration: "plaid", Token: "old"}))
	require.NoError(t, s.Put(AccountConfig{ID: "itemX", Integration: "plaid", Token: "new"}))

	assert.Len(t, s.All(), 1)
	cfg, _ := s.Get("itemX")
	assert.Equal(t, "new", cfg.Token)
}

func TestStoreFileIsOwnerOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	s, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(AccountConfig{ID: "itemX", Token: "secret"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAllIsSortedByID(t *testing.T) {
	m := NewMemory(
		AccountConfig{ID: "beta"},
		AccountConfig{ID: "alpha"},
		AccountConfig{ID: "gamma"},
	)
	all := m.All()
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].ID)
	assert.Equal(t, "beta", all[1].ID)
	assert.Equal(t, "gamma", all[2].ID)
}

func TestMemoryPutAndGet(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put(AccountConfig{ID: "itemX", Token: "accX"}))
	cfg, ok := m.Get("itemX")
	require.True(t, ok)
	assert.Equal(t, "accX", cfg.Token)

	_, ok = m.Get("missing")
	assert.False(t, ok)
}
