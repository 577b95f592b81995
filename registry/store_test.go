package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"modelmon/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Connect(config.RegistryConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "registry.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestConnectRejectsUnknownDriver(t *testing.T) {
	_, err := Connect(config.RegistryConfig{Driver: "oracle", DSN: "whatever"})
	assert.Error(t, err)

	_, err = Connect(config.RegistryConfig{Driver: "postgres", DSN: "not-a-url"})
	assert.Error(t, err)
}

func TestSourceCRUD(t *testing.T) {
	store := openTestStore(t)

	source := &MarketplaceSource{
		Name:   "hub",
		Index:  1,
		Object: datatypes.JSONMap{"kind": "git", "url": "https://example.com/hub.git"},
	}
	require.NoError(t, store.Create(source))
	assert.NotZero(t, source.ID)
	assert.False(t, source.Created.IsZero())

	got, err := store.Get("hub")
	require.NoError(t, err)
	assert.Equal(t, "hub", got.Name)
	assert.Equal(t, 1, got.Index)
	assert.Equal(t, "git", got.Object["kind"])

	updated, err := store.Update("hub", 5, datatypes.JSONMap{"kind": "s3"})
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Index)
	assert.Equal(t, "s3", updated.Object["kind"])

	require.NoError(t, store.Delete("hub"))
	_, err = store.Get("hub")
	assert.ErrorIs(t, err, ErrSourceNotFound)

	// Deleting an absent source is not an error.
	assert.NoError(t, store.Delete("hub"))
}

func TestDuplicateNameRejected(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Create(&MarketplaceSource{Name: "hub", Object: datatypes.JSONMap{}}))
	err := store.Create(&MarketplaceSource{Name: "hub", Object: datatypes.JSONMap{}})
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestGetMissingSource(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get("no-such-source")
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestListOrdering(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Create(&MarketplaceSource{Name: "zeta", Index: 1, Object: datatypes.JSONMap{}}))
	require.NoError(t, store.Create(&MarketplaceSource{Name: "alpha", Index: 2, Object: datatypes.JSONMap{}}))
	require.NoError(t, store.Create(&MarketplaceSource{Name: "beta", Index: 1, Object: datatypes.JSONMap{}}))

	sources, err := store.List()
	require.NoError(t, err)
	require.Len(t, sources, 3)

	// Ordered by index, then name.
	assert.Equal(t, "beta", sources[0].Name)
	assert.Equal(t, "zeta", sources[1].Name)
	assert.Equal(t, "alpha", sources[2].Name)
}
