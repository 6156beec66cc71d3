package credstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncagent/engine/internal/credstore"
)

func TestCreateLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyfile.json")
	store := credstore.New(path, nil)

	key, err := store.Create([]byte("correct horse"))
	require.NoError(t, err)

	loaded, err := store.Load([]byte("correct horse"))
	require.NoError(t, err)
	assert.Equal(t, key, loaded)
}

func TestCreateTwiceFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyfile.json")
	store := credstore.New(path, nil)

	_, err := store.Create([]byte("pw"))
	require.NoError(t, err)

	_, err = store.Create([]byte("pw"))
	require.ErrorIs(t, err, credstore.ErrAlreadyInitialized)
}

func TestLoadWithoutInitFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyfile.json")
	store := credstore.New(path, nil)

	_, err := store.Load([]byte("pw"))
	require.ErrorIs(t, err, credstore.ErrNotInitialized)
}

func TestLoadBadPasswordFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyfile.json")
	store := credstore.New(path, nil)

	_, err := store.Create([]byte("correct password"))
	require.NoError(t, err)

	_, err = store.Load([]byte("wrong password"))
	require.ErrorIs(t, err, credstore.ErrBadPassword)
}

func TestExportImportRewrapsUnderNewSalt(t *testing.T) {
	pathA := filepath.Join(t.TempDir(), "a.json")
	storeA := credstore.New(pathA, nil)

	key, err := storeA.Create([]byte("pw-a"))
	require.NoError(t, err)

	exported, err := storeA.Export([]byte("pw-a"))
	require.NoError(t, err)

	pathB := filepath.Join(t.TempDir(), "b.json")
	storeB := credstore.New(pathB, nil)

	imported, err := storeB.Import([]byte("pw-b"), exported)
	require.NoError(t, err)
	assert.Equal(t, key, imported)

	// The new installation must be unlockable with its own password, not
	// the originating machine's password.
	loaded, err := storeB.Load([]byte("pw-b"))
	require.NoError(t, err)
	assert.Equal(t, key, loaded)

	_, err = storeB.Load([]byte("pw-a"))
	require.ErrorIs(t, err, credstore.ErrBadPassword)
}

func TestImportBadBase64Fails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyfile.json")
	store := credstore.New(path, nil)

	_, err := store.Import([]byte("pw"), "not base64!!!")
	require.ErrorIs(t, err, credstore.ErrBadBase64)
}

func TestImportWrongLengthFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyfile.json")
	store := credstore.New(path, nil)

	// Valid base64, but decodes to fewer than 32 bytes.
	_, err := store.Import([]byte("pw"), "YWJj")
	require.ErrorIs(t, err, credstore.ErrBadKeyFormat)
}

type fakeVault struct {
	keys map[string][32]byte
}

func (f *fakeVault) Get(keyID string) ([32]byte, bool) {
	k, ok := f.keys[keyID]
	return k, ok
}

func (f *fakeVault) Set(keyID string, key [32]byte) error {
	if f.keys == nil {
		f.keys = make(map[string][32]byte)
	}

	f.keys[keyID] = key

	return nil
}

func TestVaultCachesUnwrappedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyfile.json")
	vault := &fakeVault{}
	store := credstore.New(path, vault)

	key, err := store.Create([]byte("pw"))
	require.NoError(t, err)

	_, err = store.Load([]byte("pw"))
	require.NoError(t, err)

	assert.Len(t, vault.keys, 1)

	for _, cached := range vault.keys {
		assert.Equal(t, key, cached)
	}
}
