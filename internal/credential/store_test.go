package credential

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	store := NewStore(path)

	rec := &Record{
		Refresh:       "refresh-token",
		Access:        "access-token",
		Expires:       1234567890000,
		EnterpriseURL: "ghe.example.com",
	}
	require.NoError(t, store.Save(rec))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, rec, loaded)
}

func TestStoreWritesBothEnterpriseCasings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	store := NewStore(path)

	require.NoError(t, store.Save(&Record{Refresh: "r", EnterpriseURL: "ghe.example.com"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "oauth", raw["type"])
	assert.Equal(t, "ghe.example.com", raw["enterpriseUrl"])
	assert.Equal(t, "ghe.example.com", raw["enterprise_url"])
}

func TestStoreReadsEitherEnterpriseCasing(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"camel", `{"type":"oauth","refresh":"r","enterpriseUrl":"ghe.example.com"}`},
		{"snake", `{"type":"oauth","refresh":"r","enterprise_url":"ghe.example.com"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "token.json")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o600))

			loaded, err := NewStore(path).Load()
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, "ghe.example.com", loaded.EnterpriseURL)
		})
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.json"))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStoreLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte("not json{{"), 0o600))

	loaded, err := NewStore(path).Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStoreLoadWithoutRefreshToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"oauth","access":"a"}`), 0o600))

	loaded, err := NewStore(path).Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStoreSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "token.json"))
	require.NoError(t, store.Save(&Record{Refresh: "r"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "token.json", entries[0].Name())
}

func TestStoreSaveCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "token.json")
	store := NewStore(path)
	require.NoError(t, store.Save(&Record{Refresh: "r"}))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "r", loaded.Refresh)
}
