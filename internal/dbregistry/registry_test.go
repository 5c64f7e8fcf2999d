package dbregistry

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/entbrowser/internal/apperr"
	"github.com/starford/entbrowser/internal/models"
	"github.com/starford/entbrowser/internal/storage"
)

func newRegistry(t *testing.T) (*Registry, *storage.FS) {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	r, err := Open(fs, "databases.json")
	require.NoError(t, err)
	return r, fs
}

func TestAddPersistsAndReloads(t *testing.T) {
	r, fs := newRegistry(t)
	loc := filepath.Join(t.TempDir(), "db1")

	d, err := r.Add(models.DatabaseSummary{Location: loc, IsReadonly: true})
	require.NoError(t, err)
	assert.NotEmpty(t, d.UUID)
	assert.False(t, d.IsOpened)

	reopened, err := Open(fs, "databases.json")
	require.NoError(t, err)
	got, err := reopened.Find(d.UUID)
	require.NoError(t, err)
	assert.Equal(t, loc, got.Location)
	assert.True(t, got.IsReadonly)
}

func TestAddSameLocationTwice(t *testing.T) {
	r, _ := newRegistry(t)
	loc := filepath.Join(t.TempDir(), "db")

	first, err := r.Add(models.DatabaseSummary{Location: loc})
	require.NoError(t, err)

	existing, err := r.Add(models.DatabaseSummary{Location: loc + string(filepath.Separator)})
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)
	assert.Equal(t, first.UUID, existing.UUID)
	assert.Len(t, r.All(), 1)
}

func TestAddValidation(t *testing.T) {
	r, _ := newRegistry(t)

	cases := []models.DatabaseSummary{
		{Location: ""},
		{Location: "/tmp/x", Key: "not-hex"},
		{Location: "/tmp/x", Key: "abcd"},
	}
	for _, c := range cases {
		_, err := r.Add(c)
		assert.ErrorIs(t, err, apperr.ErrInvalidField, "case %+v", c)
	}
	assert.Empty(t, r.All())
}

func TestAddEncryptedKey(t *testing.T) {
	r, _ := newRegistry(t)
	key := strings.Repeat("ab", 16)
	d, err := r.Add(models.DatabaseSummary{Location: filepath.Join(t.TempDir(), "enc"), Key: key})
	require.NoError(t, err)
	assert.True(t, d.IsEncrypted)
	assert.Empty(t, d.Public().Key)
	assert.True(t, d.Public().IsEncrypted)
}

func TestUpdateFlags(t *testing.T) {
	r, _ := newRegistry(t)
	d, err := r.Add(models.DatabaseSummary{Location: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)

	updated, err := r.Update(d.UUID, func(s *models.DatabaseSummary) {
		s.IsOpened = true
		s.Location = "/somewhere/else"
	})
	require.NoError(t, err)
	assert.True(t, updated.IsOpened)
	assert.Equal(t, d.Location, updated.Location, "location is immutable")

	_, err = r.Update("missing", func(*models.DatabaseSummary) {})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDelete(t *testing.T) {
	r, _ := newRegistry(t)
	d, err := r.Add(models.DatabaseSummary{Location: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)

	require.NoError(t, r.Delete(d.UUID))
	_, err = r.Find(d.UUID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.ErrorIs(t, r.Delete(d.UUID), apperr.ErrNotFound)
}

func TestReloadPicksUpExternalEdit(t *testing.T) {
	r, fs := newRegistry(t)
	require.NoError(t, fs.Write("databases.json", []byte(`[{"uuid":"u1","location":"/data/one","isOpened":true}]`)))

	require.NoError(t, r.Reload())
	all := r.All()
	require.Len(t, all, 1)
	assert.Equal(t, "u1", all[0].UUID)
	assert.True(t, all[0].IsOpened)
}

func TestReloadRejectsCorruptFile(t *testing.T) {
	r, fs := newRegistry(t)
	require.NoError(t, fs.Write("databases.json", []byte(`{not json`)))
	assert.Error(t, r.Reload())
}
