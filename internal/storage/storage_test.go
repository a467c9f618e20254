package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mezamarco14/resu-sistem/internal/model"
)

func TestSortByNumber(t *testing.T) {
	names := []string{"cert_10.pdf", "readme.txt", "cert_2.pdf", "cert_1.pdf", "another.txt"}
	SortByNumber(names)
	assert.Equal(t, []string{"cert_1.pdf", "cert_2.pdf", "cert_10.pdf", "another.txt", "readme.txt"}, names)
}

func TestLocalStoreFolders(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	n, err := s.SaveFolder(Folder1, []NamedReader{
		{Name: "doc 3.pdf", Reader: strings.NewReader("three")},
		{Name: "../doc 1.pdf", Reader: strings.NewReader("one")},
		{Name: "doc 2.pdf", Reader: strings.NewReader("two")},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	files, err := s.Folder(Folder1)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "doc 1.pdf", files[0].Filename)
	assert.Equal(t, "doc 3.pdf", files[2].Filename)

	loaded, err := Load(files[0])
	require.NoError(t, err)
	assert.Equal(t, "one", string(loaded.Content))
	assert.Equal(t, "application/pdf", loaded.ContentType)

	_, err = s.SaveFolder(Folder1, []NamedReader{{Name: "only.pdf", Reader: strings.NewReader("x")}})
	require.NoError(t, err)
	files, err = s.Folder(Folder1)
	require.NoError(t, err)
	assert.Len(t, files, 1, "upload replaces the folder")

	missing, err := s.Folder(Folder2)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestLocalStoreAssets(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)

	none, err := s.Asset(AssetLogo)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = s.SaveAsset(AssetLogo, "upt.PNG", strings.NewReader("png-1"))
	require.NoError(t, err)
	path, err := s.SaveAsset(AssetLogo, "new.jpg", strings.NewReader("jpg-2"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "assets", "logo.jpg"), path)

	logo, err := s.Asset(AssetLogo)
	require.NoError(t, err)
	require.NotNil(t, logo)
	assert.Equal(t, "logo", logo.ContentID)
	assert.Equal(t, "logo.jpg", logo.Filename)

	require.NoError(t, s.Clear())
	logo, err = s.Asset(AssetLogo)
	require.NoError(t, err)
	assert.Nil(t, logo)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(model.Attachment{Filename: "x.pdf", Path: filepath.Join(os.TempDir(), "definitely-missing-file.pdf")})
	assert.Error(t, err)
}

func TestParseKinds(t *testing.T) {
	k, err := ParseAssetKind("Flyer")
	require.NoError(t, err)
	assert.Equal(t, AssetFlyer, k)

	_, err = ParseAssetKind("banner")
	assert.Error(t, err)

	f, err := ParseFolderKind("folder2")
	require.NoError(t, err)
	assert.Equal(t, Folder2, f)
}
