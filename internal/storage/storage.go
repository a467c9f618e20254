// Package storage keeps uploaded campaign assets on local disk.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
	"github.com/mezamarco14/resu-sistem/internal/mail"
	"github.com/mezamarco14/resu-sistem/internal/model"
)

type AssetKind string

const (
	AssetLogo  AssetKind = "logo"
	AssetFlyer AssetKind = "flyer"
)

type FolderKind string

const (
	Folder1 FolderKind = "folder1"
	Folder2 FolderKind = "folder2"
)

func ParseAssetKind(s string) (AssetKind, error) {
	switch AssetKind(strings.ToLower(s)) {
	case AssetLogo:
		return AssetLogo, nil
	case AssetFlyer:
		return AssetFlyer, nil
	}
	return "", appErrors.NewValidation("type", "must be logo or flyer")
}

func ParseFolderKind(s string) (FolderKind, error) {
	switch FolderKind(strings.ToLower(s)) {
	case Folder1:
		return Folder1, nil
	case Folder2:
		return Folder2, nil
	}
	return "", appErrors.NewValidation("folder_type", "must be folder1 or folder2")
}

// NamedReader is one uploaded file.
type NamedReader struct {
	Name   string
	Reader io.Reader
}

// LocalStore lays files out as <dir>/assets/<kind>.<ext> and
// <dir>/<folder>/<file>.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "assets"), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// SaveAsset replaces the shared logo or flyer.
func (s *LocalStore) SaveAsset(kind AssetKind, filename string, r io.Reader) (string, error) {
	assets := filepath.Join(s.dir, "assets")
	old, _ := filepath.Glob(filepath.Join(assets, string(kind)+".*"))
	for _, p := range old {
		os.Remove(p)
	}

	ext := strings.ToLower(filepath.Ext(cleanName(filename)))
	path := filepath.Join(assets, string(kind)+ext)
	if err := writeFile(path, r); err != nil {
		return "", err
	}
	return path, nil
}

// Asset returns the stored logo or flyer, or nil when none was uploaded.
func (s *LocalStore) Asset(kind AssetKind) (*model.Attachment, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "assets", string(kind)+".*"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &model.Attachment{
		Filename:  filepath.Base(matches[0]),
		ContentID: string(kind),
		Path:      matches[0],
	}, nil
}

// SaveFolder replaces the contents of a folder set.
func (s *LocalStore) SaveFolder(kind FolderKind, files []NamedReader) (int, error) {
	dir := filepath.Join(s.dir, string(kind))
	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("reset %s: %w", kind, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", kind, err)
	}

	saved := 0
	for _, f := range files {
		name := cleanName(f.Name)
		if name == "" {
			continue
		}
		if err := writeFile(filepath.Join(dir, name), f.Reader); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}

// Folder lists a folder set in numeric filename order. Contents are loaded
// lazily by Load.
func (s *LocalStore) Folder(kind FolderKind) ([]model.Attachment, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, string(kind)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	SortByNumber(names)

	out := make([]model.Attachment, len(names))
	for i, name := range names {
		out[i] = model.Attachment{Filename: name, Path: filepath.Join(s.dir, string(kind), name)}
	}
	return out, nil
}

// Clear removes every stored file.
func (s *LocalStore) Clear() error {
	for _, sub := range []string{"assets", string(Folder1), string(Folder2)} {
		if err := os.RemoveAll(filepath.Join(s.dir, sub)); err != nil {
			return err
		}
	}
	return os.MkdirAll(filepath.Join(s.dir, "assets"), 0o755)
}

var firstNumber = regexp.MustCompile(`\d+`)

// noNumber sorts files without digits after every numbered one.
const noNumber = 999999

// SortByNumber orders filenames by the first number they contain, then by name.
func SortByNumber(names []string) {
	key := func(name string) int {
		m := firstNumber.FindString(name)
		if m == "" {
			return noNumber
		}
		n, err := strconv.Atoi(m)
		if err != nil {
			return noNumber
		}
		return n
	}
	sort.SliceStable(names, func(i, j int) bool {
		ki, kj := key(names[i]), key(names[j])
		if ki != kj {
			return ki < kj
		}
		return names[i] < names[j]
	})
}

// Load reads an attachment's file into memory and fills in its content type.
func Load(a model.Attachment) (model.Attachment, error) {
	if a.Content == nil && a.Path != "" {
		data, err := os.ReadFile(a.Path)
		if err != nil {
			return a, fmt.Errorf("read attachment %s: %w", a.Filename, err)
		}
		a.Content = data
	}
	if a.Filename == "" && a.Path != "" {
		a.Filename = filepath.Base(a.Path)
	}
	if a.ContentType == "" {
		a.ContentType = mail.DetectContentType(a.Filename, a.Content)
	}
	return a, nil
}

func cleanName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
