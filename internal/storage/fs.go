package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/entbrowser/internal/checksum"
	"github.com/starford/entbrowser/internal/models"
)

const tmpPrefix = ".entbrowser-tmp-"

// FS implements Provider on a local directory. Reads and writes go through
// an os.Root, so symlinks cannot lead them outside the directory either.
type FS struct {
	dir  string
	root *os.Root
}

// NewFS opens dir as a data directory, creating it when missing.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: open root: %w", err)
	}
	return &FS{dir: abs, root: root}, nil
}

// Root returns the absolute data directory.
func (f *FS) Root() string {
	return f.dir
}

// Close releases the directory handle.
func (f *FS) Close() error {
	return f.root.Close()
}

// local cleans a caller supplied path and rejects absolute paths and paths
// that climb out of the root.
func local(rel string) (string, error) {
	p := filepath.Clean(filepath.FromSlash(rel))
	if !filepath.IsLocal(p) {
		return "", fmt.Errorf("storage: path outside data root: %q", rel)
	}
	return p, nil
}

// Abs returns the absolute form of rel for consumers that need a plain file
// name, such as the SQLite driver. The check is lexical.
func (f *FS) Abs(rel string) (string, error) {
	if rel == "" {
		return f.dir, nil
	}
	p, err := local(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.dir, p), nil
}

// List returns metadata for the files under dir whose names end with ext.
// Temporary files are skipped and a missing dir lists as empty.
func (f *FS) List(dir, ext string) ([]models.FileMetadata, error) {
	p, err := local(dir)
	if err != nil {
		return nil, err
	}
	out := []models.FileMetadata{}
	if _, err := f.root.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}

	fsys := f.root.FS()
	err = fs.WalkDir(fsys, filepath.ToSlash(p), func(name string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		base := path.Base(name)
		if d.IsDir() || !strings.HasSuffix(base, ext) || strings.HasPrefix(base, tmpPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sum, err := digest(fsys, name)
		if err != nil {
			return err
		}
		out = append(out, models.FileMetadata{
			Path:      name,
			Size:      info.Size(),
			Checksum:  sum,
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", dir, err)
	}
	return out, nil
}

func digest(fsys fs.FS, name string) (string, error) {
	r, err := fsys.Open(name)
	if err != nil {
		return "", err
	}
	defer r.Close()
	sum, _, err := checksum.SumReader(r)
	return sum, err
}

// Read returns the content of the file at rel.
func (f *FS) Read(rel string) ([]byte, error) {
	p, err := local(rel)
	if err != nil {
		return nil, err
	}
	data, err := f.root.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", rel, err)
	}
	return data, nil
}

// Open returns the file at rel for reading.
func (f *FS) Open(rel string) (io.ReadSeekCloser, error) {
	p, err := local(rel)
	if err != nil {
		return nil, err
	}
	file, err := f.root.Open(p)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", rel, err)
	}
	return file, nil
}

// Write replaces the file at rel. Content goes to a temporary sibling that
// is synced and renamed over the target, so readers never see a partial file.
func (f *FS) Write(rel string, content []byte) (err error) {
	p, err := local(rel)
	if err != nil {
		return err
	}
	if err := f.root.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(p), tmpPrefix+uuid.NewString())
	file, err := f.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = file.Close()
			_ = f.root.Remove(tmp)
		}
	}()

	if _, err = file.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err = file.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err = file.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err = f.root.Rename(tmp, p); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// Delete removes the file at rel.
func (f *FS) Delete(rel string) error {
	p, err := local(rel)
	if err != nil {
		return err
	}
	if err := f.root.Remove(p); err != nil {
		return fmt.Errorf("storage: delete %s: %w", rel, err)
	}
	return nil
}
