package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/kerim-dauren/attribution-core/internal/domain"
)

const (
	recordSuffix = ".rec"
	tempPrefix   = "."
)

// FileStore keeps one file per record. Writes go to a temp file in the same
// directory and are renamed into place, so readers in this or another process
// see either the old blob or the new one.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &FileStore{
		dir:    dir,
		logger: logger.With("component", "file_store"),
	}
}

func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) Load(name string) ([]byte, error) {
	path, err := f.recordPath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, &domain.PersistenceError{Op: "load", Name: name, Err: err}
	}

	return data, nil
}

func (f *FileStore) Save(name string, data []byte) error {
	path, err := f.recordPath(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return &domain.PersistenceError{Op: "save", Name: name, Err: fmt.Errorf("creating directory: %w", err)}
	}

	if err := writeAtomic(f.dir, path, data); err != nil {
		return &domain.PersistenceError{Op: "save", Name: name, Err: err}
	}

	f.logger.Debug("record saved", "name", name, "bytes", len(data))
	return nil
}

func (f *FileStore) Remove(name string) error {
	path, err := f.recordPath(name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &domain.PersistenceError{Op: "remove", Name: name, Err: err}
	}

	return nil
}

func (f *FileStore) recordPath(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidName, name)
	}

	// Record files never start with a dot; that prefix belongs to temp files.
	file := url.PathEscape(name)
	if strings.HasPrefix(file, tempPrefix) {
		file = "%2E" + file[1:]
	}

	return filepath.Join(f.dir, file+recordSuffix), nil
}

func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, tempPrefix+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}
