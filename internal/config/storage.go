package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cleanloop/internal/api"
	"cleanloop/pkg/logging"
)

const documentExt = ".yaml"

// Storage persists named YAML documents grouped by entity type, one file per
// document under {dir}/{entityType}/{name}.yaml. Writes go through a
// temporary file and a rename so readers never see a partial document.
type Storage struct {
	mu  sync.RWMutex
	dir string // empty means the user config directory
}

// NewStorage creates a Storage rooted at the user config directory.
func NewStorage() *Storage {
	return &Storage{}
}

// NewStorageWithPath creates a Storage rooted at dir.
func NewStorageWithPath(dir string) *Storage {
	return &Storage{dir: dir}
}

func (ds *Storage) root() (string, error) {
	if ds.dir != "" {
		return ds.dir, nil
	}
	return GetUserConfigDir()
}

// path resolves the file for name, or only the entity directory when name
// is empty.
func (ds *Storage) path(entityType, name string) (string, error) {
	if entityType == "" {
		return "", fmt.Errorf("entityType cannot be empty")
	}
	root, err := ds.root()
	if err != nil {
		return "", fmt.Errorf("failed to get storage directory: %w", err)
	}
	dir := filepath.Join(root, entityType)
	if name == "" {
		return dir, nil
	}
	return filepath.Join(dir, ds.sanitizeFilename(name)+documentExt), nil
}

// Save writes data as the document name of entityType.
func (ds *Storage) Save(entityType string, name string, data []byte) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	filePath, err := ds.path(entityType, name)
	if err != nil {
		return err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filePath)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to set mode on %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write file %s: %w", filePath, err)
	}

	logging.Debug("Storage", "Saved %s/%s to %s", entityType, name, filePath)
	return nil
}

// Load reads the document name of entityType. A missing document is an
// api.NotFoundError.
func (ds *Storage) Load(entityType string, name string) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}
	filePath, err := ds.path(entityType, name)
	if err != nil {
		return nil, err
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()

	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, api.NewNotFoundError(entityType, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}
	return data, nil
}

// Delete removes the document name of entityType.
func (ds *Storage) Delete(entityType string, name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	filePath, err := ds.path(entityType, name)
	if err != nil {
		return err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	err = os.Remove(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return api.NewNotFoundError(entityType, name)
	}
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}

	logging.Info("Storage", "Deleted %s/%s", entityType, name)
	return nil
}

// List returns the sorted document names of entityType. A missing entity
// directory yields an empty list.
func (ds *Storage) List(entityType string) ([]string, error) {
	dir, err := ds.path(entityType, "")
	if err != nil {
		return nil, err
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", entityType, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || filepath.Ext(n) != documentExt {
			continue
		}
		names = append(names, strings.TrimSuffix(n, documentExt))
	}
	sort.Strings(names)
	return names, nil
}

var unsafeFilenameChars = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", ".", "_",
)

// sanitizeFilename maps name onto a single safe path component.
func (ds *Storage) sanitizeFilename(name string) string {
	s := strings.Trim(unsafeFilenameChars.Replace(name), " _")
	s = strings.ReplaceAll(s, " ", "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")
	if s == "" {
		return "unnamed"
	}
	return s
}
