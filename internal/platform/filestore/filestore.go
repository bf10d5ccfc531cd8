// Package filestore implements task file storage on the local filesystem.
// Layout: <base>/<task-id>/<file-id><ext> for originals, with converted page
// images under <base>/<task-id>/<file-id>.pages/ and markdown extractions as
// <file-id>.md siblings.
package filestore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/tenebris-tech/x2md/convert"

	"github.com/docket-dev/docket/internal/domain"
)

// lockFileName is created inside the base directory to hold the
// single-process lock.
const lockFileName = ".docket.lock"

// DiskStore implements store.FileStore on a local directory. The queue design
// assumes one process per deployment; EnsureBaseDir enforces that with a file
// lock on the base directory.
type DiskStore struct {
	baseDir string
	lock    *flock.Flock
	logger  *slog.Logger
}

// New creates a DiskStore rooted at baseDir.
func New(baseDir string, logger *slog.Logger) *DiskStore {
	return &DiskStore{
		baseDir: baseDir,
		logger:  logger.With("component", "filestore"),
	}
}

// EnsureBaseDir creates the storage root if needed and acquires the
// single-process lock. It fails when another process already holds the lock.
func (s *DiskStore) EnsureBaseDir() error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage base directory: %w", err)
	}

	if s.lock == nil {
		s.lock = flock.New(filepath.Join(s.baseDir, lockFileName))
	}
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire storage lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("storage directory %s is locked by another process", s.baseDir)
	}
	return nil
}

// Close releases the single-process lock.
func (s *DiskStore) Close() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

// SaveFile writes the original bytes of a task file atomically and returns
// the storage path relative to the base directory.
func (s *DiskStore) SaveFile(ctx context.Context, taskID uuid.UUID, file domain.TaskFile, data []byte) (string, error) {
	dir := s.taskDir(taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create task directory: %w", err)
	}

	name := file.ID.String() + strings.ToLower(filepath.Ext(file.DisplayName))
	path := filepath.Join(dir, name)
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to write file %q: %w", file.DisplayName, err)
	}

	return filepath.Join(taskID.String(), name), nil
}

// SaveConvertedImages writes the pre-converted page images of a file.
func (s *DiskStore) SaveConvertedImages(ctx context.Context, taskID uuid.UUID, fileID uuid.UUID, pages [][]byte) error {
	dir := filepath.Join(s.taskDir(taskID), fileID.String()+".pages")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create pages directory: %w", err)
	}

	for i, page := range pages {
		path := filepath.Join(dir, fmt.Sprintf("page-%04d.png", i+1))
		if err := writeAtomic(path, page); err != nil {
			return fmt.Errorf("failed to write page %d: %w", i+1, err)
		}
	}
	return nil
}

// LoadFile reads back the original bytes of a task file.
func (s *DiskStore) LoadFile(ctx context.Context, taskID uuid.UUID, file domain.TaskFile) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, file.StoragePath))
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", file.DisplayName, err)
	}
	return data, nil
}

// LoadConvertedImages reads back the converted page images of a file in page
// order.
func (s *DiskStore) LoadConvertedImages(ctx context.Context, taskID uuid.UUID, file domain.TaskFile) ([][]byte, error) {
	dir := filepath.Join(s.taskDir(taskID), file.ID.String()+".pages")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read pages directory for %q: %w", file.DisplayName, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	pages := make([][]byte, 0, len(names))
	for _, name := range names {
		page, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read page %q: %w", name, err)
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// ExtractText returns the markdown extraction of a stored text-mode file.
// Office formats are converted to markdown on first use; plain text and
// markdown files are returned as-is.
func (s *DiskStore) ExtractText(ctx context.Context, taskID uuid.UUID, file domain.TaskFile) (string, error) {
	path := filepath.Join(s.baseDir, file.StoragePath)

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".md" || ext == ".txt" || ext == "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read file %q: %w", file.DisplayName, err)
		}
		return string(data), nil
	}

	mdPath := strings.TrimSuffix(path, ext) + ".md"
	if _, err := os.Stat(mdPath); err != nil {
		converter := convert.New(
			convert.WithSkipExisting(true),
		)
		result, convErr := converter.Convert(path)
		if convErr != nil {
			return "", fmt.Errorf("failed to convert %q to markdown: %w", file.DisplayName, convErr)
		}
		if result.Failed > 0 {
			return "", fmt.Errorf("conversion of %q produced no markdown", file.DisplayName)
		}
		s.logger.Debug("converted document to markdown",
			"file", file.DisplayName,
			"converted", result.Converted,
			"skipped", result.Skipped)
	}

	data, err := os.ReadFile(mdPath)
	if err != nil {
		return "", fmt.Errorf("failed to read extraction of %q: %w", file.DisplayName, err)
	}
	return string(data), nil
}

// DeleteTaskFiles removes every stored file belonging to the task. A missing
// directory is a no-op.
func (s *DiskStore) DeleteTaskFiles(ctx context.Context, taskID uuid.UUID) error {
	if err := os.RemoveAll(s.taskDir(taskID)); err != nil {
		return fmt.Errorf("failed to delete task files: %w", err)
	}
	return nil
}

func (s *DiskStore) taskDir(taskID uuid.UUID) string {
	return filepath.Join(s.baseDir, taskID.String())
}

// writeAtomic writes via a temp file and rename so readers never observe a
// partial file.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
