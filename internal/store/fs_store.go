package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// FSStore implements the Store interface using filesystem-based persistence.
// Results are stored in a directory structure: <baseDir>/sessions/<sessionID>/
//
// Thread-safety: This implementation uses atomic file operations (rename)
// and does not require locks.
type FSStore struct {
	baseDir string // Root directory for all session data (e.g., "./data")
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSStore{
		baseDir: baseDir,
	}, nil
}

// BaseDir returns the root directory of the store.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

func (fs *FSStore) sessionDir(sessionID string) string {
	return SessionDir(fs.baseDir, sessionID)
}

func (fs *FSStore) resultPath(sessionID string) string {
	return filepath.Join(fs.sessionDir(sessionID), "result.json")
}

// SessionDir returns the directory holding a session's files.
func SessionDir(baseDir, sessionID string) string {
	return filepath.Join(baseDir, "sessions", sessionID)
}

// SaveResult atomically saves a result using the temp file + rename pattern.
func (fs *FSStore) SaveResult(result *Result) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}
	if err := result.Validate(); err != nil {
		return err
	}

	dir := fs.sessionDir(result.SessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}

	tempPath := fs.resultPath(result.SessionID) + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp result file: %w", err)
	}

	finalPath := fs.resultPath(result.SessionID)
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename result file: %w", err)
	}

	slog.Debug("Result saved", "session_id", result.SessionID, "path", finalPath)
	return nil
}

// LoadResult retrieves the result of the given session.
func (fs *FSStore) LoadResult(sessionID string) (*Result, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sessionID cannot be empty")
	}

	path := fs.resultPath(sessionID)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{SessionID: sessionID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result file: %w", err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to deserialize result: %w", err)
	}

	slog.Debug("Result loaded", "session_id", sessionID, "path", path)
	return &result, nil
}

// ListResults returns metadata for all stored results, most recent first.
func (fs *FSStore) ListResults() ([]ResultInfo, error) {
	sessionsDir := filepath.Join(fs.baseDir, "sessions")

	entries, err := os.ReadDir(sessionsDir)
	if errors.Is(err, os.ErrNotExist) {
		return []ResultInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	infos := []ResultInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		result, err := fs.LoadResult(entry.Name())
		if errors.Is(err, ErrNotFound) {
			continue // trace without a result yet
		}
		if err != nil {
			slog.Warn("Failed to load result for listing", "session_id", entry.Name(), "error", err)
			continue
		}
		infos = append(infos, result.ToInfo())
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].EndTime.After(infos[j].EndTime)
	})

	slog.Debug("Listed results", "count", len(infos))
	return infos, nil
}

// DeleteResult removes the session directory and everything in it.
func (fs *FSStore) DeleteResult(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}

	dir := fs.sessionDir(sessionID)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return &NotFoundError{SessionID: sessionID}
	} else if err != nil {
		return fmt.Errorf("failed to stat session directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove session directory: %w", err)
	}

	slog.Debug("Result deleted", "session_id", sessionID, "path", dir)
	return nil
}
