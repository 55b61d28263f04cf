package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Store persists one document per session. Concurrent writers to the
// same session are impossible by construction (one task per session),
// so implementations only need atomicity against readers and crashes.
type Store interface {
	Save(user, sessionID string, doc *Document) error
	Load(user, sessionID string) (*Document, error)
}

// FileStore keeps sessions as JSON documents under
// <dir>/<user>/<session_id>.json. Writes go to a temp sibling first and
// are renamed into place.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed session store rooted at dir
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(user, sessionID string) string {
	return filepath.Join(s.dir, user, sessionID+".json")
}

// Save writes the session document atomically
func (s *FileStore) Save(user, sessionID string, doc *Document) error {
	path := s.path(user, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sessionID, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), sessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing session %s: %w", sessionID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming session file: %w", err)
	}
	return nil
}

// Load reads a session document; (nil, nil) when none was persisted
func (s *FileStore) Load(user, sessionID string) (*Document, error) {
	data, err := os.ReadFile(s.path(user, sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session %s: %w", sessionID, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", sessionID, err)
	}
	return &doc, nil
}
