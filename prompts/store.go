// Package prompts loads named markdown guidance sections injected into
// planner prompts. Sections are files: prompts/<name>.md.
package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/concordlabs/concord/core"
)

// Store holds named prompt sections, loaded once at startup. When
// watching is enabled, edits to a section file are picked up without a
// restart.
type Store struct {
	mu       sync.RWMutex
	dir      string
	sections map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
	logger  core.Logger
}

// NewStore loads every *.md file under dir. A missing directory yields
// an empty store: all sections resolve to "".
func NewStore(dir string) (*Store, error) {
	s := &Store{
		dir:      dir,
		sections: make(map[string]string),
		logger:   &core.NoOpLogger{},
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading prompt dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		if err := s.loadFile(filepath.Join(dir, entry.Name())); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetLogger configures the logger for this store
func (s *Store) SetLogger(logger core.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Get returns the named section, or "" when absent
func (s *Store) Get(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sections[name]
}

// Names returns the loaded section names
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sections))
	for name := range s.sections {
		names = append(names, name)
	}
	return names
}

// Watch re-reads section files when they change on disk
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating prompt watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching prompt dir %s: %w", s.dir, err)
	}
	s.watcher = watcher
	s.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".md") {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.loadFile(event.Name); err != nil {
					s.logger.Warn("Prompt reload failed", map[string]interface{}{
						"operation": "prompt_reload",
						"file":      event.Name,
						"error":     err.Error(),
					})
					continue
				}
				s.logger.Info("Prompt section reloaded", map[string]interface{}{
					"operation": "prompt_reload",
					"file":      event.Name,
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Prompt watcher error", map[string]interface{}{
					"operation": "prompt_watch",
					"error":     err.Error(),
				})
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	return s.watcher.Close()
}

func (s *Store) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading prompt %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), ".md")
	s.mu.Lock()
	s.sections[name] = string(data)
	s.mu.Unlock()
	return nil
}
