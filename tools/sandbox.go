// Package tools provides the built-in tool handlers the orchestrator
// ships with, plus the sandbox discipline file tools must follow.
package tools

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/concordlabs/concord/core"
)

// Sandbox confines file operations to a configured set of roots
type Sandbox struct {
	roots []string
}

// NewSandbox creates a sandbox from cleaned, absolute roots
func NewSandbox(roots []string) (*Sandbox, error) {
	s := &Sandbox{}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving sandbox root %s: %w", root, err)
		}
		s.roots = append(s.roots, filepath.Clean(abs))
	}
	return s, nil
}

// Resolve returns the absolute path if it falls within a sandbox root,
// or ErrOutOfSandbox. Relative paths resolve against the first root.
func (s *Sandbox) Resolve(path string) (string, error) {
	if len(s.roots) == 0 {
		return "", fmt.Errorf("%w: no sandbox roots configured", core.ErrOutOfSandbox)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.roots[0], path)
	}
	abs := filepath.Clean(path)
	for _, root := range s.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("%w: %s", core.ErrOutOfSandbox, path)
}

// DefaultRoot returns the first configured root, or ""
func (s *Sandbox) DefaultRoot() string {
	if len(s.roots) == 0 {
		return ""
	}
	return s.roots[0]
}
