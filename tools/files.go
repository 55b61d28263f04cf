package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// FileTools implements the sandbox-confined file handlers
type FileTools struct {
	sandbox *Sandbox
}

// NewFileTools creates file tool handlers bound to a sandbox
func NewFileTools(sandbox *Sandbox) *FileTools {
	return &FileTools{sandbox: sandbox}
}

// ReadFile returns the contents of a file inside the sandbox
func (t *FileTools) ReadFile(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	path, _ := params["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("read_file requires a path parameter")
	}
	abs, err := t.sandbox.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return map[string]interface{}{
		"path":    abs,
		"content": string(data),
		"size":    len(data),
	}, nil
}

// WriteFile writes content to a file inside the sandbox
func (t *FileTools) WriteFile(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	path, _ := params["path"].(string)
	content, _ := params["content"].(string)
	if path == "" {
		return nil, fmt.Errorf("write_file requires a path parameter")
	}
	abs, err := t.sandbox.Resolve(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}
	return map[string]interface{}{
		"path":    abs,
		"written": len(content),
	}, nil
}

// FindDuplicates groups identical files under a folder by content hash.
// A null or missing folder_path scans the sandbox default root.
func (t *FileTools) FindDuplicates(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	folder, _ := params["folder_path"].(string)
	if folder == "" {
		folder = t.sandbox.DefaultRoot()
	}
	abs, err := t.sandbox.Resolve(folder)
	if err != nil {
		return nil, err
	}

	// Hash every regular file, honoring cancellation between files
	byHash := make(map[string][]fileInfo)
	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		sum, err := hashFile(path)
		if err != nil {
			return nil
		}
		key := fmt.Sprintf("%d:%s", info.Size(), sum)
		byHash[key] = append(byHash[key], fileInfo{name: d.Name(), path: path, size: info.Size()})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("scanning %s: %w", folder, walkErr)
	}

	keys := make([]string, 0, len(byHash))
	for key, group := range byHash {
		if len(group) > 1 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var groups []interface{}
	totalFiles := 0
	var wastedBytes int64
	for _, key := range keys {
		group := byHash[key]
		files := make([]interface{}, 0, len(group))
		for _, f := range group {
			files = append(files, map[string]interface{}{
				"name": f.name,
				"path": f.path,
			})
		}
		groups = append(groups, map[string]interface{}{
			"files": files,
			"size":  float64(group[0].size),
			"count": float64(len(group)),
		})
		totalFiles += len(group)
		wastedBytes += group[0].size * int64(len(group)-1)
	}

	wastedMB := math.Round(float64(wastedBytes)/(1024*1024)*100) / 100
	return map[string]interface{}{
		"total_duplicate_groups": float64(len(groups)),
		"total_duplicate_files":  float64(totalFiles),
		"wasted_space_mb":        wastedMB,
		"duplicates":             groups,
	}, nil
}

type fileInfo struct {
	name string
	path string
	size int64
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
