package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

// ManifestPattern matches manifest files relative to the apps directory
const ManifestPattern = "**/*.app.yaml"

// Scan walks dir for manifests and registers them. A missing directory is
// not an error. Invalid manifests are logged and skipped.
func (c *Catalog) Scan(ctx context.Context, dir string) (int, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		c.logger.Info("Apps directory not found, only builtins available", zap.String("dir", dir))
		return 0, nil
	}

	var (
		mu    sync.Mutex
		found []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil || d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return nil
		}
		if ok, _ := doublestar.Match(ManifestPattern, filepath.ToSlash(rel)); ok {
			mu.Lock()
			found = append(found, p)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", dir, err)
	}

	sort.Strings(found)
	loaded := 0
	for _, p := range found {
		m, err := LoadManifest(p)
		if err == nil {
			err = c.Register(m)
		}
		if err != nil {
			c.logger.Warn("Skipping app manifest", zap.String("file", p), zap.Error(err))
			continue
		}
		loaded++
	}

	c.logger.Info("App manifests loaded", zap.String("dir", dir), zap.Int("count", loaded))
	return loaded, nil
}

// LoadManifest parses one manifest file
func LoadManifest(file string) (Manifest, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Manifest{}, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", file, err)
	}
	m.Dir = filepath.Dir(file)
	return m, nil
}

// ScriptPath returns the absolute path of a script manifest's source
func (m Manifest) ScriptPath() string {
	if m.Script == "" || filepath.IsAbs(m.Script) {
		return m.Script
	}
	return filepath.Join(m.Dir, m.Script)
}
