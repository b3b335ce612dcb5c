// Package assets maps base assets to icon files with a generic fallback.
package assets

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
)

// GenericIcon is served for assets without an icon of their own.
const GenericIcon = "generic"

// ErrAssetNotFound means neither the asset icon nor the generic icon exists.
var ErrAssetNotFound = errors.New("asset icon not found")

//go:embed icons/*.svg
var embedded embed.FS

// DefaultFS is the small icon set compiled into the binary.
func DefaultFS() fs.FS {
	sub, _ := fs.Sub(embedded, "icons")
	return sub
}

// DirFS serves icons from dir, or the compiled-in set when dir is empty.
func DirFS(dir string) fs.FS {
	if dir == "" {
		return DefaultFS()
	}
	return os.DirFS(dir)
}

// Resolver finds <asset>.svg in an icon file system. Lookups are memoised.
type Resolver struct {
	fsys    fs.FS
	baseURL string

	mu   sync.RWMutex
	memo map[string]string
}

// NewResolver serves icons from fsys; URLs are built under baseURL.
func NewResolver(fsys fs.FS, baseURL string) *Resolver {
	return &Resolver{
		fsys:    fsys,
		baseURL: strings.TrimRight(baseURL, "/"),
		memo:    make(map[string]string),
	}
}

// Resolve returns the icon name (without extension) used for asset.
func (r *Resolver) Resolve(asset string) (string, error) {
	key := normalize(asset)

	r.mu.RLock()
	name, ok := r.memo[key]
	r.mu.RUnlock()
	if ok {
		return name, nil
	}

	name = GenericIcon
	if key != "" && r.exists(key) {
		name = key
	} else if !r.exists(GenericIcon) {
		return "", fmt.Errorf("%w: %q", ErrAssetNotFound, asset)
	}

	r.mu.Lock()
	r.memo[key] = name
	r.mu.Unlock()
	return name, nil
}

// URL is the icon URL for asset. It never fails; unknown assets point at
// the generic icon.
func (r *Resolver) URL(asset string) string {
	name, err := r.Resolve(asset)
	if err != nil {
		name = GenericIcon
	}
	return r.baseURL + "/" + name + ".svg"
}

// Open reads the resolved icon for asset.
func (r *Resolver) Open(asset string) ([]byte, error) {
	name, err := r.Resolve(asset)
	if err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(r.fsys, name+".svg")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssetNotFound, err)
	}
	return data, nil
}

func (r *Resolver) exists(name string) bool {
	info, err := fs.Stat(r.fsys, name+".svg")
	return err == nil && !info.IsDir()
}

// normalize lowercases asset and strips anything that is not a plain file
// name, so requests cannot walk the file system.
func normalize(asset string) string {
	asset = strings.ToLower(strings.TrimSpace(asset))
	asset = strings.TrimSuffix(asset, ".svg")
	if asset == "" || asset != path.Base(asset) || strings.ContainsAny(asset, `/\`) || strings.HasPrefix(asset, ".") {
		return ""
	}
	return asset
}
