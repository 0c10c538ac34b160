// Package fonts resolves font family names to loaded font resources.
// Resolution happens once per family per process; failures are logged
// and answered with the fallback family so rendering can continue with
// fallback glyphs instead of erroring out.
package fonts

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/tdewolff/canvas"
)

const fallbackName = "sans-serif"

// Resolver loads font families from a directory of .ttf/.otf files,
// falling back to system fonts and finally to a generic sans-serif.
type Resolver struct {
	dir string

	mu       sync.Mutex
	families map[string]*canvas.FontFamily
	failed   map[string]bool
	fallback *canvas.FontFamily
	fbOnce   bool
}

// NewResolver creates a resolver rooted at dir. An empty dir disables
// file lookup and leaves only system fonts.
func NewResolver(dir string) *Resolver {
	return &Resolver{
		dir:      dir,
		families: make(map[string]*canvas.FontFamily),
		failed:   make(map[string]bool),
	}
}

// Resolve returns the loaded family for name, loading it on first use.
// A family that cannot be located resolves to the fallback family and
// the failure is remembered, so it is only logged once. Resolve never
// returns an error; a nil result means not even the fallback could be
// loaded and the caller should treat the text as unmeasurable.
func (r *Resolver) Resolve(name string) *canvas.FontFamily {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		return r.fallbackLocked()
	}
	if fam, ok := r.families[name]; ok {
		return fam
	}
	if r.failed[name] {
		return r.fallbackLocked()
	}
	fam := canvas.NewFontFamily(name)
	if err := r.load(fam, name); err != nil {
		log.Printf("Font %q unavailable, rendering with fallback: %v", name, err)
		r.failed[name] = true
		return r.fallbackLocked()
	}
	r.families[name] = fam
	return fam
}

// Preload resolves every family in names so that later rendering never
// waits on font loading. Already-resolved families are not re-resolved.
func (r *Resolver) Preload(names []string) {
	for _, name := range names {
		r.Resolve(name)
	}
}

// Resolved reports whether name has already been resolved, either to a
// loaded family or to a remembered failure.
func (r *Resolver) Resolved(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.families[name]
	return ok || r.failed[name]
}

func (r *Resolver) load(fam *canvas.FontFamily, name string) error {
	var lastErr error
	for _, ext := range []string{".ttf", ".otf"} {
		if r.dir == "" {
			break
		}
		path := filepath.Join(r.dir, name+ext)
		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		return fam.LoadFont(data, 0, canvas.FontRegular)
	}
	if err := fam.LoadSystemFont(name, canvas.FontRegular); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

func (r *Resolver) fallbackLocked() *canvas.FontFamily {
	if r.fbOnce {
		return r.fallback
	}
	r.fbOnce = true
	fam := canvas.NewFontFamily(fallbackName)
	if err := fam.LoadSystemFont(fallbackName, canvas.FontRegular); err != nil {
		log.Printf("Fallback font unavailable: %v", err)
		return nil
	}
	r.fallback = fam
	return r.fallback
}
