package keymap

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

//go:embed profiles/*.json
var builtinProfiles embed.FS

const (
	ProfileAppleSilicon = "apple-silicon"
	ProfileIntel        = "intel"
)

type Loader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

// NewLoader returns a loader that looks for <name>.json in searchPaths
// before falling back to the profiles compiled into the binary.
func NewLoader(searchPaths []string) (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

func (l *Loader) Load(name string) (*Map, error) {
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*Map), nil
	}

	data, source, err := l.read(name)
	if err != nil {
		return nil, err
	}

	if err := l.validator.Validate(data); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", source, err)
	}

	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	m, err := Resolve(&def)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	l.cache.Store(name, m)

	return m, nil
}

// Default loads the built-in profile for the detected platform variant
// unless name overrides it.
func (l *Loader) Default(name string, alternate bool) (*Map, error) {
	if name != "" {
		return l.Load(name)
	}
	if alternate {
		return l.Load(ProfileAppleSilicon)
	}
	return l.Load(ProfileIntel)
}

func (l *Loader) read(name string) ([]byte, string, error) {
	for _, searchPath := range l.searchPaths {
		fullPath := filepath.Join(searchPath, name+".json")
		data, err := os.ReadFile(fullPath)
		if err == nil {
			return data, fullPath, nil
		}
	}

	path := "profiles/" + name + ".json"
	data, err := builtinProfiles.ReadFile(path)
	if err == nil {
		return data, "builtin:" + name, nil
	}

	return nil, "", fmt.Errorf("profile not found: %s (searched in: %v)", name, l.searchPaths)
}

func (l *Loader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
