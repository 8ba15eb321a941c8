package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ProfilesFile is the on-disk form of the profile set.
type ProfilesFile struct {
	Active   string    `yaml:"active"`
	Profiles []Profile `yaml:"profiles"`
}

// Store holds the named profiles and the active one. The active profile is
// swapped atomically so the control loop never sees a partial update.
type Store struct {
	logger *zap.Logger
	path   string

	mu       sync.RWMutex
	profiles map[string]Profile
	order    []string

	active atomic.Pointer[Profile]
}

// NewStore loads profiles from path. A missing file yields the built-in
// profiles; an empty path disables persistence altogether.
func NewStore(logger *zap.Logger, path, fallbackActive string) (*Store, error) {
	s := &Store{logger: logger, path: path}

	file := ProfilesFile{Active: fallbackActive, Profiles: DefaultProfiles()}
	if path != "" {
		loaded, err := readProfilesFile(path)
		switch {
		case err == nil:
			file = *loaded
		case errors.Is(err, os.ErrNotExist):
			logger.Info("No profiles file, using built-in profiles", zap.String("path", path))
		default:
			return nil, err
		}
	}

	if file.Active == "" {
		file.Active = fallbackActive
	}
	if err := s.apply(&file); err != nil {
		return nil, err
	}
	return s, nil
}

func readProfilesFile(path string) (*ProfilesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ProfilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &file, nil
}

func (s *Store) apply(file *ProfilesFile) error {
	if len(file.Profiles) == 0 {
		return fmt.Errorf("no profiles defined")
	}

	profiles := make(map[string]Profile, len(file.Profiles))
	order := make([]string, 0, len(file.Profiles))
	for _, p := range file.Profiles {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := profiles[p.Name]; dup {
			return fmt.Errorf("duplicate profile %q", p.Name)
		}
		profiles[p.Name] = p
		order = append(order, p.Name)
	}

	active := file.Active
	if _, ok := profiles[active]; !ok {
		if active != "" {
			s.logger.Warn("Active profile not defined, using first profile",
				zap.String("active", active))
		}
		active = order[0]
	}

	s.mu.Lock()
	s.profiles = profiles
	s.order = order
	s.mu.Unlock()

	p := profiles[active]
	s.active.Store(&p)
	return nil
}

// Active returns the profile the control loop should evaluate.
func (s *Store) Active() Profile {
	return *s.active.Load()
}

func (s *Store) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Profile, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.profiles[name])
	}
	return out
}

func (s *Store) Get(name string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[name]
	return p, ok
}

// SetActive switches the active profile by name.
func (s *Store) SetActive(name string) (Profile, error) {
	p, ok := s.Get(name)
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}
	s.active.Store(&p)
	s.logger.Info("Active profile changed", zap.String("profile", name), zap.String("mode", string(p.Mode)))
	return p, nil
}

// Put adds or replaces a profile. Replacing the active profile takes effect
// immediately.
func (s *Store) Put(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.profiles[p.Name]; !ok {
		s.order = append(s.order, p.Name)
	}
	s.profiles[p.Name] = p
	s.mu.Unlock()

	if s.Active().Name == p.Name {
		s.active.Store(&p)
	}
	return nil
}

// Save writes the current profile set back to the profiles file.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}

	file := ProfilesFile{Active: s.Active().Name, Profiles: s.List()}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Reload re-reads the profiles file. On error the current set stays.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}

	file, err := readProfilesFile(s.path)
	if err != nil {
		return err
	}
	if file.Active == "" {
		file.Active = s.Active().Name
	}
	return s.apply(file)
}

// Watch reloads the profiles file whenever it changes. It blocks until ctx
// is cancelled. The directory is watched so editors that replace the file
// are picked up.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	name := filepath.Clean(s.path)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					s.logger.Warn("Profiles reload failed", zap.String("path", s.path), zap.Error(err))
				}
				continue
			}
			s.logger.Info("Profiles reloaded",
				zap.String("path", s.path),
				zap.String("active", s.Active().Name))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Profiles watcher error", zap.Error(err))

		case <-ctx.Done():
			return nil
		}
	}
}
