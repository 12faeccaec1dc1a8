package shader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gogpu/naga"
)

// ErrCompile is returned when WGSL source fails validation.
var ErrCompile = errors.New("shader: compile failed")

// Validate compiles WGSL with naga and reports any error.
func Validate(wgsl string) error {
	if _, err := naga.Compile(wgsl); err != nil {
		return fmt.Errorf("%w: %w", ErrCompile, err)
	}
	return nil
}

// Set is one compute shader assembled from source files concatenated in
// order, so shared declarations can live in their own file.
//
// Sources come from an embedded file system. When a directory is given,
// files present there override the embedded copies and are watched for
// changes.
type Set struct {
	label   string
	prelude string
	files   []string
	fsys    fs.FS
	dir     string
	watcher *Watcher

	wgsl   string
	loaded time.Time
}

// Loader creates shader sets from one embedded file system and an optional
// override directory.
type Loader struct {
	FS      fs.FS
	Dir     string
	Watcher *Watcher

	// Prelude is prepended to every set, typically generated constants.
	Prelude string
}

// Load assembles a shader set from files.
func (l Loader) Load(label string, files ...string) (*Set, error) {
	s := &Set{
		label:   label,
		prelude: l.Prelude,
		files:   files,
		fsys:    l.FS,
		dir:     l.Dir,
		watcher: l.Watcher,
	}
	src, err := s.read()
	if err != nil {
		return nil, err
	}
	if s.dir != "" && s.watcher != nil {
		for _, f := range files {
			if err := s.watcher.Watch(filepath.Join(s.dir, f)); err != nil {
				return nil, err
			}
		}
	}
	s.wgsl = src
	s.loaded = time.Now()
	return s, nil
}

// Label returns the shader's debug label.
func (s *Set) Label() string { return s.label }

// WGSL returns the current assembled source.
func (s *Set) WGSL() string { return s.wgsl }

func (s *Set) read() (string, error) {
	var b strings.Builder
	b.WriteString(s.prelude)
	for _, f := range s.files {
		data, err := s.readFile(f)
		if err != nil {
			return "", fmt.Errorf("shader %s: %w", s.label, err)
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (s *Set) readFile(name string) ([]byte, error) {
	if s.dir != "" {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if s.fsys == nil {
		return nil, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
	}
	return fs.ReadFile(s.fsys, name)
}

// Refresh reloads the set when any of its files changed on disk since the
// last load. The new source replaces the old one only if it validates;
// Refresh reports whether it did.
func (s *Set) Refresh() bool {
	if s.dir == "" || s.watcher == nil {
		return false
	}
	changed := false
	for _, f := range s.files {
		if s.watcher.ModifiedSince(filepath.Join(s.dir, f), s.loaded) {
			changed = true
			break
		}
	}
	if !changed {
		return false
	}

	// A broken edit is not retried until the next change.
	s.loaded = time.Now()

	src, err := s.read()
	if err != nil {
		slogger().Warn("shader reload failed", "shader", s.label, "error", err)
		return false
	}
	if err := Validate(src); err != nil {
		slogger().Warn("shader reload rejected", "shader", s.label, "error", err)
		return false
	}
	s.wgsl = src
	slogger().Info("shader reloaded", "shader", s.label)
	return true
}
