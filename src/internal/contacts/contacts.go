package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("contact not found")

type Contact struct {
	Name  string `yaml:"name" json:"name"`
	Phone string `yaml:"phone,omitempty" json:"phone,omitempty"`
	Email string `yaml:"email,omitempty" json:"email,omitempty"`
	Notes string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

type file struct {
	Contacts []Contact `yaml:"contacts"`
}

// Directory is an address book loaded from a YAML file:
//
//	contacts:
//	  - name: Alice Smith
//	    phone: "+15551234567"
//	    email: alice@example.com
type Directory struct {
	path string

	mu       sync.RWMutex
	contacts []Contact
}

// Open loads the file at path. A missing file yields an empty directory.
func Open(path string) (*Directory, error) {
	d := &Directory{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewStatic builds a directory from a fixed list.
func NewStatic(list []Contact) *Directory {
	return &Directory{contacts: append([]Contact(nil), list...)}
}

func (d *Directory) Reload() error {
	if d.path == "" {
		return nil
	}
	data, err := os.ReadFile(d.path)
	if errors.Is(err, os.ErrNotExist) {
		d.set(nil)
		return nil
	}
	if err != nil {
		return err
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("contacts: parse %s: %w", d.path, err)
	}
	d.set(f.Contacts)
	return nil
}

func (d *Directory) set(list []Contact) {
	sort.SliceStable(list, func(i, j int) bool {
		return strings.ToLower(list[i].Name) < strings.ToLower(list[j].Name)
	})
	d.mu.Lock()
	d.contacts = list
	d.mu.Unlock()
}

// Search returns contacts whose name contains query, case-insensitively.
// An empty query returns everyone.
func (d *Directory) Search(query string) []Contact {
	q := strings.ToLower(strings.TrimSpace(query))
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Contact
	for _, c := range d.contacts {
		if q == "" || strings.Contains(strings.ToLower(c.Name), q) {
			out = append(out, c)
		}
	}
	return out
}

// Find resolves a name to one contact, preferring an exact match over the
// first partial one.
func (d *Directory) Find(name string) (Contact, error) {
	matches := d.Search(name)
	for _, c := range matches {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, nil
		}
	}
	if len(matches) == 0 {
		return Contact{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return matches[0], nil
}

// Watch reloads the directory whenever its file changes, until ctx is done.
func (d *Directory) Watch(ctx context.Context) error {
	if d.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the parent so editors that replace the file are still seen.
	if err := w.Add(filepath.Dir(d.path)); err != nil {
		return err
	}
	slog.Info("contacts watcher started", "path", d.path)

	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		case <-fire:
			fire = nil
			if err := d.Reload(); err != nil {
				slog.Warn("contacts reload failed", "path", d.path, "error", err)
			} else {
				slog.Info("contacts reloaded", "path", d.path, "count", len(d.Search("")))
			}
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(d.path) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(100 * time.Millisecond)
			} else {
				debounce.Reset(100 * time.Millisecond)
			}
			fire = debounce.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("contacts watcher error", "error", err)
		}
	}
}
