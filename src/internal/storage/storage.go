package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const defaultSoul = `You are Nudge, a personal assistant that keeps track of reminders, calendar events and messages.
Be brief and concrete. When the user asks for something you have a tool for, use the tool instead of describing what you would do.
Dates you pass to tools are ISO-8601. If a tool reports an error, tell the user plainly what could not be done.`

// Storage is the file-backed state directory: persona prompt and JSON state
// blobs such as conversation history.
type Storage struct {
	baseDir string
	mu      sync.RWMutex
}

func New(baseDir string) (*Storage, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			return nil, err
		}
	}
	return &Storage{baseDir: baseDir}, nil
}

func (s *Storage) GetBaseDir() string {
	return s.baseDir
}

// Path joins name onto the storage directory.
func (s *Storage) Path(name string) string {
	return filepath.Join(s.baseDir, name)
}

// BootstrapSoul ensures that soul.md exists in the storage directory. It is
// copied from templatePath when given, otherwise the built-in persona is used.
// Returns true if the file was bootstrapped, false if it already existed.
func (s *Storage) BootstrapSoul(templatePath string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	soulPath := filepath.Join(s.baseDir, "soul.md")
	if _, err := os.Stat(soulPath); err == nil {
		return false, nil
	}

	data := []byte(defaultSoul)
	if templatePath != "" {
		templateData, err := os.ReadFile(templatePath)
		if err != nil {
			return false, fmt.Errorf("failed to read template soul.md: %w", err)
		}
		data = templateData
	}

	if err := os.WriteFile(soulPath, data, 0644); err != nil {
		return false, fmt.Errorf("failed to bootstrap soul.md: %w", err)
	}
	return true, nil
}

func (s *Storage) GetSoul() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, "soul.md"))
	if err != nil {
		if os.IsNotExist(err) {
			return defaultSoul, nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *Storage) SaveSoul(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return os.WriteFile(filepath.Join(s.baseDir, "soul.md"), []byte(content), 0644)
}

// SaveState writes state as indented JSON to <name>.json. The write goes
// through a temp file so readers never see a partial document.
func (s *Storage) SaveState(name string, state interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.baseDir, name+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadState reads <name>.json into state. A missing file leaves state
// untouched and returns nil.
func (s *Storage) LoadState(name string, state interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, name+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, state)
}
