// Package storage persists named macros (recorded input sequences) as JSON
// files. Live session state is never persisted; macros are an explicit
// export/import surface.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nxpad/go-procon-server/internal/input"
	"github.com/nxpad/go-procon-server/internal/logger"
	"github.com/nxpad/go-procon-server/internal/models"
)

// MacroStore keeps macros in memory and mirrors them to disk.
type MacroStore struct {
	basePath string
	logger   *logger.Logger
	mu       sync.RWMutex

	macros map[string][]input.Packet
}

// NewMacroStore creates a store rooted at basePath.
func NewMacroStore(basePath string, log *logger.Logger) *MacroStore {
	return &MacroStore{
		basePath: basePath,
		logger:   log.WithName("storage"),
		macros:   make(map[string][]input.Packet),
	}
}

// Start creates the storage directory and loads existing macros.
func (s *MacroStore) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	if err := s.load(); err != nil {
		s.logger.Warn("failed to load macros", logger.ErrorField(err))
	}

	s.logger.Info("macro storage started",
		logger.String("path", s.basePath),
		logger.Int("macros", len(s.macros)),
	)
	return nil
}

// Stop flushes all macros to disk.
func (s *MacroStore) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save(); err != nil {
		return fmt.Errorf("failed to save macros during stop: %w", err)
	}

	s.logger.Info("macro storage stopped")
	return nil
}

// Save stores a copy of the sequence under the given name.
func (s *MacroStore) Save(name string, packets []input.Packet) error {
	if name == "" {
		return fmt.Errorf("macro name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]input.Packet, len(packets))
	copy(cp, packets)
	s.macros[name] = cp

	return s.save()
}

// Get returns a copy of the named macro.
func (s *MacroStore) Get(name string) ([]input.Packet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	packets, exists := s.macros[name]
	if !exists {
		return nil, fmt.Errorf("macro %q not found", name)
	}

	cp := make([]input.Packet, len(packets))
	copy(cp, packets)
	return cp, nil
}

// List returns all macros with their lengths, sorted by name.
func (s *MacroStore) List() []models.Macro {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Macro, 0, len(s.macros))
	for name, packets := range s.macros {
		cp := make([]input.Packet, len(packets))
		copy(cp, packets)
		out = append(out, models.Macro{Name: name, Packets: cp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delete removes the named macro.
func (s *MacroStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.macros[name]; !exists {
		return fmt.Errorf("macro %q not found", name)
	}
	delete(s.macros, name)
	return s.save()
}

func (s *MacroStore) filePath() string {
	return filepath.Join(s.basePath, "macros.json")
}

func (s *MacroStore) load() error {
	data, err := os.ReadFile(s.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", s.filePath(), err)
	}

	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &s.macros); err != nil {
		return fmt.Errorf("failed to unmarshal macros: %w", err)
	}
	return nil
}

func (s *MacroStore) save() error {
	jsonData, err := json.MarshalIndent(s.macros, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal macros: %w", err)
	}

	// Write to temporary file first, then rename into place.
	path := s.filePath()
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}
