package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	warmFile = "warm.json"
)

// WarmEntry is one canonical answer preloaded into the response cache.
type WarmEntry struct {
	Prompt   string `json:"prompt"`
	Value    string `json:"value"`
	Category string `json:"category"`
}

// LoadWarmSet reads .keepsake/warm.json. A missing directory or file yields
// an empty set.
func (m *Manager) LoadWarmSet(overrideDir string) ([]WarmEntry, error) {
	dir, err := m.Target(overrideDir)
	if err != nil || dir == "" {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, warmFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading warm set: %w", err)
	}

	var entries []WarmEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing warm set: %w", err)
	}
	return entries, nil
}

// SaveWarmSet writes entries to .keepsake/warm.json.
func (m *Manager) SaveWarmSet(entries []WarmEntry, overrideDir string) error {
	if entries == nil {
		return errors.New("cannot save nil warm set")
	}

	dir, err := m.Ensure(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling warm set: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, warmFile), data, 0o600); err != nil {
		return fmt.Errorf("writing warm set: %w", err)
	}
	return nil
}
