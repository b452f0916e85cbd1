package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Selection is the athlete currently chosen on this device.
type Selection struct {
	Athlete string `json:"athlete,omitempty"`
	Email   string `json:"email,omitempty"`
}

// IsZero reports whether nothing is selected.
func (s Selection) IsZero() bool {
	return strings.TrimSpace(s.Athlete) == "" && strings.TrimSpace(s.Email) == ""
}

// LoadSelection reads the selection stored at path. A missing file is an
// empty selection.
func LoadSelection(path string) (Selection, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Selection{}, nil
	}
	if err != nil {
		return Selection{}, fmt.Errorf("read selection: %w", err)
	}
	var s Selection
	if err := json.Unmarshal(data, &s); err != nil {
		return Selection{}, fmt.Errorf("decode selection: %w", err)
	}
	return s, nil
}

// Save stores s at path. An empty selection removes the file.
func (s Selection) Save(path string) error {
	if s.IsZero() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reset selection: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(Selection{Athlete: strings.TrimSpace(s.Athlete), Email: strings.TrimSpace(s.Email)})
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), cacheDirPermission); err != nil {
		return fmt.Errorf("create selection dir: %w", err)
	}
	if err := os.WriteFile(path, data, cacheFilePermission); err != nil {
		return fmt.Errorf("write selection: %w", err)
	}
	return nil
}
