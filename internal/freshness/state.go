package freshness

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"EquitySync/internal/atomicio"
)

// ErrCorrupt marks a persisted index that exists but cannot be decoded.
var ErrCorrupt = errors.New("freshness: corrupt index file")

// Store persists the index as entity -> "YYYY-MM-DD".
type Store interface {
	// Read returns the persisted mapping. A missing file yields an empty map.
	Read() (map[string]string, error)
	// Write replaces the persisted mapping atomically.
	Write(entries map[string]string) error
}

// FileStore keeps the index as an indented JSON object.
type FileStore struct {
	Path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Read returns an empty map if the file doesn't exist.
func (s *FileStore) Read() (map[string]string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	entries := map[string]string{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return entries, nil
}

// Write marshals with sorted keys so identical mappings produce identical bytes.
func (s *FileStore) Write(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return err
	}
	return atomicio.WriteFile(s.Path, data, 0o644)
}
