package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/sys/atomicwriter"
)

// document is the on-disk form. URL is written for people reading the file
// and ignored on load.
type document struct {
	Record
	URL string `json:"url,omitempty"`
}

// Store reads and writes the record file. Writes replace the whole document
// atomically, so a crash leaves either the old or the new record on disk.
type Store struct {
	path        string
	localAppURL string
}

// NewStore creates a store for the record file at path. localAppURL is used
// to fill in the informational url field for local-mode records.
func NewStore(path, localAppURL string) *Store {
	return &Store{path: path, localAppURL: localAppURL}
}

// Path returns the record file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the record. A missing file is the normal first-run state and
// returns (nil, nil).
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse record file: %w", err)
	}
	if err := doc.Record.Validate(); err != nil {
		return nil, fmt.Errorf("parse record file: %w", err)
	}

	rec := doc.Record.Clone()
	return &rec, nil
}

// Save writes the record, replacing any previous one.
func (s *Store) Save(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create record directory: %w", err)
	}

	doc := document{Record: rec, URL: rec.URL(s.localAppURL)}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	if err := atomicwriter.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write record file: %w", err)
	}

	return nil
}

// Clear removes the record file. Clearing an absent record is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove record file: %w", err)
	}
	return nil
}
