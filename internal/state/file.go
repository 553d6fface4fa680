package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const fileVersion = 1

// fileState is the structure stored in the state file.
type fileState struct {
	Version int                        `json:"version"`
	Entries map[string]json.RawMessage `json:"entries"`
}

// FileStore handles reading and writing a JSON state file safely. Values
// must be valid JSON; they are stored inline so the file stays readable.
type FileStore struct {
	path  string
	mu    sync.Mutex
	state *fileState
}

// NewFileStore loads path, creating the file if it does not exist.
func NewFileStore(path string) (*FileStore, error) {
	f := &FileStore{path: path}

	if err := f.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load state file %s: %w", path, err)
		}
		f.state = &fileState{
			Version: fileVersion,
			Entries: make(map[string]json.RawMessage),
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		if err := f.save(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// load reads the state file into memory.
func (f *FileStore) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}

	var s fileState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.Entries == nil {
		s.Entries = make(map[string]json.RawMessage)
	}
	if s.Version > fileVersion {
		return fmt.Errorf("state file version %d is newer than supported %d", s.Version, fileVersion)
	}
	f.state = &s
	return nil
}

// save atomically writes the state file to disk.
func (f *FileStore) save() error {
	tmp := f.path + ".tmp"
	data, err := json.MarshalIndent(f.state, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.state.Entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (f *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("value for %s is not valid JSON", key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.state.Entries[key]
	f.state.Entries[key] = append(json.RawMessage(nil), value...)
	if err := f.save(); err != nil {
		if had {
			f.state.Entries[key] = prev
		} else {
			delete(f.state.Entries, key)
		}
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.state.Entries[key]
	if !had {
		return nil
	}
	delete(f.state.Entries, key)
	if err := f.save(); err != nil {
		f.state.Entries[key] = prev
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

func (f *FileStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return matchKeys(f.state.Entries, prefix), nil
}

func (f *FileStore) Close() error {
	return nil
}
