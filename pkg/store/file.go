package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File keeps every key in a single JSON document on disk.
type File struct {
	data     map[string]string
	lock     sync.RWMutex
	filePath string
}

// NewFile opens the JSON document at filePath, creating its directory when needed.
// A missing file starts an empty store.
func NewFile(filePath string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	f := &File{
		data:     make(map[string]string),
		filePath: filePath,
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	f.lock.Lock()
	defer f.lock.Unlock()

	raw, err := os.ReadFile(f.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read store file: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &f.data); err != nil {
		return fmt.Errorf("failed to decode store file: %w", err)
	}
	return nil
}

func (f *File) Get(key string) (string, bool, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *File) Set(key, value string) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	prev, had := f.data[key]
	f.data[key] = value
	if err := f.saveUnlocked(); err != nil {
		// Rollback
		if had {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

func (f *File) Remove(key string) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if _, ok := f.data[key]; !ok {
		return nil
	}
	delete(f.data, key)
	return f.saveUnlocked()
}

// saveUnlocked writes to a temp file and renames it over the document.
func (f *File) saveUnlocked() error {
	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	tmp := f.filePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp, f.filePath); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}
