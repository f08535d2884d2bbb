// Package storage holds the persisted slot of the client session.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/crypto"
)

// FileStore is a key-value store kept as a single JSON document on disk.
// SetMany and Delete rewrite the whole document through a temp file and a
// rename, so a multi-key update is observed entirely or not at all.
type FileStore struct {
	mu     sync.Mutex
	fs     afero.Fs
	path   string
	aesKey string // hex AES-256 key; empty stores plaintext
}

// NewFileStore opens the document at path. aesKeyHex may be empty.
func NewFileStore(fsys afero.Fs, path, aesKeyHex string) (*FileStore, error) {
	if err := fsys.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}
	return &FileStore{fs: fsys, path: path, aesKey: aesKeyHex}, nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	v, ok := doc[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return v, nil
}

func (s *FileStore) SetMany(_ context.Context, values map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	for k, v := range values {
		doc[k] = v
	}
	return s.save(doc)
}

func (s *FileStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(doc, k)
	}
	if len(doc) == 0 {
		if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove session document: %w", err)
		}
		return nil
	}
	return s.save(doc)
}

func (s *FileStore) load() (map[string][]byte, error) {
	raw, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session document: %w", err)
	}
	if s.aesKey != "" {
		if raw, err = crypto.DecryptAESGCM(s.aesKey, string(raw)); err != nil {
			return nil, fmt.Errorf("failed to decrypt session document: %w", err)
		}
	}
	doc := map[string][]byte{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode session document: %w", err)
	}
	return doc, nil
}

func (s *FileStore) save(doc map[string][]byte) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode session document: %w", err)
	}
	if s.aesKey != "" {
		sealed, err := crypto.EncryptAESGCM(s.aesKey, raw)
		if err != nil {
			return fmt.Errorf("failed to encrypt session document: %w", err)
		}
		raw = []byte(sealed)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write session document: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to commit session document: %w", err)
	}
	return nil
}

// MemoryStore is an in-process KeyValueStore for tests and ephemeral sessions.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) SetMany(_ context.Context, values map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.data[k] = append([]byte(nil), v...)
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Len reports how many keys are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
