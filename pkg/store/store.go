// Package store holds the durable per-account credentials. The file-backed
// implementation persists to a yaml file keyed by provider item id; the
// in-memory one backs tests.
package store

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// AccountConfig identifies one linked account and the durable credential
// used to query it. ID is the provider item id. A re-exchange for the same
// item overwrites the entry in place.
type AccountConfig struct {
	ID          string `yaml:"id"`
	Integration string `yaml:"integration"`
	Token       string `yaml:"token"`
}

// Store is the credential store the exchange server writes to and the
// fetch pipeline reads from.
type Store interface {
	All() []AccountConfig
	Get(id string) (AccountConfig, bool)
	Put(cfg AccountConfig) error
}

// FileStore keeps credentials in a yaml file on disk. Every Put rewrites
// the file so a crash never loses a completed exchange.
type FileStore struct {
	path string

	mu       sync.Mutex
	accounts map[string]AccountConfig
}

// Load opens the store at path. A missing file yields an empty store; the
// file is created on the first Put.
func Load(path string) (*FileStore, error) {
	s := &FileStore{path: path, accounts: make(map[string]AccountConfig)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential store: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.accounts); err != nil {
		return nil, fmt.Errorf("parsing credential store: %w", err)
	}
	return s, nil
}

// All returns every stored account, ordered by id for stable output.
func (s *FileStore) All() []AccountConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.accounts)
}

// Get looks up one account by item id.
func (s *FileStore) Get(id string) (AccountConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.accounts[id]
	return cfg, ok
}

// Put upserts an account keyed by its id and persists immediately.
func (s *FileStore) Put(cfg AccountConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[cfg.ID] = cfg

	data, err := yaml.Marshal(s.accounts)
	if err != nil {
		return fmt.Errorf("marshaling credential store: %w", err)
	}
	// Tokens live in this file, keep it owner-only.
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing credential store: %w", err)
	}
	return nil
}

// Memory is an in-memory Store for tests and dry runs.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]AccountConfig
}

// NewMemory builds an in-memory store seeded with the given accounts.
func NewMemory(cfgs ...AccountConfig) *Memory {
	m := &Memory{accounts: make(map[string]AccountConfig, len(cfgs))}
	for _, cfg := range cfgs {
		m.accounts[cfg.ID] = cfg
	}
	return m
}

func (m *Memory) All() []AccountConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sorted(m.accounts)
}

func (m *Memory) Get(id string) (AccountConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.accounts[id]
	return cfg, ok
}

func (m *Memory) Put(cfg AccountConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[cfg.ID] = cfg
	return nil
}

func sorted(accounts map[string]AccountConfig) []AccountConfig {
	out := make([]AccountConfig, 0, len(accounts))
	for _, cfg := range accounts {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
