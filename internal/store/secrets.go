package store

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// secretEntry is one bonding record. On disk it is a flow sequence
// [type, base64 key, base64 value].
type secretEntry struct {
	Type  int
	Key   []byte
	Value []byte
}

func (e *secretEntry) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode || len(n.Content) != 3 {
		return fmt.Errorf("line %d: secret must be a [type, key, value] triple", n.Line)
	}
	if err := n.Content[0].Decode(&e.Type); err != nil {
		return fmt.Errorf("line %d: secret type: %w", n.Line, err)
	}
	var key, value string
	if err := n.Content[1].Decode(&key); err != nil {
		return fmt.Errorf("line %d: secret key: %w", n.Line, err)
	}
	if err := n.Content[2].Decode(&value); err != nil {
		return fmt.Errorf("line %d: secret value: %w", n.Line, err)
	}
	var err error
	// MicroPython's b2a_base64 appends a newline; tolerate it.
	if e.Key, err = base64.StdEncoding.DecodeString(strings.TrimSpace(key)); err != nil {
		return fmt.Errorf("line %d: secret key: %w", n.Line, err)
	}
	if e.Value, err = base64.StdEncoding.DecodeString(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("line %d: secret value: %w", n.Line, err)
	}
	return nil
}

func (e secretEntry) MarshalYAML() (any, error) {
	return &yaml.Node{
		Kind:  yaml.SequenceNode,
		Style: yaml.FlowStyle,
		Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(e.Type)},
			{Kind: yaml.ScalarNode, Tag: "!!str", Style: yaml.DoubleQuotedStyle, Value: base64.StdEncoding.EncodeToString(e.Key)},
			{Kind: yaml.ScalarNode, Tag: "!!str", Style: yaml.DoubleQuotedStyle, Value: base64.StdEncoding.EncodeToString(e.Value)},
		},
	}, nil
}

// Secrets holds BLE bonding key/value pairs keyed by (security type, key)
// in insertion order. Safe for concurrent use.
type Secrets struct {
	path string

	mu      sync.Mutex
	entries []secretEntry
}

// LoadSecrets reads the secrets file at path. Absence or a parse failure
// is treated as "no bonded secrets".
func LoadSecrets(path string) *Secrets {
	s := &Secrets{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("[STORE] no secrets available", "path", path)
		} else {
			slog.Warn("[STORE] reading secrets failed, starting empty", "path", path, "error", err)
		}
		return s
	}

	var entries []secretEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		slog.Warn("[STORE] parsing secrets failed, starting empty", "path", path, "error", err)
		return s
	}
	for _, e := range entries {
		s.set(e.Type, e.Key, e.Value)
	}
	slog.Info("[STORE] secrets loaded", "path", path, "count", len(s.entries))
	return s
}

// Get looks up the value for (typ, key).
func (s *Secrets) Get(typ int, key []byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.find(typ, key); i >= 0 {
		return bytes.Clone(s.entries[i].Value), true
	}
	return nil, false
}

// GetIndex returns the index-th value of type typ in insertion order.
func (s *Secrets) GetIndex(typ, index int) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Type != typ {
			continue
		}
		if n == index {
			return bytes.Clone(e.Value), true
		}
		n++
	}
	return nil, false
}

// Set inserts or overwrites (typ, key). An empty value deletes the key
// and reports false if it was not present.
func (s *Secrets) Set(typ int, key, value []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(value) == 0 {
		i := s.find(typ, key)
		if i < 0 {
			return false
		}
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		return true
	}
	s.set(typ, key, value)
	return true
}

// Len returns the number of stored secrets.
func (s *Secrets) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Each calls fn for every secret in insertion order, on a copy taken
// under the lock.
func (s *Secrets) Each(fn func(typ int, key, value []byte)) {
	s.mu.Lock()
	entries := make([]secretEntry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()
	for _, e := range entries {
		fn(e.Type, e.Key, e.Value)
	}
}

// Save writes every secret to disk.
func (s *Secrets) Save() error {
	s.mu.Lock()
	entries := make([]secretEntry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("store: encoding secrets: %w", err)
	}
	if err := writeFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("store: saving secrets: %w", err)
	}
	return nil
}

// Reset forgets every bond and persists the empty list.
func (s *Secrets) Reset() error {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
	return s.Save()
}

// set must be called with mu held (or before s is shared).
func (s *Secrets) set(typ int, key, value []byte) {
	if i := s.find(typ, key); i >= 0 {
		s.entries[i].Value = bytes.Clone(value)
		return
	}
	s.entries = append(s.entries, secretEntry{
		Type:  typ,
		Key:   bytes.Clone(key),
		Value: bytes.Clone(value),
	})
}

func (s *Secrets) find(typ int, key []byte) int {
	for i, e := range s.entries {
		if e.Type == typ && bytes.Equal(e.Key, key) {
			return i
		}
	}
	return -1
}
