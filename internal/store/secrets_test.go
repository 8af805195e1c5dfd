package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestSecretsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	s := LoadSecrets(path)

	want := map[string][]byte{}
	for i, k := range []string{"ltk", "irk", "csrk", "peer"} {
		key := []byte(k)
		val := bytes.Repeat([]byte{byte(i + 1)}, 16)
		if !s.Set(i%2+1, key, val) {
			t.Fatalf("Set(%q) = false, want true", k)
		}
		want[k] = val
	}
	if !s.Set(2, []byte("irk"), nil) {
		t.Fatal("deleting existing key should report true")
	}
	delete(want, "irk")

	if err := s.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded := LoadSecrets(path)
	if reloaded.Len() != len(want) {
		t.Fatalf("reloaded Len() = %d, want %d", reloaded.Len(), len(want))
	}
	types := map[string]int{"ltk": 1, "csrk": 1, "peer": 2}
	for k, v := range want {
		got, ok := reloaded.Get(types[k], []byte(k))
		if !ok || !bytes.Equal(got, v) {
			t.Errorf("Get(%q) = % X, %v; want % X", k, got, ok, v)
		}
	}
	if _, ok := reloaded.Get(2, []byte("irk")); ok {
		t.Error("deleted key should be absent after reload")
	}
}

func TestSecretsDeleteMissingKey(t *testing.T) {
	s := LoadSecrets(filepath.Join(t.TempDir(), "secrets.yaml"))
	if s.Set(1, []byte("nope"), nil) {
		t.Error("deleting a missing key should report false")
	}
}

func TestSecretsOverwriteKeepsPosition(t *testing.T) {
	s := LoadSecrets(filepath.Join(t.TempDir(), "secrets.yaml"))
	s.Set(3, []byte("a"), []byte("1"))
	s.Set(3, []byte("b"), []byte("2"))
	s.Set(3, []byte("a"), []byte("3"))

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	first, ok := s.GetIndex(3, 0)
	if !ok || string(first) != "3" {
		t.Errorf("GetIndex(3, 0) = %q, %v; want \"3\"", first, ok)
	}
}

func TestSecretsGetIndexByType(t *testing.T) {
	s := LoadSecrets(filepath.Join(t.TempDir(), "secrets.yaml"))
	s.Set(1, []byte("a"), []byte("A"))
	s.Set(2, []byte("b"), []byte("B"))
	s.Set(1, []byte("c"), []byte("C"))

	tests := []struct {
		typ, index int
		want       string
		ok         bool
	}{
		{1, 0, "A", true},
		{1, 1, "C", true},
		{2, 0, "B", true},
		{1, 2, "", false},
		{5, 0, "", false},
	}
	for _, tt := range tests {
		got, ok := s.GetIndex(tt.typ, tt.index)
		if ok != tt.ok || string(got) != tt.want {
			t.Errorf("GetIndex(%d, %d) = %q, %v; want %q, %v", tt.typ, tt.index, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLoadSecretsLegacyJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	// Written by the MicroPython firmware: base64 with trailing newline.
	legacy := `[[1, "a2V5\n", "dmFsdWU=\n"]]`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatal(err)
	}

	s := LoadSecrets(path)
	got, ok := s.Get(1, []byte("key"))
	if !ok || string(got) != "value" {
		t.Errorf("Get(1, key) = %q, %v; want \"value\"", got, ok)
	}
}

func TestLoadSecretsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	if err := os.WriteFile(path, []byte("{{{ not yaml"), 0o600); err != nil {
		t.Fatal(err)
	}
	if s := LoadSecrets(path); s.Len() != 0 {
		t.Errorf("Len() = %d, want 0 for corrupt file", s.Len())
	}
}

func TestSecretsReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	s := LoadSecrets(path)
	s.Set(1, []byte("a"), []byte("b"))
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if LoadSecrets(path).Len() != 0 {
		t.Error("reloaded secrets should be empty after Reset")
	}
}

func TestSecretsEach(t *testing.T) {
	s := LoadSecrets(filepath.Join(t.TempDir(), "secrets.yaml"))
	s.Set(1, []byte("a"), []byte{1})
	s.Set(2, []byte("b"), []byte{2, 2})
	s.Set(1, []byte("c"), []byte{3})

	var keys []string
	s.Each(func(typ int, key, value []byte) {
		keys = append(keys, string(key))
	})
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("Each() visited %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Each() key[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}
