package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewStoreCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "user_profile.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	p, err := store.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Name != DefaultName || p.Role != "" || len(p.Keywords) != 0 || len(p.Projects) != 0 {
		t.Errorf("unexpected default profile: %+v", p)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("profile file missing: %v", err)
	}
	if !strings.Contains(string(data), `"keywords": []`) {
		t.Errorf("expected empty keyword list in file, got %s", data)
	}
}

func TestStoreUpdateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_profile.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	want := Profile{Name: "Olena", Role: "Tech Lead", Keywords: []string{"budget"}, Projects: []string{"Atlas"}}
	if _, err := store.Update(want); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	got, err := reopened.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != want.Name || got.Role != want.Role || got.Keywords[0] != "budget" || got.Projects[0] != "Atlas" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestStoreGetCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_profile.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, err := store.Get(); err == nil {
		t.Error("expected parse error")
	}
}

func TestNewStoreRequiresPath(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Error("expected error for empty path")
	}
}
