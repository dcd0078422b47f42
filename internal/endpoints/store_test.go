package endpoints

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/unifi-toolkit/internal/secrets"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "endpoints.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	key, err := secrets.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cipher, err := secrets.NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	store, err := NewStore(db, cipher)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.Save(SaveParams{
		Name:   "home",
		Host:   "https://udm.local",
		APIKey: "abc123",
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected generated id")
	}
	if rec.Site != "default" {
		t.Errorf("expected default site, got %q", rec.Site)
	}
	if !rec.HasAPIKey {
		t.Error("expected HasAPIKey")
	}

	got, err := store.Get("home")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Host != "https://udm.local" {
		t.Errorf("host = %q", got.Host)
	}
	if got.encAPIKey == "abc123" {
		t.Error("api key stored in plaintext")
	}
}

func TestSave_Upsert(t *testing.T) {
	store := newTestStore(t)

	first, err := store.Save(SaveParams{Name: "home", Host: "https://old.local", APIKey: "k1"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	second, err := store.Save(SaveParams{Name: "home", Host: "https://new.local", APIKey: "k2"})
	if err != nil {
		t.Fatalf("Save (update): %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("upsert changed id: %s -> %s", first.ID, second.ID)
	}
	if second.Host != "https://new.local" {
		t.Errorf("host = %q", second.Host)
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after upsert, got %d", len(records))
	}
}

func TestSave_Validation(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name string
		p    SaveParams
	}{
		{"missing name", SaveParams{Host: "https://udm.local", APIKey: "k"}},
		{"missing host", SaveParams{Name: "home", APIKey: "k"}},
		{"no credentials", SaveParams{Name: "home", Host: "https://udm.local"}},
		{"both credential kinds", SaveParams{
			Name: "home", Host: "https://udm.local",
			Username: "admin", Password: "pw", APIKey: "k",
		}},
	}
	for _, tt := range tests {
		if _, err := store.Save(tt.p); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestList_Ordering(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"office", "home", "cabin"} {
		if _, err := store.Save(SaveParams{Name: name, Host: "https://" + name, APIKey: "k"}); err != nil {
			t.Fatalf("Save(%s): %v", name, err)
		}
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"cabin", "home", "office"}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(records))
	}
	for i, name := range want {
		if records[i].Name != name {
			t.Errorf("records[%d] = %q, want %q", i, records[i].Name, name)
		}
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Save(SaveParams{Name: "home", Host: "https://udm.local", APIKey: "k"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := store.Delete("home"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get("home"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete("home"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for repeat delete, got %v", err)
	}
}

func TestEndpoint_DecryptsCredentials(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Save(SaveParams{
		Name: "legacy", Host: "https://ctl.local", Site: "branch",
		Username: "admin", Password: "hunter2",
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	endpoint, err := store.Endpoint("legacy")
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	if endpoint.Host != "https://ctl.local" || endpoint.Site != "branch" {
		t.Errorf("endpoint = %+v", endpoint)
	}
	if endpoint.Username != "admin" || endpoint.Password != "hunter2" {
		t.Errorf("credentials not restored: %q/%q", endpoint.Username, endpoint.Password)
	}
	if endpoint.APIKey != "" {
		t.Errorf("unexpected api key %q", endpoint.APIKey)
	}

	if _, err := store.Endpoint("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
