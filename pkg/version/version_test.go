package version

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ondsel/lens-client/pkg/models"
	"github.com/ondsel/lens-client/pkg/protocol"
	"github.com/ondsel/lens-client/pkg/retry"
	"github.com/ondsel/lens-client/pkg/session"
	"github.com/ondsel/lens-client/pkg/transport"
)

func newTestSession(t *testing.T, baseURL string) *session.Manager {
	t.Helper()
	client := transport.New(transport.Config{
		BaseURL:     baseURL,
		RetryConfig: retry.Config{MaxAttempts: 1, InitialWait: time.Millisecond},
	})
	return session.NewManager(session.Options{
		Client:          client,
		CredentialsPath: filepath.Join(t.TempDir(), "session.json"),
	})
}

func testFile(current string) models.File {
	base := int64(1700000000000)
	return models.File{
		ID:               "f1",
		Name:             "bracket.FCStd",
		CurrentVersionID: current,
		Versions: []models.FileVersion{
			{ID: "v1", UniqueFileName: "b1", CreatedAt: base,
				AdditionalData: models.VersionData{FileUpdatedAt: base - 500}},
			{ID: "v3", UniqueFileName: "b3", CreatedAt: base + 2000,
				AdditionalData: models.VersionData{FileUpdatedAt: base + 1500}},
			{ID: "v2", UniqueFileName: "b2", CreatedAt: base + 1000},
		},
	}
}

func TestServerModelRefresh(t *testing.T) {
	file := testFile("v3")
	var checkout protocol.SetActiveVersionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/f1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodPatch {
			json.NewDecoder(r.Body).Decode(&checkout)
			file.CurrentVersionID = checkout.VersionID
		}
		json.NewEncoder(w).Encode(file)
	}))
	defer srv.Close()

	// Put the local copy's mtime on v1's authoritative timestamp.
	localPath := filepath.Join(t.TempDir(), "bracket.FCStd")
	if err := os.WriteFile(localPath, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	mt := time.UnixMilli(file.Versions[0].AuthoritativeTime())
	if err := os.Chtimes(localPath, mt, mt); err != nil {
		t.Fatal(err)
	}

	m := NewServerModel(newTestSession(t, srv.URL), "f1", localPath)
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	entries := m.Entries()
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d", len(entries))
	}
	// Newest first by createdAt.
	if entries[0].Version.ID != "v3" || entries[1].Version.ID != "v2" || entries[2].Version.ID != "v1" {
		t.Errorf("order = %s %s %s",
			entries[0].Version.ID, entries[1].Version.ID, entries[2].Version.ID)
	}
	if !entries[0].Active || entries[1].Active || entries[2].Active {
		t.Error("only v3 should be active")
	}
	if entries[0].OnDisk || entries[1].OnDisk || !entries[2].OnDisk {
		t.Error("only v1 matches the local mtime")
	}

	if err := m.SetActive(context.Background(), "v1"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if !checkout.ShouldCheckout || checkout.VersionID != "v1" {
		t.Errorf("checkout payload = %+v", checkout)
	}
	entries = m.Entries()
	if !entries[2].Active {
		t.Error("v1 should be active after checkout")
	}
}

func TestServerModelNoLocalCopy(t *testing.T) {
	file := testFile("v1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(file)
	}))
	defer srv.Close()

	m := NewServerModel(newTestSession(t, srv.URL), "f1", filepath.Join(t.TempDir(), "missing.FCStd"))
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	for _, e := range m.Entries() {
		if e.OnDisk {
			t.Errorf("version %s marked OnDisk without a local copy", e.Version.ID)
		}
	}
}

func TestLocalModelScan(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "gear.FCStd")

	write := func(name string, mtime time.Time) {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	now := time.Now().Truncate(time.Second)
	write("gear.FCStd", now)
	write("gear.FCBak", now.Add(-time.Hour))
	write("gear.fcbak", now.Add(-2*time.Hour))
	write("other.FCBak", now) // different base name
	write("gear.obj", now)    // not a backup extension

	backups, err := NewLocalModel(main, nil).Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("len(backups) = %d, want 2", len(backups))
	}
	// Newest first.
	if backups[0].Name != "gear.FCBak" || backups[1].Name != "gear.fcbak" {
		t.Errorf("order = %s, %s", backups[0].Name, backups[1].Name)
	}
}

func TestLocalModelCreationDateHook(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "gear.FCStd")
	if err := os.WriteFile(filepath.Join(dir, "gear.FCBak"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	embedded := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewLocalModel(main, func(path string) (time.Time, bool) {
		return embedded, true
	})
	backups, err := m.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(backups) != 1 || !backups[0].CreatedAt.Equal(embedded) {
		t.Errorf("backups = %+v", backups)
	}
}
