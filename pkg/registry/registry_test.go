package registry

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

// dirServer serves /directories/{id} from a mutable map.
func dirServer(dirs map[string]models.Directory) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := filepath.Base(r.URL.Path)
		d, ok := dirs[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(d)
	}))
}

func serverFile(id, name string, authoritative int64) models.FileSummary {
	return models.FileSummary{
		ID:   id,
		Name: name,
		CurrentVersion: &models.FileVersion{
			ID:             id + "-v1",
			UniqueFileName: id + "-blob",
			CreatedAt:      authoritative - 1000,
			AdditionalData: models.VersionData{FileUpdatedAt: authoritative},
		},
	}
}

func writeLocal(t *testing.T, dir, name string, mtimeMs int64) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	mt := time.UnixMilli(mtimeMs)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatal(err)
	}
}

var testWS = models.Workspace{ID: "ws1", Name: "Default", RootDirectoryID: "root1"}

func TestRefreshMerge(t *testing.T) {
	base := time.Now().Add(-time.Hour).UnixMilli()

	dirs := map[string]models.Directory{
		"root1": {
			ID: "root1",
			Files: []models.FileSummary{
				serverFile("f1", "synced.fcstd", base),
				serverFile("f2", "stale-local.fcstd", base+5000),
				serverFile("f3", "stale-server.fcstd", base-5000),
				serverFile("f4", "cloud.fcstd", base),
			},
			Directories: []models.DirectorySummary{{ID: "d1", Name: "drawings"}},
		},
	}
	srv := dirServer(dirs)
	defer srv.Close()

	cacheRoot := t.TempDir()
	local := filepath.Join(cacheRoot, "ws1")
	if err := os.MkdirAll(filepath.Join(local, "parts"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(local, ".thumbnails"), 0755); err != nil {
		t.Fatal(err)
	}
	writeLocal(t, local, "synced.fcstd", base)
	writeLocal(t, local, "stale-local.fcstd", base)
	writeLocal(t, local, "stale-server.fcstd", base)
	writeLocal(t, local, "scratch.obj", base)
	writeLocal(t, local, "synced.FCBak", base)

	changed := 0
	r := New(newTestSession(t, srv.URL), cacheRoot, func() { changed++ })
	r.Open(testWS)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if changed != 1 {
		t.Errorf("onChange fired %d times, want 1", changed)
	}

	// Folders first, then files, both in name order. The backup file and
	// the hidden directory never appear.
	var names []string
	for _, it := range r.Items() {
		names = append(names, it.Name)
	}
	want := []string{"drawings", "parts",
		"cloud.fcstd", "scratch.obj", "stale-local.fcstd", "stale-server.fcstd", "synced.fcstd"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}

	checks := map[string]models.SyncStatus{
		"synced.fcstd":       models.StatusSynced,
		"stale-local.fcstd":  models.StatusLocalCopyOutdated,
		"stale-server.fcstd": models.StatusServerCopyOutdated,
		"cloud.fcstd":        models.StatusServerOnly,
		"scratch.obj":        models.StatusUntracked,
	}
	for name, want := range checks {
		it, ok := r.Item(name)
		if !ok {
			t.Fatalf("missing item %s", name)
		}
		if it.Status != want {
			t.Errorf("%s status = %v, want %v", name, it.Status, want)
		}
	}

	// Presence flags.
	if it, _ := r.Item("cloud.fcstd"); it.OnDisk() || !it.OnServer() {
		t.Error("cloud.fcstd should be server-side only")
	}
	if it, _ := r.Item("scratch.obj"); !it.OnDisk() || it.OnServer() {
		t.Error("scratch.obj should be local only")
	}
	if it, _ := r.Item("drawings"); !it.IsFolder || it.OnDisk() {
		t.Error("drawings is a server folder without a local mirror")
	}
	if it, _ := r.Item("parts"); !it.IsFolder || !it.OnDisk() || it.OnServer() {
		t.Error("parts is a purely local folder")
	}
	if it, _ := r.Item("scratch.obj"); it.Ext != "obj" {
		t.Errorf("ext = %q, want obj", it.Ext)
	}
}

func TestFolderWinsNameCollision(t *testing.T) {
	dirs := map[string]models.Directory{
		"root1": {
			ID:    "root1",
			Files: []models.FileSummary{serverFile("f1", "shape", time.Now().UnixMilli())},
		},
	}
	srv := dirServer(dirs)
	defer srv.Close()

	cacheRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(cacheRoot, "ws1", "shape"), 0755); err != nil {
		t.Fatal(err)
	}

	r := New(newTestSession(t, srv.URL), cacheRoot, nil)
	r.Open(testWS)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	items := r.Items()
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if !items[0].IsFolder {
		t.Error("the folder should win the name slot")
	}
}

func TestRefreshOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	cacheRoot := t.TempDir()
	local := filepath.Join(cacheRoot, "ws1")
	if err := os.MkdirAll(local, 0755); err != nil {
		t.Fatal(err)
	}
	writeLocal(t, local, "draft.fcstd", time.Now().UnixMilli())

	r := New(newTestSession(t, srv.URL), cacheRoot, nil)
	r.Open(testWS)
	err := r.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected an error from the dead server")
	}
	if r.Listing() != nil {
		t.Error("no server listing should be retained offline")
	}

	// The view degrades to the local scan.
	it, ok := r.Item("draft.fcstd")
	if !ok {
		t.Fatal("local file missing from the degraded view")
	}
	if it.Status != models.StatusUntracked {
		t.Errorf("status = %v, want Untracked", it.Status)
	}
}

func TestRefreshBeforeOpen(t *testing.T) {
	r := New(newTestSession(t, "http://unused"), t.TempDir(), nil)
	if err := r.Refresh(context.Background()); err != ErrNoWorkspace {
		t.Errorf("Refresh before Open = %v, want ErrNoWorkspace", err)
	}
}

func TestNavigation(t *testing.T) {
	cacheRoot := t.TempDir()
	r := New(newTestSession(t, "http://unused"), cacheRoot, nil)
	r.Open(testWS)

	if !r.AtRoot() {
		t.Error("freshly opened view should be at the root")
	}
	if got := r.LocalPath(); got != filepath.Join(cacheRoot, "ws1") {
		t.Errorf("LocalPath = %q", got)
	}

	r.Enter(models.DirectorySummary{ID: "d1", Name: "drawings"})
	r.Enter(models.DirectorySummary{ID: "d2", Name: "sections"})
	if r.AtRoot() {
		t.Error("should not be at the root after Enter")
	}
	if got := r.LocalPath(); got != filepath.Join(cacheRoot, "ws1", "drawings", "sections") {
		t.Errorf("LocalPath = %q", got)
	}
	if got := r.CurrentDir().ID; got != "d2" {
		t.Errorf("CurrentDir = %q", got)
	}

	r.Up()
	if got := r.CurrentDir().ID; got != "d1" {
		t.Errorf("CurrentDir after Up = %q", got)
	}
	r.Up()
	r.Up() // extra Up at the root is a no-op
	if !r.AtRoot() {
		t.Error("should be back at the root")
	}
}

func TestMissingLocalDirIsEmpty(t *testing.T) {
	dirs := map[string]models.Directory{
		"root1": {
			ID:    "root1",
			Files: []models.FileSummary{serverFile("f1", "only.fcstd", time.Now().UnixMilli())},
		},
	}
	srv := dirServer(dirs)
	defer srv.Close()

	// The cache subtree for ws1 was never created.
	r := New(newTestSession(t, srv.URL), t.TempDir(), nil)
	r.Open(testWS)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	it, ok := r.Item("only.fcstd")
	if !ok || it.Status != models.StatusServerOnly {
		t.Errorf("item = %+v, %v", it, ok)
	}
}

func TestCompareTimes(t *testing.T) {
	if got := compareTimes(100, 100); got != models.StatusSynced {
		t.Errorf("equal = %v", got)
	}
	if got := compareTimes(200, 100); got != models.StatusLocalCopyOutdated {
		t.Errorf("server newer = %v", got)
	}
	if got := compareTimes(100, 200); got != models.StatusServerCopyOutdated {
		t.Errorf("local newer = %v", got)
	}
}
