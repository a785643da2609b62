// Package registry is the reconciliation engine: the merged view of one
// directory inside one workspace, built from a server listing and a scan
// of the mapped cache directory.
package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ondsel/lens-client/pkg/logging"
	"github.com/ondsel/lens-client/pkg/models"
	"github.com/ondsel/lens-client/pkg/session"
)

// backupExt marks backup-only files excluded from the view
// (case-insensitive match, no leading dot).
const backupExt = "fcbak"

// ErrNoWorkspace is returned by Refresh when no workspace has been
// opened yet.
var ErrNoWorkspace = errors.New("registry: no workspace open")

// Registry reconciles the current directory of one workspace. All
// methods are called from the application thread; the lock only guards
// the published item slice against the GUI reading mid-replace.
type Registry struct {
	sess      *session.Manager
	cacheRoot string

	mu        sync.RWMutex
	workspace models.Workspace
	stack     []models.DirectorySummary // path from root; stack[0] is the root dir
	listing   *models.Directory         // last server listing, nil when offline
	items     []*models.FileItem

	// onChange is the layout-changed signal consumed by the GUI; invoked
	// after every successful view replace.
	onChange func()
}

// New creates a registry rooted at cacheRoot (the cache directory; one
// subtree per workspace is created beneath it).
func New(sess *session.Manager, cacheRoot string, onChange func()) *Registry {
	return &Registry{sess: sess, cacheRoot: cacheRoot, onChange: onChange}
}

// Open selects a workspace and resets the directory stack to its root.
func (r *Registry) Open(ws models.Workspace) {
	r.mu.Lock()
	r.workspace = ws
	r.stack = []models.DirectorySummary{{ID: ws.RootDirectoryID, Name: ""}}
	r.listing = nil
	r.items = nil
	r.mu.Unlock()
}

// Workspace returns the currently open workspace.
func (r *Registry) Workspace() models.Workspace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workspace
}

// Enter pushes a child directory onto the path stack.
func (r *Registry) Enter(dir models.DirectorySummary) {
	r.mu.Lock()
	r.stack = append(r.stack, dir)
	r.mu.Unlock()
}

// Up pops the current directory; a no-op at the workspace root.
func (r *Registry) Up() {
	r.mu.Lock()
	if len(r.stack) > 1 {
		r.stack = r.stack[:len(r.stack)-1]
	}
	r.mu.Unlock()
}

// AtRoot reports whether the view is at the workspace root.
func (r *Registry) AtRoot() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stack) <= 1
}

// CurrentDir returns the summary of the directory currently shown.
func (r *Registry) CurrentDir() models.DirectorySummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.stack) == 0 {
		return models.DirectorySummary{}
	}
	return r.stack[len(r.stack)-1]
}

// Listing returns the last server listing, nil when the last refresh
// could not reach the server.
func (r *Registry) Listing() *models.Directory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listing
}

// LocalPath returns the cache directory mapped to the current view:
// cacheRoot/{workspace-id}/ followed by the directory names on the stack.
func (r *Registry) LocalPath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.localPathLocked()
}

func (r *Registry) localPathLocked() string {
	parts := []string{r.cacheRoot, r.workspace.ID}
	for _, d := range r.stack[1:] {
		parts = append(parts, d.Name)
	}
	return filepath.Join(parts...)
}

// Items returns the current view. The slice and its items are replaced
// wholesale on the next refresh.
func (r *Registry) Items() []*models.FileItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.items
}

// Item returns the entry with the given name in the current view.
func (r *Registry) Item(name string) (*models.FileItem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, it := range r.items {
		if it.Name == name {
			return it, true
		}
	}
	return nil, false
}

// Refresh fetches the server listing for the current directory, merges
// it with a filesystem scan of the mapped cache directory, and replaces
// the view atomically. On a server failure the view degrades to the
// local scan only and the error is returned.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.RLock()
	if len(r.stack) == 0 {
		r.mu.RUnlock()
		return ErrNoWorkspace
	}
	dirID := r.stack[len(r.stack)-1].ID
	localPath := r.localPathLocked()
	r.mu.RUnlock()

	var listing models.Directory
	var haveListing bool
	_, err := r.sess.Dispatch(func() error {
		if err := r.sess.Client().Get(ctx, "/directories/"+dirID, nil, &listing); err != nil {
			return err
		}
		haveListing = true
		return nil
	})
	if err != nil {
		logging.Warn("directory fetch failed, local view only",
			logging.String("dir", dirID), logging.Err(err))
	}

	localDirs, localFiles, scanErr := scanLocal(localPath)
	if scanErr != nil {
		logging.Debug("local scan failed", logging.String("path", localPath), logging.Err(scanErr))
	}

	items := merge(&listing, haveListing, localDirs, localFiles)

	r.mu.Lock()
	if haveListing {
		r.listing = &listing
	} else {
		r.listing = nil
	}
	r.items = items
	r.mu.Unlock()

	if r.onChange != nil {
		r.onChange()
	}
	return err
}

// localFile is one entry from the filesystem scan.
type localFile struct {
	name  string
	mtime int64 // ms
}

// scanLocal lists the mapped cache directory: subdirectories excluding
// hidden ones, and files with their mtimes, excluding backup files.
func scanLocal(path string) (dirs []string, files []localFile, err error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if strings.HasPrefix(name, ".") {
				continue // .thumbnails and friends
			}
			dirs = append(dirs, name)
			continue
		}
		if strings.EqualFold(fileExt(name), backupExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, localFile{name: name, mtime: info.ModTime().UnixMilli()})
	}
	return dirs, files, nil
}

// merge builds the FileItem view per the reconciliation rules: all
// directories from both sides appear first, then files with a status
// derived from comparing the server's authoritative timestamp against
// the local mtime. Name is the single merge and sort key.
func merge(listing *models.Directory, haveListing bool, localDirs []string, localFiles []localFile) []*models.FileItem {
	serverDirs := make(map[string]models.DirectorySummary)
	serverFiles := make(map[string]models.FileSummary)
	if haveListing {
		for _, d := range listing.Directories {
			serverDirs[d.Name] = d
		}
		for _, f := range listing.Files {
			serverFiles[f.Name] = f
		}
	}

	dirNames := make(map[string]bool)
	var folders []*models.FileItem
	for name, d := range serverDirs {
		ds := d
		folders = append(folders, &models.FileItem{
			Name:      name,
			IsFolder:  true,
			ServerDir: &ds,
		})
		dirNames[name] = true
	}
	for _, name := range localDirs {
		if dirNames[name] {
			for _, it := range folders {
				if it.Name == name {
					it.LocalPresent = true
				}
			}
			continue
		}
		folders = append(folders, &models.FileItem{
			Name:         name,
			IsFolder:     true,
			LocalPresent: true,
		})
		dirNames[name] = true
	}

	var files []*models.FileItem
	seen := make(map[string]bool)
	for _, lf := range localFiles {
		if dirNames[lf.name] {
			continue // a folder of the same name wins the slot
		}
		seen[lf.name] = true
		item := &models.FileItem{
			Name:         lf.name,
			Ext:          fileExt(lf.name),
			LocalPresent: true,
			LocalMtime:   lf.mtime,
			Status:       models.StatusUntracked,
		}
		if sf, ok := serverFiles[lf.name]; ok {
			f := sf
			item.ServerFile = &f
			item.Status = compareTimes(authoritativeTime(&f), lf.mtime)
		}
		files = append(files, item)
	}
	for name, sf := range serverFiles {
		if seen[name] || dirNames[name] {
			continue
		}
		f := sf
		files = append(files, &models.FileItem{
			Name:       name,
			Ext:        fileExt(name),
			ServerFile: &f,
			Status:     models.StatusServerOnly,
		})
	}

	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return append(folders, files...)
}

// compareTimes derives the status from the server's authoritative
// timestamp and the local mtime, both in integer milliseconds. Equality
// means Synced; there is no tolerance window.
func compareTimes(serverMs, localMs int64) models.SyncStatus {
	switch {
	case serverMs < localMs:
		return models.StatusServerCopyOutdated
	case serverMs > localMs:
		return models.StatusLocalCopyOutdated
	default:
		return models.StatusSynced
	}
}

// authoritativeTime resolves a file summary's comparison timestamp from
// its current version.
func authoritativeTime(f *models.FileSummary) int64 {
	if f.CurrentVersion == nil {
		return 0
	}
	return f.CurrentVersion.AuthoritativeTime()
}

// fileExt returns the lowercased extension without the dot.
func fileExt(name string) string {
	ext := filepath.Ext(name)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
