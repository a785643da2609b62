// Package sync implements the transfer operations between the local
// cache and the Lens service: uploads with commit messages, downloads of
// current or historical versions, deletes and directory management.
package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ondsel/lens-client/pkg/apierr"
	"github.com/ondsel/lens-client/pkg/logging"
	"github.com/ondsel/lens-client/pkg/models"
	"github.com/ondsel/lens-client/pkg/protocol"
	"github.com/ondsel/lens-client/pkg/registry"
	"github.com/ondsel/lens-client/pkg/session"
)

// Pre-transfer gate errors. The GUI turns ErrOverrideRequired into a
// confirmation dialog and retries with override set.
var (
	ErrOverrideRequired = errors.New("the other side is newer; override required")
	ErrUntracked        = errors.New("file is not tracked on the server")
	ErrNotLocal         = errors.New("file has no local copy")
	ErrServerOnly       = errors.New("operation requires a server-only file")
	ErrDirNotEmpty      = errors.New("directory is not empty")
)

// modelExts are extensions for which the service can derive a viewable
// model object after the initial commit.
var modelExts = map[string]bool{"fcstd": true, "obj": true}

// Stats counts engine activity.
type Stats struct {
	Uploads         atomic.Int64
	Downloads       atomic.Int64
	BytesUploaded   atomic.Int64
	BytesDownloaded atomic.Int64
	Deletes         atomic.Int64
	DirsCreated     atomic.Int64
	DirsDeleted     atomic.Int64
	Refreshes       atomic.Int64
	OfflineErrors   atomic.Int64
}

// Engine executes sync operations against the directory currently open
// in the registry. Every operation finishes with a registry refresh.
type Engine struct {
	sess      *session.Manager
	reg       *registry.Registry
	cacheRoot string

	Stats Stats
}

// NewEngine creates a sync engine.
func NewEngine(sess *session.Manager, reg *registry.Registry, cacheRoot string) *Engine {
	return &Engine{sess: sess, reg: reg, cacheRoot: cacheRoot}
}

// dispatch routes fn through the session and keeps the counters.
func (e *Engine) dispatch(fn func() error) error {
	disconnected, err := e.sess.Dispatch(fn)
	if disconnected {
		e.Stats.OfflineErrors.Add(1)
	}
	return err
}

// refresh re-reads the current directory view and counts it.
func (e *Engine) refresh(ctx context.Context) error {
	e.Stats.Refreshes.Add(1)
	return e.reg.Refresh(ctx)
}

// Upload commits the named local file: an initial commit when the server
// does not know it, a new version otherwise. The local mtime captured
// before streaming becomes the version's fileUpdatedAt, so an immediate
// refresh reports Synced.
func (e *Engine) Upload(ctx context.Context, name, message string, override bool) error {
	item, ok := e.reg.Item(name)
	if !ok {
		return fmt.Errorf("no such entry: %s", name)
	}
	if item.IsFolder {
		return fmt.Errorf("cannot upload a folder: %s", name)
	}
	if !item.OnDisk() {
		return ErrNotLocal
	}
	switch item.Status {
	case models.StatusSynced:
		return nil
	case models.StatusLocalCopyOutdated:
		if !override {
			return ErrOverrideRequired
		}
	}

	localPath := filepath.Join(e.reg.LocalPath(), name)
	info, err := os.Stat(localPath)
	if err != nil {
		return &apierr.LocalIOError{Op: "upload", Path: localPath, Err: err}
	}
	mtime := info.ModTime().UnixMilli()
	storageName := newStorageName(name)

	var upResp protocol.UploadResponse
	err = e.dispatch(func() error {
		if err := e.sess.Client().Upload(ctx, storageName, localPath, &upResp); err != nil {
			return err
		}
		return e.commit(ctx, item, name, storageName, message, mtime)
	})
	if err != nil {
		return err
	}

	e.Stats.Uploads.Add(1)
	e.Stats.BytesUploaded.Add(info.Size())
	logging.Info("uploaded",
		logging.String("name", name),
		logging.String("storage", storageName),
		logging.Int64("fileUpdatedAt", mtime))

	return e.refresh(ctx)
}

// commit registers the uploaded blob as a file version.
func (e *Engine) commit(ctx context.Context, item *models.FileItem, name, storageName, message string, mtime int64) error {
	dir := e.reg.CurrentDir()
	ws := e.reg.Workspace().Summary()
	version := protocol.CommitPayload{
		UniqueFileName: storageName,
		Message:        message,
		FileUpdatedAt:  mtime,
	}

	if item.ServerFile != nil {
		return e.sess.Client().Patch(ctx, "/files/"+item.ServerFile.ID, protocol.UpdateFileRequest{
			ShouldCommit: true,
			Version:      version,
			Directory:    dir,
			Workspace:    ws,
		}, nil)
	}

	return e.sess.Client().Post(ctx, "/files", protocol.CreateFileRequest{
		Name:          name,
		ShouldCommit:  true,
		Version:       version,
		Directory:     dir,
		Workspace:     ws,
		GenerateModel: modelExts[fileExt(name)],
	}, nil, true)
}

// Download fetches the current version of the named file into the cache
// directory.
func (e *Engine) Download(ctx context.Context, name string, override bool) error {
	item, ok := e.reg.Item(name)
	if !ok {
		return fmt.Errorf("no such entry: %s", name)
	}
	if item.ServerFile == nil || item.ServerFile.CurrentVersion == nil {
		return ErrUntracked
	}
	switch item.Status {
	case models.StatusSynced:
		return nil
	case models.StatusServerCopyOutdated:
		if !override {
			return ErrOverrideRequired
		}
	}
	return e.DownloadVersion(ctx, item, *item.ServerFile.CurrentVersion)
}

// DownloadVersion fetches a specific version of a file. After the bytes
// land, the local atime is set to the version's createdAt and the mtime
// to its authoritative timestamp, so the next refresh compares clean.
func (e *Engine) DownloadVersion(ctx context.Context, item *models.FileItem, version models.FileVersion) error {
	localPath := filepath.Join(e.reg.LocalPath(), item.Name)

	err := e.dispatch(func() error {
		var ref protocol.DownloadRef
		if err := e.sess.Client().Get(ctx, "/upload/"+version.UniqueFileName, nil, &ref); err != nil {
			return err
		}
		return e.fetchTo(ctx, ref.URL, localPath, &version)
	})
	if err != nil {
		return err
	}

	e.Stats.Downloads.Add(1)
	logging.Info("downloaded",
		logging.String("name", item.Name),
		logging.String("version", version.ID))

	return e.refresh(ctx)
}

// fetchTo streams url into path via a temp sibling, renames into place
// and applies the version's timestamps.
func (e *Engine) fetchTo(ctx context.Context, url, path string, version *models.FileVersion) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &apierr.LocalIOError{Op: "download", Path: path, Err: err}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return &apierr.LocalIOError{Op: "download", Path: tmp, Err: err}
	}

	if err := e.sess.Client().DownloadTo(ctx, url, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &apierr.LocalIOError{Op: "download", Path: tmp, Err: err}
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &apierr.LocalIOError{Op: "download", Path: path, Err: err}
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	atime := time.UnixMilli(version.CreatedAt)
	mtime := time.UnixMilli(version.AuthoritativeTime())
	if err := os.Chtimes(path, atime, mtime); err != nil {
		return &apierr.LocalIOError{Op: "set mtime", Path: path, Err: err}
	}

	e.Stats.BytesDownloaded.Add(size)
	return nil
}

// DeleteLocal removes only the local copy; permitted for any status
// other than ServerOnly.
func (e *Engine) DeleteLocal(ctx context.Context, name string) error {
	item, ok := e.reg.Item(name)
	if !ok {
		return fmt.Errorf("no such entry: %s", name)
	}
	if item.Status == models.StatusServerOnly {
		return ErrNotLocal
	}

	localPath := filepath.Join(e.reg.LocalPath(), name)
	if err := os.Remove(localPath); err != nil {
		return &apierr.LocalIOError{Op: "delete local", Path: localPath, Err: err}
	}
	e.Stats.Deletes.Add(1)
	return e.refresh(ctx)
}

// DeleteOnServer deletes the file server-side, including all versions,
// derived models and share links. Permitted only for ServerOnly files.
func (e *Engine) DeleteOnServer(ctx context.Context, name string) error {
	item, ok := e.reg.Item(name)
	if !ok {
		return fmt.Errorf("no such entry: %s", name)
	}
	if item.Status != models.StatusServerOnly || item.ServerFile == nil {
		return ErrServerOnly
	}

	err := e.dispatch(func() error {
		return e.sess.Client().Delete(ctx, "/files/"+item.ServerFile.ID)
	})
	if err != nil {
		return err
	}
	e.Stats.Deletes.Add(1)
	return e.refresh(ctx)
}

// CreateDirectory creates a directory on the server and mirrors it in
// the local cache.
func (e *Engine) CreateDirectory(ctx context.Context, name string) error {
	var created models.Directory
	err := e.dispatch(func() error {
		return e.sess.Client().Post(ctx, "/directories", protocol.CreateDirectoryRequest{
			Name:            name,
			ParentDirectory: e.reg.CurrentDir(),
			Workspace:       e.reg.Workspace().Summary(),
		}, &created, true)
	})
	if err != nil {
		return err
	}

	localPath := filepath.Join(e.reg.LocalPath(), name)
	if err := os.MkdirAll(localPath, 0755); err != nil {
		return &apierr.LocalIOError{Op: "mkdir", Path: localPath, Err: err}
	}

	e.Stats.DirsCreated.Add(1)
	logging.Info("directory created",
		logging.String("name", name), logging.String("id", created.ID))
	return e.refresh(ctx)
}

// DeleteDirectory removes a child directory, only when it is empty both
// locally and on the server.
func (e *Engine) DeleteDirectory(ctx context.Context, name string) error {
	item, ok := e.reg.Item(name)
	if !ok || !item.IsFolder {
		return fmt.Errorf("no such folder: %s", name)
	}

	localPath := filepath.Join(e.reg.LocalPath(), name)
	empty, err := locallyEmpty(localPath)
	if err != nil {
		return &apierr.LocalIOError{Op: "rmdir", Path: localPath, Err: err}
	}
	if !empty {
		return ErrDirNotEmpty
	}

	if item.ServerDir != nil {
		var listing models.Directory
		err := e.dispatch(func() error {
			return e.sess.Client().Get(ctx, "/directories/"+item.ServerDir.ID, nil, &listing)
		})
		if err != nil {
			return err
		}
		if len(listing.Files) > 0 || len(listing.Directories) > 0 {
			return ErrDirNotEmpty
		}
		if err := e.dispatch(func() error {
			return e.sess.Client().Delete(ctx, "/directories/"+item.ServerDir.ID)
		}); err != nil {
			return err
		}
	}

	// Hidden leftovers like .thumbnails go with the directory.
	if err := os.RemoveAll(localPath); err != nil {
		return &apierr.LocalIOError{Op: "rmdir", Path: localPath, Err: err}
	}

	e.Stats.DirsDeleted.Add(1)
	return e.refresh(ctx)
}

// BookmarkDir returns the download location for a bookmarked share link.
func (e *Engine) BookmarkDir(shareLinkID string) string {
	return filepath.Join(e.cacheRoot, "bookmarks", shareLinkID)
}

// DownloadBookmark fetches a shared file into the bookmark subtree.
func (e *Engine) DownloadBookmark(ctx context.Context, shareLinkID, url, fileName string) (string, error) {
	path := filepath.Join(e.BookmarkDir(shareLinkID), fileName)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", &apierr.LocalIOError{Op: "bookmark", Path: path, Err: err}
	}

	f, err := os.Create(path)
	if err != nil {
		return "", &apierr.LocalIOError{Op: "bookmark", Path: path, Err: err}
	}
	defer f.Close()

	err = e.dispatch(func() error {
		return e.sess.Client().DownloadTo(ctx, url, f)
	})
	if err != nil {
		os.Remove(path)
		return "", err
	}
	e.Stats.Downloads.Add(1)
	return path, nil
}

// locallyEmpty reports whether a directory holds nothing but hidden
// entries. A missing directory counts as empty.
func locallyEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			return false, nil
		}
	}
	return true, nil
}

// newStorageName generates a fresh opaque storage name carrying the
// source file's extension.
func newStorageName(name string) string {
	ext := fileExt(name)
	if ext == "" {
		return uuid.NewString()
	}
	return uuid.NewString() + "." + ext
}

// fileExt returns the lowercased extension without the dot.
func fileExt(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
