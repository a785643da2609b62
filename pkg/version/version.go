// Package version lists a file's history: server versions for tracked
// files, sibling backup files for purely local ones.
package version

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ondsel/lens-client/pkg/models"
	"github.com/ondsel/lens-client/pkg/protocol"
	"github.com/ondsel/lens-client/pkg/session"
)

// Entry is one displayable row of the version list.
type Entry struct {
	Version models.FileVersion
	Author  string
	Active  bool
	// OnDisk is true when the local file's mtime equals this version's
	// authoritative timestamp.
	OnDisk bool
}

// ServerModel lists the history of a server-backed file, newest first.
type ServerModel struct {
	sess      *session.Manager
	fileID    string
	localPath string // local copy, may not exist

	mu      sync.RWMutex
	file    models.File
	entries []Entry
}

// NewServerModel creates a version model for the file with the given id.
// localPath points at the cache location of the file's local copy.
func NewServerModel(sess *session.Manager, fileID, localPath string) *ServerModel {
	return &ServerModel{sess: sess, fileID: fileID, localPath: localPath}
}

// File returns the last fetched file entity.
func (m *ServerModel) File() models.File {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.file
}

// Entries returns the version list, newest first.
func (m *ServerModel) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Refresh fetches the file with its full version history and recomputes
// the derived flags.
func (m *ServerModel) Refresh(ctx context.Context) error {
	var file models.File
	_, err := m.sess.Dispatch(func() error {
		return m.sess.Client().Get(ctx, "/files/"+m.fileID, nil, &file)
	})
	if err != nil {
		return err
	}

	var diskMtime int64
	if info, statErr := os.Stat(m.localPath); statErr == nil {
		diskMtime = info.ModTime().UnixMilli()
	}

	entries := make([]Entry, 0, len(file.Versions))
	for _, v := range file.Versions {
		entries = append(entries, Entry{
			Version: v,
			Author:  v.UserID,
			Active:  v.ID == file.CurrentVersionID,
			OnDisk:  diskMtime != 0 && diskMtime == v.AuthoritativeTime(),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Version.CreatedAt > entries[j].Version.CreatedAt
	})

	m.mu.Lock()
	m.file = file
	m.entries = entries
	m.mu.Unlock()
	return nil
}

// SetActive re-points the server's current-version pointer to the given
// historical version, then refreshes.
func (m *ServerModel) SetActive(ctx context.Context, versionID string) error {
	_, err := m.sess.Dispatch(func() error {
		return m.sess.Client().Patch(ctx, "/files/"+m.fileID, protocol.SetActiveVersionRequest{
			ShouldCheckout: true,
			VersionID:      versionID,
		}, nil)
	})
	if err != nil {
		return err
	}
	return m.Refresh(ctx)
}

// backupExts mark sibling files as backups of a main document.
var backupExts = map[string]bool{"fcbak": true}

// BackupEntry is one local backup file presented as a version.
type BackupEntry struct {
	Path      string
	Name      string
	CreatedAt time.Time
}

// CreationDateFn extracts a creation date from inside a backup file.
// Returning false falls back to the filesystem mtime.
type CreationDateFn func(path string) (time.Time, bool)

// LocalModel lists backups of a purely local file.
type LocalModel struct {
	mainPath     string
	creationDate CreationDateFn
}

// NewLocalModel creates a backup list for the file at mainPath.
// creationDate may be nil.
func NewLocalModel(mainPath string, creationDate CreationDateFn) *LocalModel {
	return &LocalModel{mainPath: mainPath, creationDate: creationDate}
}

// Scan reads the containing directory for sibling backups of the main
// file, newest first.
func (m *LocalModel) Scan() ([]BackupEntry, error) {
	dir := filepath.Dir(m.mainPath)
	base := strings.TrimSuffix(filepath.Base(m.mainPath), filepath.Ext(m.mainPath))

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var backups []BackupEntry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
		if !backupExts[ext] {
			continue
		}
		if strings.TrimSuffix(name, filepath.Ext(name)) != base {
			continue
		}

		path := filepath.Join(dir, name)
		created, ok := time.Time{}, false
		if m.creationDate != nil {
			created, ok = m.creationDate(path)
		}
		if !ok {
			info, err := de.Info()
			if err != nil {
				continue
			}
			created = info.ModTime()
		}
		backups = append(backups, BackupEntry{Path: path, Name: name, CreatedAt: created})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}
