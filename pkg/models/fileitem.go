package models

// SyncStatus is the reconciliation verdict for one entry in a directory
// view.
type SyncStatus int

const (
	// StatusServerOnly means the file exists on the server but not in the
	// local cache.
	StatusServerOnly SyncStatus = iota
	// StatusLocalCopyOutdated means the server version is newer than the
	// local copy.
	StatusLocalCopyOutdated
	// StatusServerCopyOutdated means the local copy is newer than the
	// server version.
	StatusServerCopyOutdated
	// StatusSynced means the authoritative server timestamp equals the
	// local mtime on the millisecond grid.
	StatusSynced
	// StatusUntracked means the file exists only in the local cache.
	StatusUntracked
)

func (s SyncStatus) String() string {
	switch s {
	case StatusServerOnly:
		return "ServerOnly"
	case StatusLocalCopyOutdated:
		return "LocalCopyOutdated"
	case StatusServerCopyOutdated:
		return "ServerCopyOutdated"
	case StatusSynced:
		return "Synced"
	case StatusUntracked:
		return "Untracked"
	default:
		return "Unknown"
	}
}

// FileItem is the merged view of one entry in the current directory:
// what the server knows, what is on disk, and the derived status.
// Items are rebuilt from scratch on every refresh and are only valid
// until the next one.
type FileItem struct {
	Name     string
	Ext      string
	IsFolder bool

	// LocalPresent reports whether the entry exists in the cache
	// directory. LocalMtime is the on-disk modification time in ms and
	// is only meaningful for present files.
	LocalPresent bool
	LocalMtime   int64

	// ServerFile is set when the server lists this name; nil for purely
	// local items.
	ServerFile *FileSummary

	// ServerDir is set for folders known to the server.
	ServerDir *DirectorySummary

	Status SyncStatus
}

// OnServer reports whether the server knows this entry.
func (it *FileItem) OnServer() bool {
	return it.ServerFile != nil || it.ServerDir != nil
}

// OnDisk reports whether the entry exists in the local cache.
func (it *FileItem) OnDisk() bool {
	return it.LocalPresent
}
