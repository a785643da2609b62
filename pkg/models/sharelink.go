package models

// ProtectionMode controls who can resolve a share link.
type ProtectionMode string

const (
	ProtectionListed   ProtectionMode = "Listed"
	ProtectionUnlisted ProtectionMode = "Unlisted"
	ProtectionPin      ProtectionMode = "Pin"
)

// VersionFollowing controls which version a share link serves.
type VersionFollowing string

const (
	// FollowLocked pins the link to the version observed at creation.
	FollowLocked VersionFollowing = "Locked"
	// FollowActive tracks the file's current-version pointer.
	FollowActive VersionFollowing = "Active"
)

// Capabilities is the per-link permission set. Only this set, the
// title/description and the active flag may change after creation.
type Capabilities struct {
	CanViewModel           bool `json:"canViewModel"`
	CanViewModelAttributes bool `json:"canViewModelAttributes"`
	CanUpdateModel         bool `json:"canUpdateModel"`
	CanExportFCStd         bool `json:"canExportFCStd"`
	CanExportSTEP          bool `json:"canExportSTEP"`
	CanExportSTL           bool `json:"canExportSTL"`
	CanExportOBJ           bool `json:"canExportOBJ"`
	CanDownloadDefault     bool `json:"canDownloadDefaultModel"`
}

// HasExportOrUpdate reports whether any capability is set that an
// Active-following link must not carry.
func (c Capabilities) HasExportOrUpdate() bool {
	return c.CanUpdateModel || c.CanExportFCStd || c.CanExportSTEP ||
		c.CanExportSTL || c.CanExportOBJ || c.CanDownloadDefault
}

// ShareLink is a URL-addressable, permission-scoped view of a file or a
// specific version. Protection and version-following are fixed at
// creation; the server is authoritative.
type ShareLink struct {
	ID               string           `json:"_id"`
	FileID           string           `json:"fileId"`
	VersionID        string           `json:"versionId,omitempty"`
	Title            string           `json:"title"`
	Description      string           `json:"description,omitempty"`
	Protection       ProtectionMode   `json:"protection"`
	VersionFollowing VersionFollowing `json:"versionFollowing"`
	Capabilities     Capabilities     `json:"capabilities"`
	IsActive         bool             `json:"isActive"`
	CreatedAt        int64            `json:"createdAt"` // ms
}
