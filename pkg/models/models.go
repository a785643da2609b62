// Package models contains the domain entities shared by the client core.
package models

// OrgType classifies the organization owning a workspace.
type OrgType string

const (
	OrgPersonal OrgType = "Personal"
	OrgOpen     OrgType = "Open"
	OrgPrivate  OrgType = "Private"
	OrgOndsel   OrgType = "Ondsel"
)

// User is the current-user summary returned by the authentication endpoint.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

// OrganizationSummary identifies the organization owning a workspace.
type OrganizationSummary struct {
	ID      string  `json:"_id"`
	Name    string  `json:"name"`
	RefName string  `json:"refName"`
	Type    OrgType `json:"type"`
}

// Workspace is a named container of directories and files. The client
// treats workspaces as read-only descriptors.
type Workspace struct {
	ID              string              `json:"_id"`
	Name            string              `json:"name"`
	RefName         string              `json:"refName"`
	Description     string              `json:"description,omitempty"`
	Organization    OrganizationSummary `json:"organization"`
	RootDirectoryID string              `json:"rootDirectory"`
}

// WorkspaceSummary is the compact form sent with file operations.
type WorkspaceSummary struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	RefName string `json:"refName"`
}

// Summary returns the compact form of a workspace.
func (w Workspace) Summary() WorkspaceSummary {
	return WorkspaceSummary{ID: w.ID, Name: w.Name, RefName: w.RefName}
}

// DirectorySummary identifies a child directory inside a listing.
type DirectorySummary struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// Directory is a server-managed folder within a workspace. Children are
// summaries, not fully populated entities.
type Directory struct {
	ID                string             `json:"_id"`
	Name              string             `json:"name"`
	ParentDirectoryID string             `json:"parentDirectory,omitempty"`
	WorkspaceID       string             `json:"workspace"`
	Files             []FileSummary      `json:"files"`
	Directories       []DirectorySummary `json:"directories"`
}

// Summary returns the compact form of a directory.
func (d Directory) Summary() DirectorySummary {
	return DirectorySummary{ID: d.ID, Name: d.Name}
}

// VersionData carries per-version metadata recorded at commit time.
// FileUpdatedAt is the modification time (ms) of the source file at the
// moment of that commit.
type VersionData struct {
	FileUpdatedAt int64 `json:"fileUpdatedAt,omitempty"`
}

// FileVersion is an immutable snapshot of a file's bytes.
type FileVersion struct {
	ID             string      `json:"_id"`
	UniqueFileName string      `json:"uniqueFileName"`
	UserID         string      `json:"userId,omitempty"`
	Message        string      `json:"message,omitempty"`
	CreatedAt      int64       `json:"createdAt"` // ms
	AdditionalData VersionData `json:"additionalData"`
}

// AuthoritativeTime returns the timestamp used for local/server
// comparison: fileUpdatedAt when recorded, else createdAt.
func (v *FileVersion) AuthoritativeTime() int64 {
	if v.AdditionalData.FileUpdatedAt != 0 {
		return v.AdditionalData.FileUpdatedAt
	}
	return v.CreatedAt
}

// FileSummary is the per-file entry inside a directory listing.
type FileSummary struct {
	ID             string       `json:"_id"`
	Name           string       `json:"custFileName"`
	CurrentVersion *FileVersion `json:"currentVersion,omitempty"`
}

// File is a named artifact with an ordered version history.
type File struct {
	ID               string        `json:"_id"`
	Name             string        `json:"custFileName"`
	DirectoryID      string        `json:"directory"`
	WorkspaceID      string        `json:"workspace"`
	CurrentVersionID string        `json:"currentVersionId"`
	Versions         []FileVersion `json:"versions"`
	ModelID          string        `json:"modelId,omitempty"`
}

// CurrentVersion returns the version the current-version pointer refers
// to, or nil when the pointer is dangling.
func (f *File) CurrentVersion() *FileVersion {
	for i := range f.Versions {
		if f.Versions[i].ID == f.CurrentVersionID {
			return &f.Versions[i]
		}
	}
	return nil
}

// Session is the client-side representation of an authenticated user.
// Persisted as a single JSON blob and reloaded at startup.
type Session struct {
	AccessToken string `json:"accessToken"`
	User        User   `json:"user"`
}
