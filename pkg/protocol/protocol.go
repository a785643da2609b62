// Package protocol defines the wire request/response types for the Lens API.
package protocol

import "github.com/ondsel/lens-client/pkg/models"

// LoginRequest is the body for POST /authentication.
type LoginRequest struct {
	Strategy string `json:"strategy"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /authentication.
type LoginResponse struct {
	AccessToken string      `json:"accessToken"`
	User        models.User `json:"user"`
}

// WorkspaceList is the paginated response of GET /workspaces.
type WorkspaceList struct {
	Total int                `json:"total"`
	Limit int                `json:"limit"`
	Skip  int                `json:"skip"`
	Data  []models.Workspace `json:"data"`
}

// CreateDirectoryRequest is the body for POST /directories.
type CreateDirectoryRequest struct {
	Name            string                  `json:"name"`
	ParentDirectory models.DirectorySummary `json:"parentDirectory"`
	Workspace       models.WorkspaceSummary `json:"workspace"`
}

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	URL            string `json:"url"`
	UniqueFileName string `json:"uniqueFileName"`
}

// DownloadRef is returned by GET /upload/{storage-name}; the blob is then
// fetched with a direct GET of URL.
type DownloadRef struct {
	URL string `json:"url"`
}

// CommitPayload is the version payload shared by file create and update.
type CommitPayload struct {
	UniqueFileName string `json:"uniqueFileName"`
	Message        string `json:"message,omitempty"`
	FileUpdatedAt  int64  `json:"fileUpdatedAt"` // ms
}

// CreateFileRequest is the body for POST /files (initial commit).
type CreateFileRequest struct {
	Name          string                  `json:"custFileName"`
	ShouldCommit  bool                    `json:"shouldCommitNewVersion"`
	Version       CommitPayload           `json:"version"`
	Directory     models.DirectorySummary `json:"directory"`
	Workspace     models.WorkspaceSummary `json:"workspace"`
	GenerateModel bool                    `json:"shouldGenerateModel,omitempty"`
}

// UpdateFileRequest is the body for PATCH /files/{id} (new version).
type UpdateFileRequest struct {
	ShouldCommit bool                    `json:"shouldCommitNewVersion"`
	Version      CommitPayload           `json:"version"`
	Directory    models.DirectorySummary `json:"directory"`
	Workspace    models.WorkspaceSummary `json:"workspace"`
}

// SetActiveVersionRequest re-points the file's current-version pointer.
type SetActiveVersionRequest struct {
	ShouldCheckout bool   `json:"shouldCheckoutToVersion"`
	VersionID      string `json:"versionId"`
}

// CreateShareLinkRequest is the body for POST /shared-models.
type CreateShareLinkRequest struct {
	FileID           string                  `json:"fileId"`
	Title            string                  `json:"title"`
	Description      string                  `json:"description,omitempty"`
	Protection       models.ProtectionMode   `json:"protection"`
	VersionFollowing models.VersionFollowing `json:"versionFollowing"`
	Capabilities     models.Capabilities     `json:"capabilities"`
}

// UpdateShareLinkRequest is the body for PATCH /shared-models/{id}.
// Protection and version-following are fixed at creation and deliberately
// absent here.
type UpdateShareLinkRequest struct {
	Title        *string              `json:"title,omitempty"`
	Description  *string              `json:"description,omitempty"`
	Capabilities *models.Capabilities `json:"capabilities,omitempty"`
	IsActive     *bool                `json:"isActive,omitempty"`
}

// ShareLinkList is the paginated response of GET /shared-models.
type ShareLinkList struct {
	Total int                `json:"total"`
	Limit int                `json:"limit"`
	Skip  int                `json:"skip"`
	Data  []models.ShareLink `json:"data"`
}

// CurationList is the response shape for search results.
type CurationList struct {
	Total int               `json:"total"`
	Data  []models.Curation `json:"data"`
}

// OrganizationResponse is returned by GET /organizations/{id}.
type OrganizationResponse struct {
	ID         string             `json:"_id"`
	Name       string             `json:"name"`
	RefName    string             `json:"refName"`
	Type       models.OrgType     `json:"type"`
	Promotions []models.Promotion `json:"promotions,omitempty"`
}

// ErrorResponse is the body the service sends on API errors.
type ErrorResponse struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}
