package models

import "strings"

// NavTarget names the collection a NavRef points into.
type NavTarget string

const (
	NavWorkspaces NavTarget = "workspaces"
	NavUsers      NavTarget = "users"
	NavOrgs       NavTarget = "organizations"
	NavShareLinks NavTarget = "share-links"
)

// NavRef carries enough identifiers to synthesize a web URL for a
// curated or promoted item.
type NavRef struct {
	Target       NavTarget `json:"target"`
	Username     string    `json:"username,omitempty"`
	OrgName      string    `json:"orgname,omitempty"`
	WorkspaceRef string    `json:"wsname,omitempty"`
	ShareLinkID  string    `json:"sharelinkid,omitempty"`
}

// URL synthesizes the frontend URL for the referenced item.
func (n NavRef) URL(frontendBase string) string {
	base := strings.TrimSuffix(frontendBase, "/")
	switch n.Target {
	case NavWorkspaces:
		owner := n.Username
		if owner == "" {
			owner = n.OrgName
		}
		return base + "/user/" + owner + "/workspace/" + n.WorkspaceRef
	case NavUsers:
		return base + "/user/" + n.Username
	case NavOrgs:
		return base + "/org/" + n.OrgName
	case NavShareLinks:
		return base + "/share/" + n.ShareLinkID
	default:
		return base
	}
}

// Curation is the display-layer projection of a searchable item.
type Curation struct {
	ID          string   `json:"_id"`
	Collection  string   `json:"collection"`
	Name        string   `json:"name"`
	Slug        string   `json:"slug,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Nav         NavRef   `json:"nav"`
}

// Promotion is a curated item surfaced on an organization's page, with
// the promoter's notes.
type Promotion struct {
	Notes    string   `json:"notes,omitempty"`
	Curation Curation `json:"curation"`
}
