// Package sharelink manages the share links attached to one file.
package sharelink

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/ondsel/lens-client/pkg/logging"
	"github.com/ondsel/lens-client/pkg/models"
	"github.com/ondsel/lens-client/pkg/protocol"
	"github.com/ondsel/lens-client/pkg/session"
)

// ErrActiveForbidsExport is returned when an edit would give an
// Active-following link an export or update capability. The server
// enforces the same rule; this is the client-side gate.
var ErrActiveForbidsExport = errors.New("a link following the active version cannot export or update")

// Model holds the share links of one file.
type Model struct {
	sess        *session.Manager
	fileID      string
	frontendURL string

	mu    sync.RWMutex
	links []models.ShareLink
}

// NewModel creates a share-link model for the given file.
func NewModel(sess *session.Manager, fileID, frontendURL string) *Model {
	return &Model{sess: sess, fileID: fileID, frontendURL: strings.TrimSuffix(frontendURL, "/")}
}

// Links returns the current list.
func (m *Model) Links() []models.ShareLink {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ShareLink, len(m.links))
	copy(out, m.links)
	return out
}

// URL returns the public frontend URL for a link.
func (m *Model) URL(link models.ShareLink) string {
	return m.frontendURL + "/share/" + link.ID
}

// Refresh fetches the file's share links from the server.
func (m *Model) Refresh(ctx context.Context) error {
	var list protocol.ShareLinkList
	q := url.Values{}
	q.Set("fileId", m.fileID)

	_, err := m.sess.Dispatch(func() error {
		return m.sess.Client().Get(ctx, "/shared-models", q, &list)
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.links = list.Data
	m.mu.Unlock()
	return nil
}

// Add creates a new link. Protection and version-following are fixed
// from here on; only capabilities, title/description and the active
// flag can change later.
func (m *Model) Add(ctx context.Context, req protocol.CreateShareLinkRequest) (models.ShareLink, error) {
	if req.VersionFollowing == models.FollowActive && req.Capabilities.HasExportOrUpdate() {
		return models.ShareLink{}, ErrActiveForbidsExport
	}
	req.FileID = m.fileID

	var created models.ShareLink
	_, err := m.sess.Dispatch(func() error {
		return m.sess.Client().Post(ctx, "/shared-models", req, &created, true)
	})
	if err != nil {
		return models.ShareLink{}, err
	}

	logging.Info("share link created", logging.String("id", created.ID))
	return created, m.Refresh(ctx)
}

// Update edits the mutable fields of a link.
func (m *Model) Update(ctx context.Context, id string, req protocol.UpdateShareLinkRequest) error {
	link, ok := m.find(id)
	if !ok {
		return fmt.Errorf("no such share link: %s", id)
	}
	if link.VersionFollowing == models.FollowActive &&
		req.Capabilities != nil && req.Capabilities.HasExportOrUpdate() {
		return ErrActiveForbidsExport
	}

	_, err := m.sess.Dispatch(func() error {
		return m.sess.Client().Patch(ctx, "/shared-models/"+id, req, nil)
	})
	if err != nil {
		return err
	}
	return m.Refresh(ctx)
}

// Delete removes a link.
func (m *Model) Delete(ctx context.Context, id string) error {
	_, err := m.sess.Dispatch(func() error {
		return m.sess.Client().Delete(ctx, "/shared-models/"+id)
	})
	if err != nil {
		return err
	}
	return m.Refresh(ctx)
}

func (m *Model) find(id string) (models.ShareLink, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.links {
		if l.ID == id {
			return l, true
		}
	}
	return models.ShareLink{}, false
}
