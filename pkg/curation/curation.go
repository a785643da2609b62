// Package curation provides the flat list models for search results and
// promoted items.
package curation

import (
	"context"
	"net/url"
	"sync"

	"github.com/ondsel/lens-client/pkg/models"
	"github.com/ondsel/lens-client/pkg/protocol"
	"github.com/ondsel/lens-client/pkg/session"
)

// SearchModel holds the results of the last search.
type SearchModel struct {
	sess        *session.Manager
	frontendURL string

	mu      sync.RWMutex
	results []models.Curation
}

// NewSearchModel creates a search model.
func NewSearchModel(sess *session.Manager, frontendURL string) *SearchModel {
	return &SearchModel{sess: sess, frontendURL: frontendURL}
}

// Results returns the last search's results.
func (m *SearchModel) Results() []models.Curation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Curation, len(m.results))
	copy(out, m.results)
	return out
}

// Search queries the public keyword index and replaces the result list.
func (m *SearchModel) Search(ctx context.Context, text string) error {
	q := url.Values{}
	q.Set("text", text)

	var list protocol.CurationList
	_, err := m.sess.Dispatch(func() error {
		return m.sess.Client().Get(ctx, "/keywords", q, &list)
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.results = list.Data
	m.mu.Unlock()
	return nil
}

// URL synthesizes the web URL for one result.
func (m *SearchModel) URL(c models.Curation) string {
	return c.Nav.URL(m.frontendURL)
}

// PromotedModel lists the items an organization promotes.
type PromotedModel struct {
	sess        *session.Manager
	orgID       string
	frontendURL string

	mu    sync.RWMutex
	items []models.Promotion
}

// NewPromotedModel creates a promotion model for the given organization.
func NewPromotedModel(sess *session.Manager, orgID, frontendURL string) *PromotedModel {
	return &PromotedModel{sess: sess, orgID: orgID, frontendURL: frontendURL}
}

// Items returns the promoted items.
func (m *PromotedModel) Items() []models.Promotion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Promotion, len(m.items))
	copy(out, m.items)
	return out
}

// Refresh fetches the organization's promotion metadata.
func (m *PromotedModel) Refresh(ctx context.Context) error {
	var org protocol.OrganizationResponse
	_, err := m.sess.Dispatch(func() error {
		return m.sess.Client().Get(ctx, "/organizations/"+m.orgID, nil, &org)
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.items = org.Promotions
	m.mu.Unlock()
	return nil
}

// URL synthesizes the web URL for one promoted item.
func (m *PromotedModel) URL(p models.Promotion) string {
	return p.Curation.Nav.URL(m.frontendURL)
}
