// Package workspace maintains the list of workspaces available to the
// current user, with an offline snapshot fallback.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/ondsel/lens-client/pkg/logging"
	"github.com/ondsel/lens-client/pkg/models"
	"github.com/ondsel/lens-client/pkg/protocol"
	"github.com/ondsel/lens-client/pkg/session"
)

// SnapshotName is the snapshot file written into the cache root.
const SnapshotName = "workspaceList.json"

// pageSize is the $limit sent with each workspaces page.
const pageSize = 50

// Model holds the in-memory workspace list.
type Model struct {
	sess     *session.Manager
	cacheDir string

	mu   sync.RWMutex
	list []models.Workspace
}

// NewModel creates a workspace list model backed by the session.
func NewModel(sess *session.Manager, cacheDir string) *Model {
	return &Model{sess: sess, cacheDir: cacheDir}
}

// List returns the current workspace list.
func (m *Model) List() []models.Workspace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Workspace, len(m.list))
	copy(out, m.list)
	return out
}

// Get returns the workspace with the given id.
func (m *Model) Get(id string) (models.Workspace, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ws := range m.list {
		if ws.ID == id {
			return ws, true
		}
	}
	return models.Workspace{}, false
}

// Refresh fetches the workspace list. On success the in-memory list is
// replaced and a snapshot written; on any failure the last snapshot is
// read back, so the list is never empty while a snapshot exists.
func (m *Model) Refresh(ctx context.Context) error {
	var fetched []models.Workspace

	disconnected, err := m.sess.Dispatch(func() error {
		var err error
		fetched, err = m.fetchAll(ctx)
		return err
	})
	if err != nil {
		if disconnected {
			logging.Warn("workspace fetch failed, using snapshot", logging.Err(err))
		}
		if snap, snapErr := m.readSnapshot(); snapErr == nil {
			m.mu.Lock()
			m.list = snap
			m.mu.Unlock()
		}
		return err
	}

	m.mu.Lock()
	m.list = fetched
	m.mu.Unlock()

	if err := m.writeSnapshot(fetched); err != nil {
		logging.Warn("workspace snapshot write failed", logging.Err(err))
	}
	logging.Debug("workspaces refreshed", logging.Int("count", len(fetched)))
	return nil
}

// fetchAll pages through GET /workspaces until the reported total is
// reached.
func (m *Model) fetchAll(ctx context.Context) ([]models.Workspace, error) {
	var all []models.Workspace
	skip := 0
	for {
		q := url.Values{}
		q.Set("$limit", strconv.Itoa(pageSize))
		q.Set("$skip", strconv.Itoa(skip))

		var page protocol.WorkspaceList
		if err := m.sess.Client().Get(ctx, "/workspaces", q, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		skip += len(page.Data)
		if skip >= page.Total || len(page.Data) == 0 {
			break
		}
	}
	return all, nil
}

func (m *Model) snapshotPath() string {
	return filepath.Join(m.cacheDir, SnapshotName)
}

// writeSnapshot persists the list atomically (temp file then rename).
func (m *Model) writeSnapshot(list []models.Workspace) error {
	if err := os.MkdirAll(m.cacheDir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.snapshotPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, m.snapshotPath()); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (m *Model) readSnapshot() ([]models.Workspace, error) {
	data, err := os.ReadFile(m.snapshotPath())
	if err != nil {
		return nil, err
	}
	var list []models.Workspace
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return list, nil
}
