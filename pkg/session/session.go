// Package session owns the authentication token lifecycle and connection
// state for the Lens client.
//
// It is the single seam through which the rest of the core talks to the
// backend: every call is routed through Dispatch, which maps taxonomy
// errors onto state transitions.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ondsel/lens-client/pkg/apierr"
	"github.com/ondsel/lens-client/pkg/logging"
	"github.com/ondsel/lens-client/pkg/models"
	"github.com/ondsel/lens-client/pkg/protocol"
	"github.com/ondsel/lens-client/pkg/transport"
)

// State is the connection state of the session.
type State int

const (
	LoggedOut State = iota
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "LoggedOut"
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// maxTimerMillis is the largest expiry delay the single-shot timer will
// accept. Beyond it the timer is simply not scheduled and the user is
// re-authenticated at the next action.
const maxTimerMillis = math.MaxInt32

// Manager owns the token, its expiration timer and the persisted
// credentials blob.
type Manager struct {
	client *transport.Client

	credsPath          string
	cacheDir           string
	clearCacheOnLogout bool

	mu        sync.Mutex
	state     State
	session   models.Session
	expiresAt time.Time
	timer     *time.Timer

	// onChange is invoked, without the lock held, after every state
	// transition. Set before use; typically the GUI's update hook.
	onChange func(State)
}

// Options configures a Manager.
type Options struct {
	Client             *transport.Client
	CredentialsPath    string
	CacheDir           string
	ClearCacheOnLogout bool
	OnStateChange      func(State)
}

// NewManager creates a session manager in the LoggedOut state.
func NewManager(opts Options) *Manager {
	return &Manager{
		client:             opts.Client,
		credsPath:          opts.CredentialsPath,
		cacheDir:           opts.CacheDir,
		clearCacheOnLogout: opts.ClearCacheOnLogout,
		state:              LoggedOut,
		onChange:           opts.OnStateChange,
	}
}

// Client returns the transport client the session routes calls through.
func (m *Manager) Client() *transport.Client {
	return m.client
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// User returns the current user summary; zero value when logged out.
func (m *Manager) User() models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.User
}

// Token returns the current access token, empty when logged out.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.AccessToken
}

// ExpiresAt returns the decoded token expiration instant.
func (m *Manager) ExpiresAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiresAt
}

// Login authenticates with email/password. On success the session
// transitions to Connected and the credentials blob is persisted.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	var resp protocol.LoginResponse
	err := m.client.Post(ctx, "/authentication", protocol.LoginRequest{
		Strategy: "local",
		Email:    email,
		Password: password,
	}, &resp, false)
	if err != nil {
		logging.Warn("login failed", logging.Err(err))
		return err
	}

	exp, err := decodeExpiry(resp.AccessToken)
	if err != nil {
		return fmt.Errorf("decode token: %w", err)
	}

	m.mu.Lock()
	m.session = models.Session{AccessToken: resp.AccessToken, User: resp.User}
	m.expiresAt = exp
	m.client.SetAuthToken(resp.AccessToken)
	m.scheduleExpiryLocked()
	m.setStateLocked(Connected)
	m.mu.Unlock()

	if err := m.saveCredentials(); err != nil {
		logging.Warn("persist credentials failed", logging.Err(err))
	}
	logging.Info("logged in",
		logging.String("user", resp.User.Username),
		logging.String("expires", exp.Format(time.RFC3339)))
	return nil
}

// Restore loads the persisted credentials blob and, when the token is
// still valid, resumes the session as Connected without a server round
// trip. Returns false when no usable credentials exist.
func (m *Manager) Restore() (bool, error) {
	data, err := os.ReadFile(m.credsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read credentials: %w", err)
	}

	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return false, fmt.Errorf("parse credentials: %w", err)
	}
	if sess.AccessToken == "" {
		return false, nil
	}

	exp, err := decodeExpiry(sess.AccessToken)
	if err != nil || !exp.After(time.Now()) {
		// Stale blob; drop it so the next start is clean.
		os.Remove(m.credsPath)
		return false, nil
	}

	m.mu.Lock()
	m.session = sess
	m.expiresAt = exp
	m.client.SetAuthToken(sess.AccessToken)
	m.scheduleExpiryLocked()
	m.setStateLocked(Connected)
	m.mu.Unlock()

	logging.Info("session restored", logging.String("user", sess.User.Username))
	return true, nil
}

// Logout revokes the token server-side (best effort), clears local
// state and optionally wipes the cache directory.
func (m *Manager) Logout(ctx context.Context) {
	if m.Token() != "" {
		if err := m.client.Delete(ctx, "/authentication"); err != nil {
			logging.Debug("server-side logout failed", logging.Err(err))
		}
	}
	m.forceLogout()
}

// forceLogout clears the token and transitions to LoggedOut from any state.
func (m *Manager) forceLogout() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.session = models.Session{}
	m.expiresAt = time.Time{}
	m.client.SetAuthToken("")
	clearCache := m.clearCacheOnLogout
	m.setStateLocked(LoggedOut)
	m.mu.Unlock()

	os.Remove(m.credsPath)
	if clearCache && m.cacheDir != "" {
		if err := os.RemoveAll(m.cacheDir); err != nil {
			logging.Warn("clear cache failed", logging.Err(err))
		} else {
			logging.Info("cache cleared", logging.String("dir", m.cacheDir))
		}
	}
	logging.Info("logged out")
}

// Dispatch runs fn and applies the resulting state transition. It
// returns true when the call left the user effectively disconnected
// (connection-kind failure or forced logout), plus the original error.
func (m *Manager) Dispatch(fn func() error) (bool, error) {
	err := fn()
	if err == nil {
		m.mu.Lock()
		if m.state == Disconnected {
			m.setStateLocked(Connected)
		}
		m.mu.Unlock()
		return false, nil
	}

	switch {
	case apierr.IsOffline(err):
		m.mu.Lock()
		if m.state == Connected {
			m.setStateLocked(Disconnected)
		}
		m.mu.Unlock()
		return true, err
	case isAuth(err):
		logging.Warn("authentication rejected, logging out")
		m.forceLogout()
		return true, err
	default:
		// Permission, not-found, general API and local IO failures are
		// non-fatal for the session.
		return false, err
	}
}

func isAuth(err error) bool {
	_, ok := apierr.AsAuth(err)
	return ok
}

// scheduleExpiryLocked arms the single-shot expiry timer. Delays past
// the 32-bit millisecond bound are not scheduled.
func (m *Manager) scheduleExpiryLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	delay := time.Until(m.expiresAt)
	if delay <= 0 {
		return
	}
	if delay.Milliseconds() > maxTimerMillis {
		logging.Debug("expiry too far out, timer not scheduled",
			logging.String("expires", m.expiresAt.Format(time.RFC3339)))
		return
	}

	m.timer = time.AfterFunc(delay, func() {
		logging.Info("token expired")
		m.forceLogout()
	})
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	old := m.state
	m.state = s
	logging.Info("session state",
		logging.String("from", old.String()), logging.String("to", s.String()))

	if m.onChange != nil {
		cb := m.onChange
		go cb(s)
	}
}

func (m *Manager) saveCredentials() error {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.credsPath), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.credsPath, data, 0600)
}

// decodeExpiry extracts the exp claim without verifying the signature;
// the client only needs the instant, the server enforces validity.
func decodeExpiry(token string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim")
	}
	return exp.Time, nil
}
