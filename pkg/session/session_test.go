package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ondsel/lens-client/pkg/apierr"
	"github.com/ondsel/lens-client/pkg/retry"
	"github.com/ondsel/lens-client/pkg/transport"
)

// makeToken builds an unsigned JWT with the given expiry; the client only
// reads the exp claim and never verifies signatures.
func makeToken(t *testing.T, exp time.Time) string {
	t.Helper()
	enc := func(v interface{}) string {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		return base64.RawURLEncoding.EncodeToString(data)
	}
	header := enc(map[string]string{"alg": "HS256", "typ": "JWT"})
	claims := enc(map[string]int64{"exp": exp.Unix()})
	return header + "." + claims + ".c2ln"
}

func newTestManager(t *testing.T, baseURL string) *Manager {
	t.Helper()
	client := transport.New(transport.Config{
		BaseURL:     baseURL,
		RetryConfig: retry.Config{MaxAttempts: 1, InitialWait: time.Millisecond},
	})
	return NewManager(Options{
		Client:          client,
		CredentialsPath: filepath.Join(t.TempDir(), "session.json"),
	})
}

func loginHandler(t *testing.T, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/authentication" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req struct {
			Strategy string `json:"strategy"`
			Email    string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode login body: %v", err)
		}
		if req.Strategy != "local" {
			t.Errorf("strategy = %q, want local", req.Strategy)
		}
		fmt.Fprintf(w, `{"accessToken": %q, "user": {"_id": "u1", "username": "alice", "email": %q}}`,
			token, req.Email)
	}
}

func TestLogin(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := makeToken(t, exp)
	srv := httptest.NewServer(loginHandler(t, token))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	if m.State() != LoggedOut {
		t.Fatalf("initial state = %v", m.State())
	}

	if err := m.Login(context.Background(), "alice@example.com", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if m.State() != Connected {
		t.Errorf("state = %v, want Connected", m.State())
	}
	if m.User().Username != "alice" {
		t.Errorf("user = %+v", m.User())
	}
	if !m.ExpiresAt().Equal(exp) {
		t.Errorf("expiresAt = %v, want %v", m.ExpiresAt(), exp)
	}

	// Credentials blob is persisted, owner-only.
	info, err := os.Stat(m.credsPath)
	if err != nil {
		t.Fatalf("stat credentials: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("credentials mode = %v", info.Mode().Perm())
	}
}

func TestLoginBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	err := m.Login(context.Background(), "alice@example.com", "wrong")
	if _, ok := apierr.AsAuth(err); !ok {
		t.Errorf("err = %v, want AuthError", err)
	}
	if m.State() != LoggedOut {
		t.Errorf("state = %v, want LoggedOut", m.State())
	}
}

func TestRestore(t *testing.T) {
	token := makeToken(t, time.Now().Add(time.Hour))
	srv := httptest.NewServer(loginHandler(t, token))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	if err := m.Login(context.Background(), "alice@example.com", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// A fresh manager over the same blob resumes without a round trip.
	m2 := NewManager(Options{
		Client:          transport.New(transport.Config{BaseURL: "http://unreachable.invalid"}),
		CredentialsPath: m.credsPath,
	})
	ok, err := m2.Restore()
	if err != nil || !ok {
		t.Fatalf("Restore = %v, %v", ok, err)
	}
	if m2.State() != Connected || m2.User().Username != "alice" {
		t.Errorf("restored state = %v, user = %+v", m2.State(), m2.User())
	}
}

func TestRestoreStaleToken(t *testing.T) {
	credsPath := filepath.Join(t.TempDir(), "session.json")
	stale := makeToken(t, time.Now().Add(-time.Minute))
	blob, _ := json.Marshal(map[string]interface{}{
		"accessToken": stale,
		"user":        map[string]string{"username": "alice"},
	})
	if err := os.WriteFile(credsPath, blob, 0600); err != nil {
		t.Fatal(err)
	}

	m := NewManager(Options{
		Client:          transport.New(transport.Config{BaseURL: "http://unreachable.invalid"}),
		CredentialsPath: credsPath,
	})
	ok, err := m.Restore()
	if err != nil || ok {
		t.Fatalf("Restore = %v, %v, want false nil", ok, err)
	}
	if _, statErr := os.Stat(credsPath); !os.IsNotExist(statErr) {
		t.Error("stale blob should be removed")
	}
}

func TestRestoreNoBlob(t *testing.T) {
	m := newTestManager(t, "http://unused")
	ok, err := m.Restore()
	if err != nil || ok {
		t.Errorf("Restore = %v, %v, want false nil", ok, err)
	}
}

func TestLogout(t *testing.T) {
	token := makeToken(t, time.Now().Add(time.Hour))
	var revoked bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && r.URL.Path == "/authentication" {
			revoked = true
			w.Write([]byte(`{}`))
			return
		}
		loginHandler(t, token)(w, r)
	}))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	if err := m.Login(context.Background(), "alice@example.com", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	m.Logout(context.Background())
	if !revoked {
		t.Error("server-side revocation not attempted")
	}
	if m.State() != LoggedOut || m.Token() != "" {
		t.Errorf("state = %v, token = %q", m.State(), m.Token())
	}
	if _, err := os.Stat(m.credsPath); !os.IsNotExist(err) {
		t.Error("credentials blob should be removed")
	}
}

func TestLogoutClearsCache(t *testing.T) {
	cacheDir := filepath.Join(t.TempDir(), "cache")
	if err := os.MkdirAll(filepath.Join(cacheDir, "ws1"), 0755); err != nil {
		t.Fatal(err)
	}

	m := NewManager(Options{
		Client:             transport.New(transport.Config{BaseURL: "http://unreachable.invalid"}),
		CredentialsPath:    filepath.Join(t.TempDir(), "session.json"),
		CacheDir:           cacheDir,
		ClearCacheOnLogout: true,
	})
	m.Logout(context.Background())

	if _, err := os.Stat(cacheDir); !os.IsNotExist(err) {
		t.Error("cache directory should be wiped on logout")
	}
}

func TestDispatchTransitions(t *testing.T) {
	token := makeToken(t, time.Now().Add(time.Hour))
	srv := httptest.NewServer(loginHandler(t, token))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	if err := m.Login(context.Background(), "alice@example.com", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Connection failure downgrades to Disconnected, keeping the token.
	offline := &apierr.ConnectionError{Op: "GET /x", Err: errors.New("refused")}
	disconnected, err := m.Dispatch(func() error { return offline })
	if !disconnected || err == nil {
		t.Fatalf("Dispatch = %v, %v", disconnected, err)
	}
	if m.State() != Disconnected {
		t.Errorf("state = %v, want Disconnected", m.State())
	}
	if m.Token() == "" {
		t.Error("token must survive a disconnect")
	}

	// The next success flips back to Connected.
	disconnected, err = m.Dispatch(func() error { return nil })
	if disconnected || err != nil {
		t.Fatalf("Dispatch = %v, %v", disconnected, err)
	}
	if m.State() != Connected {
		t.Errorf("state = %v, want Connected", m.State())
	}

	// Non-fatal kinds leave the state alone.
	disconnected, err = m.Dispatch(func() error {
		return &apierr.NotFoundError{Op: "GET /x"}
	})
	if disconnected || err == nil {
		t.Fatalf("Dispatch = %v, %v", disconnected, err)
	}
	if m.State() != Connected {
		t.Errorf("state = %v, want Connected", m.State())
	}

	// An auth rejection forces a logout.
	disconnected, _ = m.Dispatch(func() error {
		return &apierr.AuthError{Op: "GET /x"}
	})
	if !disconnected {
		t.Error("auth rejection should report disconnected")
	}
	if m.State() != LoggedOut || m.Token() != "" {
		t.Errorf("state = %v, token = %q", m.State(), m.Token())
	}
}

func TestExpiryTimer(t *testing.T) {
	// exp has one-second resolution; stay clearly above it.
	token := makeToken(t, time.Now().Add(2*time.Second))
	srv := httptest.NewServer(loginHandler(t, token))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	if err := m.Login(context.Background(), "alice@example.com", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if m.State() != Connected {
		t.Fatalf("state = %v", m.State())
	}

	deadline := time.Now().Add(5 * time.Second)
	for m.State() != LoggedOut {
		if time.Now().After(deadline) {
			t.Fatal("expiry timer did not fire")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestExpiryBeyondTimerBound(t *testing.T) {
	// ~40 days is past the 32-bit millisecond bound; the timer must not
	// be armed, and the session stays Connected.
	token := makeToken(t, time.Now().Add(40*24*time.Hour))
	srv := httptest.NewServer(loginHandler(t, token))
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	if err := m.Login(context.Background(), "alice@example.com", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if m.timer != nil {
		t.Error("timer should not be scheduled past the millisecond bound")
	}
	if m.State() != Connected {
		t.Errorf("state = %v, want Connected", m.State())
	}
}

func TestStateChangeCallback(t *testing.T) {
	token := makeToken(t, time.Now().Add(time.Hour))
	srv := httptest.NewServer(loginHandler(t, token))
	defer srv.Close()

	states := make(chan State, 4)
	client := transport.New(transport.Config{BaseURL: srv.URL})
	m := NewManager(Options{
		Client:          client,
		CredentialsPath: filepath.Join(t.TempDir(), "session.json"),
		OnStateChange:   func(s State) { states <- s },
	})

	if err := m.Login(context.Background(), "alice@example.com", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	select {
	case s := <-states:
		if s != Connected {
			t.Errorf("callback state = %v, want Connected", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("state callback never invoked")
	}
}
