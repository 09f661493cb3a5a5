package http

import (
	"bytes"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/echolabs/echo-server/internal/auth"
	"github.com/echolabs/echo-server/internal/config"
	"github.com/echolabs/echo-server/internal/core"
	"github.com/echolabs/echo-server/internal/log"
	"github.com/echolabs/echo-server/internal/store"
	"github.com/echolabs/echo-server/internal/store/sqlite"
)

// testEnv bundles everything a handler test needs: the running server plus
// direct access to the store and registries behind it.
type testEnv struct {
	ts        *httptest.Server
	store     store.Store
	auth      *auth.Service
	presence  *core.Presence
	rooms     *core.Rooms
	uploadDir string
}

// startTestServer wires the full HTTP surface against an in-memory store.
func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}
	authService := auth.NewService(st, jwtConfig)

	presence := core.NewPresence()
	rooms := core.NewRooms()
	router := core.NewRouter(presence, rooms)

	uploadDir := t.TempDir()
	cfg := &config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		UploadDir:         uploadDir,
		MaxMessageBytes:   1 << 20,
		MessageRateLimit:  1000,
	}

	server := NewServer(authService, presence, rooms, router, st, cfg, log.Nop())

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: st, auth: authService, presence: presence, rooms: rooms, uploadDir: uploadDir}
}

// registerUser creates an account through the API and returns its token.
func (e *testEnv) registerUser(t *testing.T, username string) string {
	t.Helper()

	status, body := e.doJSON(t, "POST", "/api/register", "", map[string]any{
		"username": username,
		"password": "password123",
	})
	if status != stdhttp.StatusCreated {
		t.Fatalf("register %s: unexpected status %d: %s", username, status, body)
	}

	var resp AuthResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Token == "" {
		t.Fatalf("register %s: bad response %s", username, body)
	}
	return resp.Token
}

// doJSON performs a request with an optional bearer token and JSON body.
func (e *testEnv) doJSON(t *testing.T, method, path, token string, payload any) (int, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := stdhttp.NewRequest(method, e.ts.URL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, raw
}

// userID resolves a token to the user ID encoded in its claims.
func (e *testEnv) userID(t *testing.T, token string) int64 {
	t.Helper()

	claims, err := e.auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	return claims.UserID
}

// createThread makes a thread through the API and returns its ID.
func (e *testEnv) createThread(t *testing.T, token, name string) int64 {
	t.Helper()

	status, body := e.doJSON(t, "POST", "/api/threads", token, map[string]any{
		"name":     name,
		"is_group": true,
	})
	if status != stdhttp.StatusCreated {
		t.Fatalf("create thread: unexpected status %d: %s", status, body)
	}

	var resp ThreadResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.ID == 0 {
		t.Fatalf("create thread: bad response %s", body)
	}
	return resp.ID
}
