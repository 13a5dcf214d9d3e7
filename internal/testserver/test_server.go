// Package testserver runs a fully wired server on an in-memory store for
// end-to-end tests.
package testserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracceaqua/tracceaqua/internal/app"
	"github.com/tracceaqua/tracceaqua/internal/blob"
	"github.com/tracceaqua/tracceaqua/internal/config"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/ledger"
	"github.com/tracceaqua/tracceaqua/internal/testutil"
)

type TestServer struct {
	App    *app.App
	Server *httptest.Server
	Clock  *testutil.StubClock
	Ledger *ledger.Memory
	Blobs  *blob.Memory
}

// Config returns a configuration backed by an in-memory database with auth
// enabled and background work disabled.
func Config() config.Config {
	cfg := config.Default()
	cfg.DB = config.DBConfig{Driver: "sqlite", Path: ":memory:"}
	cfg.Blob.Driver = blob.DriverMemory
	cfg.Anchor.Enabled = false
	cfg.Anchor.Ledger = "memory"
	cfg.Expiry.Enabled = false
	return cfg
}

// New starts a server with Config, possibly adjusted by mutate.
func New(t *testing.T, mutate ...func(*config.Config)) *TestServer {
	t.Helper()

	cfg := Config()
	for _, m := range mutate {
		m(&cfg)
	}

	clk := testutil.FixedClock()
	led := ledger.NewMemory()
	blobs := blob.NewMemory()
	a, err := app.New(context.Background(), cfg, nil,
		app.WithClock(clk),
		app.WithLedger(led),
		app.WithBlobStore(blobs),
	)
	require.NoError(t, err)

	server := httptest.NewServer(a.Handler)
	t.Cleanup(func() {
		server.Close()
		_ = a.Close()
	})

	return &TestServer{App: a, Server: server, Clock: clk, Ledger: led, Blobs: blobs}
}

// IssueKey creates an API key for actorID and returns its bearer token.
func (ts *TestServer) IssueKey(t *testing.T, actorID string, role record.Role) string {
	t.Helper()
	token, _, err := ts.App.Keys.Issue(context.Background(), actorID, role, "test")
	require.NoError(t, err)
	return token
}

// Do sends a JSON request and returns the status and raw body. An empty
// token sends no Authorization header.
func (ts *TestServer) Do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.Server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

// DoJSON is Do that requires wantStatus and decodes the body into out.
func (ts *TestServer) DoJSON(t *testing.T, method, path, token string, body any, wantStatus int, out any) {
	t.Helper()
	status, raw := ts.Do(t, method, path, token, body)
	require.Equal(t, wantStatus, status, "body: %s", raw)
	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out))
	}
}
