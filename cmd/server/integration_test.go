package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/auth"
	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/sdk"
	"github.com/nicktill/tinytrack/pkg/sdk/poller"
	"github.com/nicktill/tinytrack/pkg/server"
)

const testSecret = "integration-secret-0123456789abcdef"

func startServer(t *testing.T, storage string) (*server.App, *httptest.Server) {
	t.Helper()
	t.Setenv("TINYTRACK_STORAGE", storage)
	t.Setenv("TINYTRACK_DATA_DIR", t.TempDir())
	t.Setenv("TINYTRACK_JWT_SECRET", testSecret)
	t.Setenv("TINYTRACK_STATS_CACHE_TTL", "0s")

	cfg, err := server.LoadConfig()
	require.NoError(t, err)
	app, err := server.New(context.Background(), cfg, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(app.Router())
	t.Cleanup(func() {
		srv.Close()
		app.Close()
	})
	return app, srv
}

// TestE2E_TrackFlushStats drives the SDK against a real server and reads the
// result back the way the dashboard does.
func TestE2E_TrackFlushStats(t *testing.T) {
	for _, backend := range []string{server.BackendMemory, server.BackendBadger, server.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, srv := startServer(t, backend)

			client, err := sdk.New(sdk.Config{Endpoint: srv.URL, AppID: "e2e"})
			require.NoError(t, err)

			client.Track(event.Input{Component: "Button", Variant: "primary", Action: "click"})
			client.Track(event.Input{Component: "Button", Variant: "secondary", Action: "click",
				Metadata: map[string]any{"label": "Save", "password": "hunter2"}})
			client.Track(event.Input{Component: "Input", Variant: "default", Action: "focus"})
			client.Flush(ctx)
			require.Zero(t, client.Status().Pending)

			p, err := poller.New(poller.Config{Endpoint: srv.URL})
			require.NoError(t, err)
			snap, err := p.Poll(ctx)
			require.NoError(t, err)

			require.Equal(t, int64(3), snap.TotalEvents)
			require.Equal(t, map[string]int64{"Button": 2, "Input": 1}, snap.TotalsByComponent)
			require.Len(t, snap.RecentEvents, 3)
			require.Equal(t, "Input", snap.RecentEvents[0].Component)
			require.Equal(t, client.SessionID(), event.SessionOf(snap.RecentEvents[0].Metadata))
			require.NotContains(t, snap.RecentEvents[1].Metadata, "password")
		})
	}
}

func TestE2E_Export(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, srv := startServer(t, server.BackendMemory)

	client, err := sdk.New(sdk.Config{Endpoint: srv.URL})
	require.NoError(t, err)
	for _, action := range []string{"open", "close", "open"} {
		client.Track(event.Input{Component: "Modal", Variant: "default", Action: action})
	}
	client.Flush(ctx)

	resp, err := http.Get(srv.URL + "/export")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	out := &bytes.Buffer{}
	require.NoError(t, runToken([]string{"-sub", "e2e", "-ttl", "1m"}, out))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/export?limit=2", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(out.String()))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Disposition"), "tracking-events-")

	rows, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "open", rows[1][2])
	require.Equal(t, "close", rows[2][2])
}

func TestRunToken(t *testing.T) {
	t.Setenv("TINYTRACK_STORAGE", server.BackendMemory)
	t.Setenv("TINYTRACK_JWT_SECRET", testSecret)

	out := &bytes.Buffer{}
	require.NoError(t, runToken([]string{"-sub", "ops"}, out))

	a, err := auth.New([]byte(testSecret), "tinytrack")
	require.NoError(t, err)
	claims, err := a.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, "ops", claims.Subject)
	require.Contains(t, claims.Scopes, auth.ScopeExport)
}

func TestRunToken_RequiresSecret(t *testing.T) {
	t.Setenv("TINYTRACK_STORAGE", server.BackendMemory)
	t.Setenv("TINYTRACK_JWT_SECRET", "")
	require.Error(t, runToken(nil, &bytes.Buffer{}))
}

func TestE2E_InvalidRequests(t *testing.T) {
	_, srv := startServer(t, server.BackendMemory)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed JSON", `{"component":`, http.StatusBadRequest},
		{"missing action", `{"component":"Button","variant":"primary"}`, http.StatusBadRequest},
		{"wrong type", `{"component":1,"variant":"a","action":"b"}`, http.StatusBadRequest},
		{"too large", `{"component":"` + strings.Repeat("x", event.MaxRequestBodyLen) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/events", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
