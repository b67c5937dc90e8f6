package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/steadycore/config"
	"github.com/jonwraymond/steadycore/health"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.Equal(t, "steady", cmd.Use)
	assert.Equal(t, config.Version, cmd.Version)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"], "should have serve command")
	assert.True(t, names["claim"], "should have claim command")
	assert.True(t, names["version"], "should have version command")

	for _, key := range []string{config.KeyStoragePath, config.KeyRemoteBaseURL, config.KeyCaches, config.KeyLogLevel} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(key), "missing --%s", key)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "steady "+config.Version)
}

func TestClaimCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "claim.db")

	out, err := execute(t, "claim",
		"--storage-path", db,
		"--metrics-exporter", "none",
		"--log-level", "error",
		"--items", "3",
		"--claimers", "8",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "ITEM")
	assert.Contains(t, out, "8 claimers, 3 items claimed, 5 claimers got nothing")
}

func TestClaimCommand_InvalidTable(t *testing.T) {
	_, err := execute(t, "claim",
		"--storage-path", filepath.Join(t.TempDir(), "claim.db"),
		"--metrics-exporter", "none",
		"--log-level", "error",
		"--table", "pool; DROP TABLE x",
	)
	require.Error(t, err)
}

func TestClaimCommand_InvalidConfig(t *testing.T) {
	_, err := execute(t, "claim", "--metrics-exporter", "graphite")
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

// testRuntime builds a runtime from the environment with telemetry exporters
// disabled, so repeated runs do not register Prometheus collectors twice.
func testRuntime(t *testing.T, env map[string]string) *runtime {
	t.Helper()
	t.Setenv("STEADY_STORAGE_PATH", filepath.Join(t.TempDir(), "core.db"))
	t.Setenv("STEADY_METRICS_EXPORTER", "none")
	t.Setenv("STEADY_LOG_LEVEL", "error")
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := config.Load(context.Background(), config.NewViper("testdata/none.env"), nil)
	require.NoError(t, err)

	rt, err := newRuntime(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRuntime_Handler(t *testing.T) {
	rt := testRuntime(t, map[string]string{"STEADY_CACHES": "profiles:1m:10"})
	h := rt.handler()

	ready := get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, ready.Code)
	assert.Equal(t, "OK", ready.Body.String())

	var report health.Report
	require.NoError(t, json.NewDecoder(get(t, h, "/health").Body).Decode(&report))
	assert.Equal(t, "healthy", report.Status)
	assert.Contains(t, report.Checks, "store")
	assert.Contains(t, report.Checks, "breakers")
	assert.NotContains(t, report.Checks, "pool:messaging-sessions")

	var stats Stats
	require.NoError(t, json.NewDecoder(get(t, h, "/debug/stats").Body).Decode(&stats))
	require.Len(t, stats.Caches, 1)
	assert.Equal(t, "profiles", stats.Caches[0].Name)
	assert.Nil(t, stats.Sessions)

	assert.Equal(t, http.StatusOK, get(t, h, "/metrics").Code)
}

func TestRuntime_WithMessaging(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer api.Close()

	rt := testRuntime(t, map[string]string{"STEADY_REMOTE_BASE_URL": api.URL})
	require.NotNil(t, rt.messages)

	var report health.Report
	require.NoError(t, json.NewDecoder(get(t, rt.handler(), "/health").Body).Decode(&report))
	assert.Equal(t, "healthy", report.Checks["pool:messaging-sessions"].Status)

	var stats Stats
	require.NoError(t, json.NewDecoder(get(t, rt.handler(), "/debug/stats").Body).Decode(&stats))
	require.NotNil(t, stats.Sessions)
	assert.Equal(t, "messaging-sessions", stats.Sessions.Name)
}

func TestRuntime_ServeShutsDown(t *testing.T) {
	rt := testRuntime(t, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.serve(ctx, lis) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
