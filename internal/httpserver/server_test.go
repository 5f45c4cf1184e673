package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/foodnet-go/internal/buildinfo"
	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/datastore"
	"github.com/tphakala/foodnet-go/internal/observability"
	"github.com/tphakala/foodnet-go/internal/retrain"
)

type fakeRetrain struct {
	mu      sync.Mutex
	accept  bool
	reasons []string
}

func (f *fakeRetrain) Request(reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	return f.accept
}

func (f *fakeRetrain) Jobs() []retrain.Job {
	return []retrain.Job{{ID: "job-1", Status: retrain.StatusCompleted, Reasons: []string{"x"}}}
}

func (f *fakeRetrain) Stats() retrain.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return retrain.Stats{Requested: len(f.reasons)}
}

func newTestStore(t *testing.T) *datastore.Store {
	t.Helper()
	db, err := datastore.Open(&conf.StorageSettings{Type: "sqlite", SQLite: conf.SQLiteSettings{Path: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = datastore.Close(db) })
	store, err := datastore.New(db)
	require.NoError(t, err)
	return store
}

func newTestServer(t *testing.T, deps Dependencies) *Server {
	t.Helper()
	if deps.Store == nil {
		deps.Store = newTestStore(t)
	}
	s, err := New(&conf.WebServerSettings{Listen: "127.0.0.1:0"}, deps)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, http.NoBody)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := New(&conf.WebServerSettings{}, Dependencies{})
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Dependencies{BuildInfo: &buildinfo.Context{Version: "v0.3.0"}})
	rec := do(t, s, http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, "v0.3.0", body["version"])
}

func TestRecordsEndpoints(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	for _, label := range []string{"rice", "miso soup", "rice"} {
		_, err := store.UpsertNew(ctx, "img.jpg", label, []float64{1, 2, 3, 4})
		require.NoError(t, err)
	}
	s := newTestServer(t, Dependencies{Store: store})

	rec := do(t, s, http.MethodGet, "/api/v1/records?offset=1&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 3, body["total"])
	records := body["records"].([]any)
	require.Len(t, records, 1)
	assert.EqualValues(t, 2, records[0].(map[string]any)["img_id"])

	rec = do(t, s, http.MethodGet, "/api/v1/records/3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rice", decode(t, rec)["category"])

	rec = do(t, s, http.MethodGet, "/api/v1/records/99")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["correlation_id"])

	rec = do(t, s, http.MethodGet, "/api/v1/records/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/records?limit=5000")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/categories")
	require.Equal(t, http.StatusOK, rec.Code)
	var cats []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cats))
	assert.Len(t, cats, 2)
}

func TestDatasetExport(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, err := store.UpsertNew(context.Background(), "a.jpg", "udon", []float64{0, 0, 10, 10})
	require.NoError(t, err)
	s := newTestServer(t, Dependencies{Store: store})

	rec := do(t, s, http.MethodGet, "/api/v1/dataset.csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "img_id,"))
	assert.Contains(t, lines[1], "udon")
}

func TestRetrainEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, Dependencies{})

		rec := do(t, s, http.MethodGet, "/api/v1/retrain/jobs")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, decode(t, rec)["enabled"])

		rec = do(t, s, http.MethodPost, "/api/v1/retrain")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()
		r := &fakeRetrain{accept: true}
		s := newTestServer(t, Dependencies{Retrain: r})

		rec := do(t, s, http.MethodPost, "/api/v1/retrain")
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "queued", decode(t, rec)["status"])
		require.Len(t, r.reasons, 1)
		assert.Contains(t, r.reasons[0], "manual request")

		rec = do(t, s, http.MethodGet, "/api/v1/retrain/jobs")
		require.Equal(t, http.StatusOK, rec.Code)
		jobs := decode(t, rec)["jobs"].([]any)
		require.Len(t, jobs, 1)
		assert.Equal(t, "job-1", jobs[0].(map[string]any)["id"])
	})

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, Dependencies{Retrain: &fakeRetrain{accept: false}})
		rec := do(t, s, http.MethodPost, "/api/v1/retrain")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	m, err := observability.NewMetrics()
	require.NoError(t, err)
	m.Pipeline.IncrementRecordsCreated()

	s := newTestServer(t, Dependencies{Metrics: m.Handler()})
	rec := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	s = newTestServer(t, Dependencies{})
	rec = do(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSystemInfo(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Dependencies{ImageDir: t.TempDir()})
	rec := do(t, s, http.MethodGet, "/api/v1/system")
	if rec.Code != http.StatusOK {
		t.Skipf("host information unavailable: %s", rec.Body.String())
	}
	body := decode(t, rec)
	assert.NotEmpty(t, body["go_version"])
	assert.Contains(t, body, "image_dir")
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Dependencies{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz") //nolint:noctx // test helper
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}
