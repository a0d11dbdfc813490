package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hybridsearch/pipeline"
	"hybridsearch/queue/memory"
	"hybridsearch/store/memstore"
	"hybridsearch/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	gotQuery string
	gotLimit int
	err      error
}

func (f *fakeSearcher) Search(_ context.Context, query string, limit int) ([]types.SearchResult, error) {
	f.gotQuery, f.gotLimit = query, limit
	if f.err != nil {
		return nil, f.err
	}
	return []types.SearchResult{{Title: "Report", Link: "file:///r.pdf", Snippet: "annual..."}}, nil
}

type fakeChunks struct {
	deleted []string
}

func (f *fakeChunks) DeleteChunks(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fixture struct {
	srv      *Server
	broker   *memory.Broker
	store    *memstore.Store
	searcher *fakeSearcher
	chunks   *fakeChunks
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		broker:   memory.NewBroker(1),
		store:    memstore.New(),
		searcher: &fakeSearcher{},
		chunks:   &fakeChunks{},
	}
	f.srv = NewServer(":0", Handlers{
		Ingest:       pipeline.NewIngestionService(f.broker, "index.metadata", nil),
		Store:        f.store,
		Chunks:       f.chunks,
		Search:       f.searcher,
		DefaultOwner: 1,
	}, nil)
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.srv.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

func TestIndexDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "accepted", body: `{"source_url":"file://` + path + `","content_type":"application/pdf","source_properties":{"title":"A"}}`, status: http.StatusAccepted},
		{name: "bad json", body: `{`, status: http.StatusBadRequest},
		{name: "wrong content type", body: `{"source_url":"file://` + path + `","content_type":"text/plain"}`, status: http.StatusUnprocessableEntity},
		{name: "missing file", body: `{"source_url":"file:///nope/missing.pdf","content_type":"application/pdf"}`, status: http.StatusNotFound},
		{name: "directory", body: `{"source_url":"file://` + filepath.Dir(path) + `","content_type":"application/pdf"}`, status: http.StatusNotFound},
		{name: "remote", body: `{"source_url":"https://example.com/a.pdf","content_type":"application/pdf"}`, status: http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			status, out := f.do(t, http.MethodPost, "/v1/index/documents", tt.body)
			assert.Equal(t, tt.status, status)
			if tt.status == http.StatusAccepted {
				assert.NotEmpty(t, out["job_id"])
				assert.Equal(t, pipeline.StatusSubmitted, out["indexing_status"])
				assert.Equal(t, map[string]any{"title": "A"}, out["metadata"])
				assert.Len(t, f.broker.Messages("index.metadata"), 1)
			} else {
				assert.Empty(t, f.broker.Messages("index.metadata"))
			}
		})
	}
}

func TestGetStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.CreateDocument(ctx, types.Document{OwnerID: 1, CorrelationID: "job-1", ContentHash: "h1"})
	require.NoError(t, err)

	status, out := f.do(t, http.MethodGet, "/v1/index/documents/job-1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(types.StatusPending), out["index_status"])

	status, _ = f.do(t, http.MethodGet, "/v1/index/documents/missing", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSearch(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		status    int
		wantLimit int
	}{
		{name: "default limit", target: "/v1/query/documents:search?q=report", status: http.StatusOK, wantLimit: types.DefaultSearchLimit},
		{name: "explicit limit", target: "/v1/query/documents:search?q=report&limit=5", status: http.StatusOK, wantLimit: 5},
		{name: "clamped high", target: "/v1/query/documents:search?q=report&limit=1000", status: http.StatusOK, wantLimit: types.MaxSearchLimit},
		{name: "clamped low", target: "/v1/query/documents:search?q=report&limit=0", status: http.StatusOK, wantLimit: 1},
		{name: "missing query", target: "/v1/query/documents:search", status: http.StatusUnprocessableEntity},
		{name: "bad limit", target: "/v1/query/documents:search?q=report&limit=ten", status: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			status, out := f.do(t, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.status, status)
			if tt.status != http.StatusOK {
				return
			}
			assert.Equal(t, tt.wantLimit, f.searcher.gotLimit)
			assert.Equal(t, "report", out["query"])
			assert.Len(t, out["results"], 1)
		})
	}
}

func TestSearchFailure(t *testing.T) {
	f := newFixture(t)
	f.searcher.err = errors.New("engine unavailable")

	status, out := f.do(t, http.MethodGet, "/v1/query/documents:search?q=report", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "engine unavailable", out["error"])
}

func TestDocumentManagement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.CreateDocument(ctx, types.Document{OwnerID: 1, CorrelationID: "job-1", ContentHash: "h1", Title: "Old"})
	require.NoError(t, err)
	_, err = f.store.CreateDocument(ctx, types.Document{OwnerID: 2, CorrelationID: "job-2", ContentHash: "h2"})
	require.NoError(t, err)

	t.Run("list default owner", func(t *testing.T) {
		resp, err := f.srv.App().Test(httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
		require.NoError(t, err)
		var docs []types.Document
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&docs))
		require.Len(t, docs, 1)
		assert.Equal(t, "job-1", docs[0].CorrelationID)
	})

	t.Run("list bad owner", func(t *testing.T) {
		status, _ := f.do(t, http.MethodGet, "/v1/documents?owner_id=abc", "")
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("update title", func(t *testing.T) {
		status, out := f.do(t, http.MethodPatch, "/v1/documents/job-1", `{"title":"New"}`)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "New", out["title"])

		status, _ = f.do(t, http.MethodPatch, "/v1/documents/job-1", `{"title":""}`)
		assert.Equal(t, http.StatusUnprocessableEntity, status)

		status, _ = f.do(t, http.MethodPatch, "/v1/documents/missing", `{"title":"x"}`)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("delete", func(t *testing.T) {
		status, _ := f.do(t, http.MethodDelete, "/v1/documents/job-1", "")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, []string{"job-1"}, f.chunks.deleted)

		_, err := f.store.GetMetadata(ctx, "job-1")
		assert.Error(t, err)

		status, _ = f.do(t, http.MethodDelete, "/v1/documents/job-1", "")
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestHealthy(t *testing.T) {
	f := newFixture(t)
	status, out := f.do(t, http.MethodGet, "/check/healthy", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", out["result"])

	status, _ = f.do(t, http.MethodGet, "/check/ready", "")
	assert.Equal(t, http.StatusOK, status)
}
