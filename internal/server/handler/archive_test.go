package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/service"
)

type stubArchives struct {
	objects map[string]string
}

func (s stubArchives) ListArchives(context.Context) ([]domain.BlobInfo, error) {
	return nil, nil
}

func (s stubArchives) RunOnce(context.Context) (service.ArchiveResult, error) {
	return service.ArchiveResult{}, nil
}

func (s stubArchives) OpenArchive(_ context.Context, path string) (io.ReadCloser, error) {
	v, ok := s.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(v)), nil
}

func TestDownloadArchive(t *testing.T) {
	h := NewArchiveHandler(stubArchives{objects: map[string]string{
		"archive/receipts/000000000001-000000000001.jsonl": "{\"height\":1}\n",
	}}, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/archives/{path...}", h.DownloadArchive)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archives/archive/receipts/000000000001-000000000001.jsonl", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, "{\"height\":1}\n", rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archives/archive/snapshots/000000000009.json", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
