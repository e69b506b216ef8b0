package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/service"
)

// ArchiveService defines the methods that the archive handler requires.
type ArchiveService interface {
	ListArchives(ctx context.Context) ([]domain.BlobInfo, error)
	RunOnce(ctx context.Context) (service.ArchiveResult, error)
	OpenArchive(ctx context.Context, path string) (io.ReadCloser, error)
}

// ArchiveHandler lists archived objects and triggers archive runs.
type ArchiveHandler struct {
	archives ArchiveService
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler with the given service and logger.
func NewArchiveHandler(archives ArchiveService, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archives: archives, logger: logger}
}

// ListArchives returns every archived object, newest first.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	infos, err := h.archives.ListArchives(r.Context())
	if err != nil {
		writeLedgerError(w, r, h.logger, "list archives", err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archives": infos,
		"count":    len(infos),
	})
}

// RunArchive exports pending receipts immediately.
// POST /api/archives/run
func (h *ArchiveHandler) RunArchive(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: archive run requested")
	res, err := h.archives.RunOnce(r.Context())
	if err != nil {
		writeLedgerError(w, r, h.logger, "archive run", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":       res,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// DownloadArchive streams one archived object.
// GET /api/archives/{path...}
func (h *ArchiveHandler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	rc, err := h.archives.OpenArchive(r.Context(), path)
	if err != nil {
		writeLedgerError(w, r, h.logger, "download archive", err)
		return
	}
	defer rc.Close()

	contentType := "application/octet-stream"
	switch {
	case strings.HasSuffix(path, ".jsonl"):
		contentType = "application/x-ndjson"
	case strings.HasSuffix(path, ".json"):
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive download interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
