package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/metrics"
)

// archiveCursor names the cursor of the receipt export job.
const archiveCursor = "archive.receipts"

// ArchiveConfig tunes the export job.
type ArchiveConfig struct {
	Interval  time.Duration
	BatchSize int
	// SnapshotEvery uploads a full state snapshot once this many heights
	// have been archived since the last one. Zero disables snapshots.
	SnapshotEvery uint64
	Prefix        string
}

// SnapshotSource provides the committed ledger state.
type SnapshotSource interface {
	Snapshot() (uint64, map[string][]byte)
}

// ArchiveResult reports what one archive run exported.
type ArchiveResult struct {
	Receipts     int    `json:"receipts"`
	FromHeight   uint64 `json:"from_height,omitempty"`
	ToHeight     uint64 `json:"to_height,omitempty"`
	ReceiptsPath string `json:"receipts_path,omitempty"`
	SnapshotPath string `json:"snapshot_path,omitempty"`
}

// ArchiveService copies committed receipts, and periodically the full state,
// to object storage. Progress is tracked with a cursor so every receipt is
// exported exactly once.
type ArchiveService struct {
	receipts domain.ReceiptStore
	cursors  domain.CursorStore
	archiver domain.Archiver
	blobs    domain.BlobReader
	source   SnapshotSource
	audit    domain.AuditStore
	metrics  *metrics.Metrics
	cfg      ArchiveConfig
	logger   *slog.Logger

	lastSnapshot uint64
}

// NewArchiveService creates an ArchiveService with all required dependencies.
func NewArchiveService(
	receipts domain.ReceiptStore,
	cursors domain.CursorStore,
	archiver domain.Archiver,
	blobs domain.BlobReader,
	source SnapshotSource,
	audit domain.AuditStore,
	m *metrics.Metrics,
	cfg ArchiveConfig,
	logger *slog.Logger,
) *ArchiveService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &ArchiveService{
		receipts: receipts,
		cursors:  cursors,
		archiver: archiver,
		blobs:    blobs,
		source:   source,
		audit:    audit,
		metrics:  m,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "archive_service")),
	}
}

// Run archives once immediately and then every Interval until ctx ends.
func (s *ArchiveService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "archive_service: run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce exports every receipt after the cursor in batches, then takes a
// snapshot when due.
func (s *ArchiveService) RunOnce(ctx context.Context) (ArchiveResult, error) {
	res, err := s.runOnce(ctx)
	if err != nil {
		s.metrics.ArchiveRuns.WithLabelValues("error").Inc()
		return res, err
	}
	s.metrics.ArchiveRuns.WithLabelValues("ok").Inc()
	return res, nil
}

func (s *ArchiveService) runOnce(ctx context.Context) (ArchiveResult, error) {
	var res ArchiveResult
	cursor, err := s.cursors.GetCursor(ctx, archiveCursor)
	if err != nil {
		return res, fmt.Errorf("archive_service: get cursor: %w", err)
	}

	for {
		batch, err := s.receipts.ListAfterHeight(ctx, cursor, s.cfg.BatchSize)
		if err != nil {
			return res, fmt.Errorf("archive_service: list receipts after %d: %w", cursor, err)
		}
		if len(batch) == 0 {
			break
		}
		path, err := s.archiver.ArchiveReceipts(ctx, batch)
		if err != nil {
			return res, err
		}
		last := batch[len(batch)-1].Height
		if err := s.cursors.SetCursor(ctx, archiveCursor, last); err != nil {
			return res, fmt.Errorf("archive_service: set cursor %d: %w", last, err)
		}

		if res.Receipts == 0 {
			res.FromHeight = batch[0].Height
		}
		res.Receipts += len(batch)
		res.ToHeight = last
		res.ReceiptsPath = path
		cursor = last
		s.metrics.ArchivedReceipts.Add(float64(len(batch)))

		s.logger.InfoContext(ctx, "archive_service: receipts archived",
			slog.String("path", path),
			slog.Int("count", len(batch)),
			slog.Uint64("to_height", last),
		)
		s.auditLog(ctx, "archive.receipts", map[string]any{"path": path, "count": len(batch), "to_height": last})

		if len(batch) < s.cfg.BatchSize {
			break
		}
	}

	if s.cfg.SnapshotEvery > 0 && s.source != nil {
		height, state := s.source.Snapshot()
		if height > 0 && height-s.lastSnapshot >= s.cfg.SnapshotEvery {
			path, err := s.archiver.ArchiveSnapshot(ctx, height, state)
			if err != nil {
				return res, err
			}
			s.lastSnapshot = height
			res.SnapshotPath = path
			s.logger.InfoContext(ctx, "archive_service: snapshot archived",
				slog.String("path", path),
				slog.Uint64("height", height),
				slog.Int("keys", len(state)),
			)
			s.auditLog(ctx, "archive.snapshot", map[string]any{"path": path, "height": height})
		}
	}
	return res, nil
}

// ListArchives lists every archived object, newest path first.
func (s *ArchiveService) ListArchives(ctx context.Context) ([]domain.BlobInfo, error) {
	if s.blobs == nil {
		return []domain.BlobInfo{}, nil
	}
	infos, err := s.blobs.List(ctx, s.cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("archive_service: list archives: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path > infos[j].Path })
	return infos, nil
}

// OpenArchive returns the content of one archived object. Paths outside the
// archive prefix yield domain.ErrNotFound.
func (s *ArchiveService) OpenArchive(ctx context.Context, path string) (io.ReadCloser, error) {
	if s.blobs == nil || !strings.HasPrefix(path, s.cfg.Prefix) || strings.Contains(path, "..") {
		return nil, fmt.Errorf("archive_service: open %q: %w", path, domain.ErrNotFound)
	}
	rc, err := s.blobs.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("archive_service: open %q: %w", path, err)
	}
	return rc, nil
}

func (s *ArchiveService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "archive_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
