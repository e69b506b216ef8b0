package s3blob

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

// Archive key layout:
//
//	archive/receipts/{first height}-{last height}.jsonl
//	archive/snapshots/{height}.json
const (
	ReceiptsPrefix  = "archive/receipts/"
	SnapshotsPrefix = "archive/snapshots/"
)

// snapshotPartSize is the multipart part size used for state snapshots.
const snapshotPartSize int64 = 8 * 1024 * 1024

// Archiver implements domain.Archiver by serialising receipts to JSONL and
// state snapshots to JSON and uploading them through a domain.BlobWriter.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewArchiver creates an Archiver writing through w. When r is non-nil a
// snapshot already stored for a height is not uploaded again, which keeps a
// restarted archiver from rewriting the snapshot it took last.
func NewArchiver(w domain.BlobWriter, r domain.BlobReader) *Archiver {
	return &Archiver{writer: w, reader: r}
}

// ArchiveReceipts uploads receipts, which must be in ascending height order,
// as one JSONL object named after the covered height range.
func (a *Archiver) ArchiveReceipts(ctx context.Context, receipts []domain.Receipt) (string, error) {
	if len(receipts) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(receipts)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive receipts marshal: %w", err)
	}

	path := receiptsPath(receipts[0].Height, receipts[len(receipts)-1].Height)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive receipts upload: %w", err)
	}
	return path, nil
}

// Snapshot is the stored form of a state snapshot. Keys are hex encoded;
// values are base64 encoded by encoding/json.
type Snapshot struct {
	Height uint64            `json:"height"`
	State  map[string][]byte `json:"state"`
}

// ArchiveSnapshot uploads the full ledger state at height.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, height uint64, state map[string][]byte) (string, error) {
	path := snapshotPath(height)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive snapshot check: %w", err)
		}
		if exists {
			return path, nil
		}
	}

	snap := Snapshot{Height: height, State: make(map[string][]byte, len(state))}
	for k, v := range state {
		snap.State[hex.EncodeToString([]byte(k))] = v
	}

	buf, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot marshal: %w", err)
	}

	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), snapshotPartSize); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot upload: %w", err)
	}
	return path, nil
}

// DecodeSnapshot reverses ArchiveSnapshot's encoding and returns the raw
// state keyed by the original byte keys.
func DecodeSnapshot(data []byte) (uint64, map[string][]byte, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, nil, fmt.Errorf("s3blob: decode snapshot: %w", err)
	}
	keys := make([]string, 0, len(snap.State))
	for k := range snap.State {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	state := make(map[string][]byte, len(keys))
	for _, k := range keys {
		raw, err := hex.DecodeString(k)
		if err != nil {
			return 0, nil, fmt.Errorf("s3blob: decode snapshot key %q: %w", k, err)
		}
		state[string(raw)] = snap.State[k]
	}
	return snap.Height, state, nil
}

func receiptsPath(from, to uint64) string {
	return fmt.Sprintf("%s%012d-%012d.jsonl", ReceiptsPrefix, from, to)
}

func snapshotPath(height uint64) string {
	return fmt.Sprintf("%s%012d.json", SnapshotsPrefix, height)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
