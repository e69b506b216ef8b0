package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

type recordingWriter struct {
	objects  map[string][]byte
	types    map[string]string
	parts    map[string]int64
	failWith error
	puts     int
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{
		objects: map[string][]byte{},
		types:   map[string]string{},
		parts:   map[string]int64{},
	}
}

func (w *recordingWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.failWith != nil {
		return w.failWith
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

func (w *recordingWriter) PutMultipart(_ context.Context, path string, data io.Reader, partSize int64) error {
	if w.failWith != nil {
		return w.failWith
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	w.parts[path] = partSize
	w.puts++
	return nil
}

func (w *recordingWriter) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := w.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (w *recordingWriter) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for p, b := range w.objects {
		if strings.HasPrefix(p, prefix) {
			infos = append(infos, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return infos, nil
}

func (w *recordingWriter) Exists(_ context.Context, path string) (bool, error) {
	if w.failWith != nil {
		return false, w.failWith
	}
	_, ok := w.objects[path]
	return ok, nil
}

func TestArchiveReceipts(t *testing.T) {
	w := newRecordingWriter()
	a := NewArchiver(w, nil)

	path, err := a.ArchiveReceipts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Empty(t, w.objects)

	receipts := []domain.Receipt{
		{ID: "r3", Height: 3, Action: "subscribe"},
		{ID: "r4", Height: 4, Action: "distribute"},
	}
	path, err = a.ArchiveReceipts(context.Background(), receipts)
	require.NoError(t, err)
	assert.Equal(t, "archive/receipts/000000000003-000000000004.jsonl", path)
	assert.Equal(t, "application/x-ndjson", w.types[path])

	var got []domain.Receipt
	sc := bufio.NewScanner(bytes.NewReader(w.objects[path]))
	for sc.Scan() {
		var r domain.Receipt
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "distribute", got[1].Action)
}

func TestArchiveSnapshotRoundTrip(t *testing.T) {
	w := newRecordingWriter()
	a := NewArchiver(w, nil)

	state := map[string][]byte{
		"\x00contract\x01": []byte(`{"code":"bond"}`),
		"balance/0xc1":     []byte(`"180"`),
	}
	path, err := a.ArchiveSnapshot(context.Background(), 9, state)
	require.NoError(t, err)
	assert.Equal(t, "archive/snapshots/000000000009.json", path)
	assert.Equal(t, snapshotPartSize, w.parts[path])

	height, decoded, err := DecodeSnapshot(w.objects[path])
	require.NoError(t, err)
	assert.Equal(t, uint64(9), height)
	assert.Equal(t, state, decoded)
}

func TestArchiveUploadFailure(t *testing.T) {
	w := newRecordingWriter()
	w.failWith = errors.New("bucket unavailable")
	a := NewArchiver(w, nil)

	_, err := a.ArchiveReceipts(context.Background(), []domain.Receipt{{Height: 1}})
	require.ErrorIs(t, err, w.failWith)
	_, err = a.ArchiveSnapshot(context.Background(), 1, nil)
	require.ErrorIs(t, err, w.failWith)
}

func TestArchiveSnapshotSkipsStoredHeight(t *testing.T) {
	w := newRecordingWriter()
	a := NewArchiver(w, w)

	first, err := a.ArchiveSnapshot(context.Background(), 12, map[string][]byte{"k": []byte("v1")})
	require.NoError(t, err)
	again, err := a.ArchiveSnapshot(context.Background(), 12, map[string][]byte{"k": []byte("v2")})
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, w.puts)

	rc, err := w.Get(context.Background(), first)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	_, state, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), state["k"])

	w.failWith = errors.New("head denied")
	_, err = a.ArchiveSnapshot(context.Background(), 13, nil)
	require.ErrorIs(t, err, w.failWith)
}

func TestObjectKeyPrefix(t *testing.T) {
	c := &Client{prefix: "ledger"}
	assert.Equal(t, "ledger/archive/receipts/x", c.objectKey("archive/receipts/x"))
	assert.Equal(t, "archive/receipts/x", c.logicalPath("ledger/archive/receipts/x"))

	bare := &Client{}
	assert.Equal(t, "a/b", bare.objectKey("a/b"))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}
