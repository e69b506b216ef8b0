package middleware

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/bondledger/internal/cache/memory"
	"github.com/alanyoungcy/bondledger/internal/crypto"
)

func TestSignatureSetsSender(t *testing.T) {
	keyHex, addr, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(keyHex)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	var got common.Address
	h := Signature(SignatureConfig{
		Tolerance: time.Minute,
		Replay:    memcache.NewLockManager(),
		Now:       func() time.Time { return now },
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = SenderFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	body := `{"action":"transfer"}`
	headers, err := signer.Headers(http.MethodPost, "/api/x", []byte(body), now.Add(-30*time.Second))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/x", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, addr, got)

	other := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	req = httptest.NewRequest(http.MethodPost, "/api/x", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(crypto.HeaderAddress, other.Hex())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "claimed address differs from signer")
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight reached handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/api/instantiate", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), crypto.HeaderSignature)
}

func TestAuthBearerToken(t *testing.T) {
	h := Auth("k")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/api/bonds", nil)
	req.Header.Set("Authorization", "Bearer k")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	assert.Equal(t, "10.0.0.1", extractClientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", extractClientIP(req))
}

func TestRateLimitBucketsCommandsSeparately(t *testing.T) {
	h := RateLimit(memcache.NewRateLimiter(), 1, 30*time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(method string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(method, "/api/contracts", nil)
		req.RemoteAddr = "10.0.0.9:5000"
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, serve(http.MethodGet).Code)
	assert.Equal(t, http.StatusOK, serve(http.MethodPost).Code)

	rec := serve(http.MethodGet)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusTooManyRequests, serve(http.MethodPost).Code)
}

type brokenLocks struct{}

func (brokenLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, errors.New("redis: connection refused")
}

func TestSignatureReplayIgnoresEncoding(t *testing.T) {
	keyHex, _, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(keyHex)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	calls := 0
	h := Signature(SignatureConfig{
		Tolerance: time.Minute,
		Replay:    memcache.NewLockManager(),
		Now:       func() time.Time { return now },
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	body := `{"action":"subscribe"}`
	headers, err := signer.Headers(http.MethodPost, "/api/x", []byte(body), now)
	require.NoError(t, err)
	sig := headers[crypto.HeaderSignature]

	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	require.NoError(t, err)
	vZero := append([]byte(nil), raw...)
	vZero[64] -= 27

	// Flip s to n - s, which recovers the same key unless high s is rejected.
	highS := append([]byte(nil), vZero...)
	n := ethcrypto.S256().Params().N
	s := new(big.Int).Sub(n, new(big.Int).SetBytes(raw[32:64]))
	s.FillBytes(highS[32:64])
	highS[64] ^= 1

	send := func(sigHeader string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/x", strings.NewReader(body))
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		req.Header.Set(crypto.HeaderSignature, sigHeader)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send(sig))
	assert.Equal(t, http.StatusUnauthorized, send(sig), "exact replay")
	assert.Equal(t, http.StatusUnauthorized, send(strings.TrimPrefix(sig, "0x")), "without 0x")
	assert.Equal(t, http.StatusUnauthorized, send(strings.ToUpper(sig[2:])), "upper case")
	assert.Equal(t, http.StatusUnauthorized, send(hex.EncodeToString(vZero)), "v as 0/1")
	assert.Equal(t, http.StatusUnauthorized, send("0x"+hex.EncodeToString(highS)), "high s")
	assert.Equal(t, 1, calls)

	_, err = crypto.DecodeSignature(hex.EncodeToString(highS))
	require.ErrorIs(t, err, crypto.ErrInvalidSignature)
}

func TestSignatureFailsClosedWhenReplayStoreErrors(t *testing.T) {
	keyHex, _, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(keyHex)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	reached := false
	h := Signature(SignatureConfig{
		Tolerance: time.Minute,
		Replay:    brokenLocks{},
		Now:       func() time.Time { return now },
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	headers, err := signer.Headers(http.MethodPost, "/api/x", nil, now)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/x", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, reached)
}
