package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func TestRequestSignatureRoundTrip(t *testing.T) {
	s, err := NewSigner("0x" + testKey)
	require.NoError(t, err)

	body := []byte(`{"subscribe":{"subscription_amount":"300","fee_amount":"300"}}`)
	sig, err := s.SignRequest("post", "/api/contracts/0x01/execute", 1_700_000_000, body)
	require.NoError(t, err)
	assert.Len(t, sig, 2+130)

	addr, err := RecoverRequest("POST", "/api/contracts/0x01/execute", 1_700_000_000, body, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)
	require.NoError(t, VerifyRequest(s.Address(), "POST", "/api/contracts/0x01/execute", 1_700_000_000, body, sig))

	tampered := []struct {
		name string
		path string
		ts   int64
		body []byte
	}{
		{"path", "/api/contracts/0x02/execute", 1_700_000_000, body},
		{"timestamp", "/api/contracts/0x01/execute", 1_700_000_001, body},
		{"body", "/api/contracts/0x01/execute", 1_700_000_000, []byte(`{}`)},
	}
	for _, tc := range tampered {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifyRequest(s.Address(), "POST", tc.path, tc.ts, tc.body, sig)
			require.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestRecoverRejectsMalformed(t *testing.T) {
	for _, sig := range []string{"", "0x1234", "zz"} {
		_, err := RecoverRequest("POST", "/", 0, nil, sig)
		require.ErrorIs(t, err, ErrInvalidSignature, sig)
	}
}

func TestHeaders(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	now := time.Unix(1_700_000_123, 0)

	h, err := s.Headers("POST", "/api/instantiate", []byte("{}"), now)
	require.NoError(t, err)
	assert.Equal(t, s.Address().Hex(), h[HeaderAddress])
	assert.Equal(t, "1700000123", h[HeaderTimestamp])

	ts, _ := strconv.ParseInt(h[HeaderTimestamp], 10, 64)
	require.NoError(t, VerifyRequest(s.Address(), "POST", "/api/instantiate", ts, []byte("{}"), h[HeaderSignature]))
}

func TestWebhookSigner(t *testing.T) {
	w := NewWebhookSigner("topsecret")
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"event":"redeemed"}`)

	header := w.Sign(body, now)
	require.NoError(t, w.Verify(header, body, now.Add(time.Minute), 5*time.Minute))

	require.ErrorIs(t, w.Verify(header, []byte(`{}`), now, 5*time.Minute), ErrInvalidSignature)
	require.ErrorIs(t, w.Verify(header, body, now.Add(time.Hour), 5*time.Minute), ErrInvalidSignature)
	require.ErrorIs(t, NewWebhookSigner("other").Verify(header, body, now, 0), ErrInvalidSignature)
	require.ErrorIs(t, w.Verify("garbage", body, now, 0), ErrInvalidSignature)

	assert.Equal(t, "WebhookSigner{secret=tops****}", w.String())
}

func TestEncryptedKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin.json")
	require.NoError(t, WriteEncryptedKey(path, "0x"+testKey, "hunter2"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	key, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, testKey, key)

	_, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
	require.Error(t, err)

	signer, err := LoadSigner(KeyConfig{RawPrivateKey: testKey, EncryptedKeyPath: "/does/not/exist"})
	require.NoError(t, err)
	direct, _ := NewSigner(testKey)
	assert.Equal(t, direct.Address(), signer.Address())

	_, err = LoadKey(KeyConfig{})
	require.ErrorIs(t, err, ErrNoKey)
}

func TestEncryptKeyValidation(t *testing.T) {
	_, err := EncryptKey(testKey, "")
	require.Error(t, err)
	_, err = EncryptKey("abcd", "pw")
	require.Error(t, err)
	_, err = EncryptKey("nothex", "pw")
	require.Error(t, err)

	key, addr, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSigner(key)
	require.NoError(t, err)
	assert.Equal(t, addr, s.Address())
}

func TestKeyFileRecordsAddress(t *testing.T) {
	data, err := EncryptKey(testKey, "pw")
	require.NoError(t, err)

	var kf keyFile
	require.NoError(t, json.Unmarshal(data, &kf))
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), kf.Address)

	// Swapping the recorded address breaks authentication.
	kf.Address = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tampered, err := json.Marshal(kf)
	require.NoError(t, err)
	_, err = DecryptKey(tampered, "pw")
	require.Error(t, err)

	kf.Version = 1
	old, err := json.Marshal(kf)
	require.NoError(t, err)
	_, err = DecryptKey(old, "pw")
	require.ErrorContains(t, err, "unsupported key file version")
}

func TestDecodeSignatureCanonical(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	sig, err := s.SignRequest("POST", "/api/x", 1, nil)
	require.NoError(t, err)

	a, err := DecodeSignature(sig)
	require.NoError(t, err)
	b, err := DecodeSignature(sig[2:])
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.LessOrEqual(t, a[64], byte(1))

	_, err = DecodeSignature(sig[:len(sig)-2] + "05")
	require.ErrorIs(t, err, ErrInvalidSignature)
}
