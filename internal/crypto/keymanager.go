// Package crypto provides the ledger admin key store, secp256k1 request
// signatures and HMAC webhook signatures.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 2
)

var (
	// ErrNoKey is returned by LoadKey when neither key source is configured.
	ErrNoKey = errors.New("crypto: no private key source configured")
	// ErrKeyMismatch is returned when a key file decrypts to a key whose
	// address differs from the one recorded next to it.
	ErrKeyMismatch = errors.New("crypto: key does not match recorded address")
)

// keyFile is the on-disk format of an encrypted admin key. The address is
// stored in clear so operators can tell key files apart without the password.
type keyFile struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	Salt       string         `json:"salt"`
	Nonce      string         `json:"nonce"`
	Ciphertext string         `json:"ciphertext"`
}

// KeyConfig says where LoadKey finds the admin private key.
type KeyConfig struct {
	// RawPrivateKey is hex, with or without 0x. It wins over the file.
	RawPrivateKey string

	// EncryptedKeyPath points at a file written by WriteEncryptedKey.
	EncryptedKeyPath string
	KeyPassword      string
}

// EncryptKey seals a hex private key with a password-derived AES-256-GCM key
// (PBKDF2-HMAC-SHA256) and returns the key file JSON.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := passwordAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)
	// The address is bound as additional data so it cannot be swapped.
	sealed := gcm.Seal(nil, nonce, ethcrypto.FromECDSA(pk), addr.Bytes())

	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Address:    addr,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the hex
// private key without 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parsing key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}

	var salt, nonce, sealed []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", kf.Salt, &salt},
		{"nonce", kf.Nonce, &nonce},
		{"ciphertext", kf.Ciphertext, &sealed},
	} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: decoding %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := passwordAEAD(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce has %d bytes, want %d", len(nonce), gcm.NonceSize())
	}
	raw, err := gcm.Open(nil, nonce, sealed, kf.Address.Bytes())
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypted key invalid: %w", err)
	}
	if ethcrypto.PubkeyToAddress(pk.PublicKey) != kf.Address {
		return "", ErrKeyMismatch
	}
	return hex.EncodeToString(raw), nil
}

func passwordAEAD(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// LoadKey resolves the hex private key from cfg, raw key first.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: RawPrivateKey is not valid hex: %w", err)
		}
		return k, nil
	}

	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}

	return "", ErrNoKey
}

// WriteEncryptedKey encrypts privateKeyHex with password and writes it to
// path with owner-only permissions.
func WriteEncryptedKey(path, privateKeyHex, password string) error {
	data, err := EncryptKey(privateKeyHex, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("crypto: write key file %s: %w", path, err)
	}
	return nil
}

// LoadSigner resolves the key from cfg and builds a Signer from it.
func LoadSigner(cfg KeyConfig) (*Signer, error) {
	key, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewSigner(key)
}
