package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Headers carrying a signed ledger command.
const (
	HeaderAddress   = "X-Ledger-Address"
	HeaderTimestamp = "X-Ledger-Timestamp"
	HeaderSignature = "X-Ledger-Signature"
)

// ErrInvalidSignature is returned when a request signature is malformed or
// does not recover to the claimed address.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// Signer signs ledger commands with a secp256k1 key. The recovered address of
// a signature is the sender of the command.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest signs the canonical form of a request and returns a 0x-prefixed
// 65-byte signature (r || s || v, v in {27, 28}).
func (s *Signer) SignRequest(method, path string, timestamp int64, body []byte) (string, error) {
	sig, err := ethcrypto.Sign(RequestDigest(method, path, timestamp, body), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// Headers returns the three signature headers for a request sent at now.
func (s *Signer) Headers(method, path string, body []byte, now time.Time) (map[string]string, error) {
	ts := now.Unix()
	sig, err := s.SignRequest(method, path, ts, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAddress:   s.address.Hex(),
		HeaderTimestamp: strconv.FormatInt(ts, 10),
		HeaderSignature: sig,
	}, nil
}

// RequestDigest is the hash that gets signed for a request:
//
//	keccak256("\x19Ethereum Signed Message:\n32" || keccak256(method "\n" path "\n" timestamp "\n" keccak256(body)))
func RequestDigest(method, path string, timestamp int64, body []byte) []byte {
	inner := ethcrypto.Keccak256(
		[]byte(strings.ToUpper(method)), []byte("\n"),
		[]byte(path), []byte("\n"),
		[]byte(strconv.FormatInt(timestamp, 10)), []byte("\n"),
		ethcrypto.Keccak256(body),
	)
	return ethcrypto.Keccak256([]byte("\x19Ethereum Signed Message:\n32"), inner)
}

// DecodeSignature parses a hex request signature into its canonical 65-byte
// form: v normalised to 0 or 1 and s in the lower half of the curve order.
// Every accepted encoding of one signature decodes to the same bytes.
func DecodeSignature(sigHex string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(sigHex, "0x"), "0X"))
	if err != nil || len(sig) != 65 {
		return nil, ErrInvalidSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !ethcrypto.ValidateSignatureValues(sig[64], r, s, true) {
		return nil, ErrInvalidSignature
	}
	return sig, nil
}

// RecoverRequest returns the address that produced sigHex over the request.
func RecoverRequest(method, path string, timestamp int64, body []byte, sigHex string) (common.Address, error) {
	sig, err := DecodeSignature(sigHex)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(RequestDigest(method, path, timestamp, body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest recovers the signer of a request and checks it against the
// claimed address.
func VerifyRequest(claimed common.Address, method, path string, timestamp int64, body []byte, sigHex string) error {
	addr, err := RecoverRequest(method, path, timestamp, body, sigHex)
	if err != nil {
		return err
	}
	if addr != claimed {
		return fmt.Errorf("%w: recovered %s", ErrInvalidSignature, addr.Hex())
	}
	return nil
}

// GenerateKey returns a fresh hex-encoded private key and its address.
func GenerateKey() (string, common.Address, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", common.Address{}, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(pk)), ethcrypto.PubkeyToAddress(pk.PublicKey), nil
}
