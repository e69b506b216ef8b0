package middleware

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/crypto"
	"github.com/alanyoungcy/bondledger/internal/domain"
)

const maxSignedBody = 1 << 20

type senderKey struct{}

// WithSender returns ctx carrying the authenticated invocation sender.
func WithSender(ctx context.Context, sender common.Address) context.Context {
	return context.WithValue(ctx, senderKey{}, sender)
}

// SenderFrom returns the sender recovered by the Signature middleware.
func SenderFrom(ctx context.Context) (common.Address, bool) {
	sender, ok := ctx.Value(senderKey{}).(common.Address)
	return sender, ok
}

// SignatureConfig configures request-signature verification.
type SignatureConfig struct {
	// Tolerance bounds the clock skew between the signed timestamp and now.
	Tolerance time.Duration
	// Replay, when set, remembers each signed command for twice the
	// tolerance and rejects a second request carrying it. Errors other than
	// a held key fail the request.
	Replay domain.LockManager
	Now    func() time.Time
	Logger *slog.Logger
}

// replayKey identifies a signed command independently of how its signature
// is encoded, so a command is accepted once per sender.
func replayKey(sender common.Address, method, path string, ts int64, body []byte) string {
	digest := crypto.RequestDigest(method, path, ts, body)
	return "sig:" + strings.ToLower(sender.Hex()) + ":" + hex.EncodeToString(digest)
}

// Signature returns middleware that authenticates a command by the secp256k1
// signature in the X-Ledger-* headers. The recovered address must equal the
// claimed one and becomes the invocation sender.
func Signature(cfg SignatureConfig) func(http.Handler) http.Handler {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claimed := strings.TrimSpace(r.Header.Get(crypto.HeaderAddress))
			tsRaw := strings.TrimSpace(r.Header.Get(crypto.HeaderTimestamp))
			sig := strings.TrimSpace(r.Header.Get(crypto.HeaderSignature))
			if claimed == "" || tsRaw == "" || sig == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing request signature")
				return
			}
			if !common.IsHexAddress(claimed) {
				writeJSONError(w, http.StatusUnauthorized, "invalid signer address")
				return
			}
			ts, err := strconv.ParseInt(tsRaw, 10, 64)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid signature timestamp")
				return
			}
			if skew := cfg.Now().Sub(time.Unix(ts, 0)); skew > cfg.Tolerance || skew < -cfg.Tolerance {
				writeJSONError(w, http.StatusUnauthorized, "signature timestamp outside tolerance")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "failed to read body")
				return
			}
			if len(body) > maxSignedBody {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			sender := common.HexToAddress(claimed)
			if err := crypto.VerifyRequest(sender, r.Method, r.URL.Path, ts, body, sig); err != nil {
				cfg.Logger.WarnContext(r.Context(), "middleware: signature rejected",
					slog.String("claimed", sender.Hex()),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeJSONError(w, http.StatusUnauthorized, "invalid request signature")
				return
			}

			if cfg.Replay != nil {
				key := replayKey(sender, r.Method, r.URL.Path, ts, body)
				if _, err := cfg.Replay.Acquire(r.Context(), key, 2*cfg.Tolerance); err != nil {
					if errors.Is(err, domain.ErrLockHeld) {
						writeJSONError(w, http.StatusUnauthorized, "request signature already used")
						return
					}
					cfg.Logger.ErrorContext(r.Context(), "middleware: replay check failed",
						slog.String("error", err.Error()),
					)
					writeJSONError(w, http.StatusServiceUnavailable, "replay check unavailable")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithSender(r.Context(), sender)))
		})
	}
}
