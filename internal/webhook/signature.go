// Package webhook signs outbound task notifications and verifies inbound
// callbacks.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Timestamp"

	// DefaultReplayWindow is the oldest timestamp a receiver accepts.
	DefaultReplayWindow = 300 * time.Second

	maxCallbackBody = 1 << 20
)

// ErrVerification matches every *VerificationError.
var ErrVerification = errors.New("webhook verification failed")

// VerificationError explains why an inbound webhook was refused.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrVerification, e.Reason)
}

func (e *VerificationError) Is(target error) bool {
	return target == ErrVerification
}

// Signer computes webhook signatures with a shared secret.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the hex HMAC-SHA256 of "<unix seconds>.<payload>".
func (s *Signer) Sign(payload []byte, ts time.Time) string {
	return hex.EncodeToString(s.mac(payload, ts.Unix()))
}

func (s *Signer) mac(payload []byte, unix int64) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(strconv.FormatInt(unix, 10)))
	h.Write([]byte("."))
	h.Write(payload)
	return h.Sum(nil)
}

// Verifier checks the signature and freshness of inbound webhooks.
type Verifier struct {
	signer *Signer
	window time.Duration
	now    func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithNow overrides the verifier's clock.
func WithNow(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a Verifier. A non-positive window means DefaultReplayWindow.
func NewVerifier(secret string, window time.Duration, opts ...VerifierOption) *Verifier {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	v := &Verifier{signer: NewSigner(secret), window: window, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the X-Signature and X-Timestamp header values against body. A
// timestamp exactly window seconds old is still accepted.
func (v *Verifier) Verify(signature, timestamp string, body []byte) error {
	if signature == "" {
		return &VerificationError{Reason: "missing signature"}
	}
	if timestamp == "" {
		return &VerificationError{Reason: "missing timestamp"}
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return &VerificationError{Reason: "malformed timestamp"}
	}
	now := v.now().Unix()
	if unix > now {
		return &VerificationError{Reason: "timestamp is in the future"}
	}
	// compared in seconds; a Duration overflows for timestamps centuries old
	if now-unix > int64(v.window/time.Second) {
		return &VerificationError{Reason: "timestamp outside replay window"}
	}

	got, err := hex.DecodeString(signature)
	if err != nil {
		return &VerificationError{Reason: "malformed signature"}
	}
	if !hmac.Equal(got, v.signer.mac(body, unix)) {
		return &VerificationError{Reason: "signature mismatch"}
	}
	return nil
}

// Middleware rejects requests that fail verification with 401. Verified bodies
// are restored so the handler can bind them.
func (v *Verifier) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			body, err := io.ReadAll(io.LimitReader(req.Body, maxCallbackBody))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
			}
			_ = req.Body.Close()

			if err := v.Verify(req.Header.Get(SignatureHeader), req.Header.Get(TimestampHeader), body); err != nil {
				c.Logger().Warnf("rejected webhook from %s: %v", c.RealIP(), err)
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error()).SetInternal(err)
			}

			req.Body = io.NopCloser(bytes.NewReader(body))
			return next(c)
		}
	}
}
