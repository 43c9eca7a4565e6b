package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pulseboard/pulseboard/internal/domain"
)

// SignatureVerifier checks webhook authenticity against a shared secret.
// Verification is opt-in: without a configured secret every payload passes,
// and the disabled state is surfaced on the status endpoint.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier constructs a verifier; an empty secret disables it.
func NewSignatureVerifier(secret string) *SignatureVerifier {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return &SignatureVerifier{}
	}
	return &SignatureVerifier{secret: []byte(trimmed)}
}

// Enabled reports whether a secret is configured.
func (v *SignatureVerifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify checks the signature header against an HMAC of the raw request body.
// The raw bytes matter: re-serializing parsed JSON can change byte content
// and break the digest. With a secret configured a missing header fails
// closed.
func (v *SignatureVerifier) Verify(rawBody []byte, signatureHeader string) error {
	if !v.Enabled() {
		return nil
	}
	provided := strings.TrimSpace(signatureHeader)
	if provided == "" {
		return fmt.Errorf("%w: signature header required", domain.ErrAuthentication)
	}

	var expected string
	switch {
	case strings.HasPrefix(strings.ToLower(provided), "sha256="):
		provided = provided[len("sha256="):]
		expected = v.digestSHA256(rawBody)
	case strings.HasPrefix(strings.ToLower(provided), "sha1="):
		provided = provided[len("sha1="):]
		expected = v.digestSHA1(rawBody)
	default:
		expected = v.digestSHA256(rawBody)
	}

	if !hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected)) {
		return fmt.Errorf("%w: signature mismatch", domain.ErrAuthentication)
	}
	return nil
}

func (v *SignatureVerifier) digestSHA256(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// digestSHA1 supports the legacy X-Hub-Signature header format.
func (v *SignatureVerifier) digestSHA1(body []byte) string {
	mac := hmac.New(sha1.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign produces the sha256 header value for a body. Used by tests and by
// operators verifying their sender configuration.
func (v *SignatureVerifier) Sign(body []byte) string {
	if !v.Enabled() {
		return ""
	}
	return "sha256=" + v.digestSHA256(body)
}
