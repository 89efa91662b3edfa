package channel

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"log/slog"
	"net/http"
	"strings"

	"autoreply/internal/domain"
)

// Algorithm names the HMAC hash a platform signs webhook bodies with.
// The value doubles as the signature header prefix ("sha1=", "sha256=").
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
)

func (a Algorithm) newHash() func() hash.Hash {
	if a == SHA1 {
		return sha1.New
	}
	return sha256.New
}

// Sign returns the header value a platform would send for body, e.g. "sha256=ab12...".
func Sign(algo Algorithm, secret string, body []byte) string {
	mac := hmac.New(algo.newHash(), []byte(secret))
	mac.Write(body)
	return string(algo) + "=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid HMAC of the exact body bytes.
// The algorithm prefix is optional; comparison is constant time.
func Verify(algo Algorithm, secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	provided := strings.TrimPrefix(signature, string(algo)+"=")
	got, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(algo.newHash(), []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Verifier checks one platform's signature header.
type Verifier struct {
	Platform  domain.Platform
	Header    string
	Algorithm Algorithm
	Secret    string
	Logger    *slog.Logger
}

// Check verifies the request signature. With no secret configured the check
// is skipped (skipped=true) and a warning is logged. A missing header while a
// secret is configured is always a *domain.SignatureError.
func (v Verifier) Check(headers http.Header, body []byte) (skipped bool, err error) {
	if v.Secret == "" {
		if v.Logger != nil {
			v.Logger.Warn("webhook signature verification skipped: no app secret configured",
				"platform", v.Platform)
		}
		return true, nil
	}
	sig := headers.Get(v.Header)
	if sig == "" {
		return false, &domain.SignatureError{Platform: v.Platform, Header: v.Header, Reason: "missing signature header"}
	}
	if !Verify(v.Algorithm, v.Secret, body, sig) {
		return false, &domain.SignatureError{Platform: v.Platform, Header: v.Header, Reason: "signature mismatch"}
	}
	return false, nil
}
