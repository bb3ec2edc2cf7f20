// Package crypto signs exchange API requests.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Header names sent on every authenticated exchange request.
const (
	HeaderAPIKey    = "api-key"
	HeaderTimestamp = "timestamp"
	HeaderSignature = "signature"
)

// HMACAuth holds the credentials required for HMAC-authenticated requests
// against the exchange REST API.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret, used raw as the HMAC key
}

// Enabled reports whether both key and secret are present.
func (h *HMACAuth) Enabled() bool {
	return h != nil && h.Key != "" && h.Secret != ""
}

// Headers returns the authentication headers for a request. The signature is
// hex(HMAC-SHA256(secret, method+timestamp+path+query+body)). query must
// include its leading "?" when non-empty.
func (h *HMACAuth) Headers(method, path, query, body string) map[string]string {
	return h.HeadersAt(method, path, query, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path, query, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	return map[string]string{
		HeaderAPIKey:    h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: h.Sign(CanonicalString(method, ts, path, query, body)),
	}
}

// Sign returns the hex-encoded HMAC-SHA256 of message.
func (h *HMACAuth) Sign(message string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// CanonicalString builds the string covered by the request signature.
func CanonicalString(method, timestamp, path, query, body string) string {
	return method + timestamp + path + query + body
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
