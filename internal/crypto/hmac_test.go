package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadersAtSignsCanonicalString(t *testing.T) {
	auth := &HMACAuth{Key: "abcd1234", Secret: "s3cret"}

	headers := auth.HeadersAt("POST", "/v2/orders", "", `{"size":1}`, 1700000000)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(`POST1700000000/v2/orders{"size":1}`))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, "abcd1234", headers[HeaderAPIKey])
	assert.Equal(t, "1700000000", headers[HeaderTimestamp])
	assert.Equal(t, want, headers[HeaderSignature])
}

func TestCanonicalStringIncludesQuery(t *testing.T) {
	got := CanonicalString("GET", "1", "/v2/products", "?page_size=100", "")
	assert.Equal(t, "GET1/v2/products?page_size=100", got)
}

func TestSignatureChangesWithQuery(t *testing.T) {
	auth := &HMACAuth{Key: "k", Secret: "s"}
	a := auth.HeadersAt("GET", "/v2/products", "", "", 1)
	b := auth.HeadersAt("GET", "/v2/products", "?after=x", "", 1)
	assert.NotEqual(t, a[HeaderSignature], b[HeaderSignature])
}

func TestEnabledAndString(t *testing.T) {
	var nilAuth *HMACAuth
	assert.False(t, nilAuth.Enabled())
	assert.False(t, (&HMACAuth{Key: "k"}).Enabled())

	auth := &HMACAuth{Key: "abcdefgh", Secret: "12345678"}
	assert.True(t, auth.Enabled())
	assert.Equal(t, "HMACAuth{key=abcd****, secret=1234****}", auth.String())
}
