package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// eventKeyHashPrefix marks keys derived from the raw payload.
const eventKeyHashPrefix = "sha256:"

// Intake turns raw alert payloads into signals and claims their idempotency
// keys.
type Intake struct {
	claims domain.ClaimStore
	now    func() time.Time
}

// NewIntake creates an Intake that claims keys in claims.
func NewIntake(claims domain.ClaimStore) *Intake {
	return &Intake{claims: claims, now: time.Now}
}

// Normalize extracts a signal from raw. JSON objects are read field by field;
// fields still missing are then taken from the message or text field and
// finally from the raw body. Anything else is treated as free text.
// Normalize never fails; a signal missing required fields is simply not
// actionable.
func (i *Intake) Normalize(raw []byte, contentType string) domain.Signal {
	sig := domain.Signal{ReceivedAt: i.now().UTC()}

	trimmed := bytes.TrimSpace(raw)
	if looksLikeJSON(trimmed, contentType) {
		var obj map[string]any
		if err := payloadJSON.Unmarshal(trimmed, &obj); err == nil && obj != nil {
			extractStructured(&sig, obj)
			sig.RawText = string(trimmed)
			if text := messageText(obj); text != "" {
				sig.RawText = text
				extractText(&sig, text)
			}
			if !sig.Actionable() {
				extractText(&sig, string(trimmed))
			}
			return sig
		}
	}

	sig.RawText = string(trimmed)
	extractText(&sig, sig.RawText)
	return sig
}

func looksLikeJSON(b []byte, contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "json") || bytes.HasPrefix(b, []byte("{"))
}

func messageText(obj map[string]any) string {
	for _, key := range []string{"message", "text"} {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// EventKey returns eventID when the sender supplied one, otherwise a hash of
// raw. Identical payloads without an event id share a key.
func (i *Intake) EventKey(raw []byte, eventID string) string {
	if id := strings.TrimSpace(eventID); id != "" {
		return id
	}
	sum := sha256.Sum256(raw)
	return eventKeyHashPrefix + hex.EncodeToString(sum[:])
}

// Claim records key and reports whether this call claimed it first.
func (i *Intake) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := i.claims.Claim(ctx, key)
	if err != nil {
		return false, fmt.Errorf("intake: claim %s: %w", key, err)
	}
	return ok, nil
}

// Release gives up a claim taken by Claim.
func (i *Intake) Release(ctx context.Context, key string) error {
	if err := i.claims.Release(ctx, key); err != nil {
		return fmt.Errorf("intake: release %s: %w", key, err)
	}
	return nil
}
