package payments

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mrlokans/bookshop/internal/apperrors"
)

// SignatureHeader carries the webhook signature: "t=<unix seconds>,v1=<hex>".
// The MAC is HMAC-SHA256 over "<t>.<raw body>" keyed with the shared secret.
const SignatureHeader = "X-Signature"

var (
	ErrMissingSignature = fmt.Errorf("missing webhook signature: %w", apperrors.ErrUnauthenticated)
	ErrInvalidSignature = fmt.Errorf("invalid webhook signature: %w", apperrors.ErrUnauthenticated)
	ErrStaleSignature   = fmt.Errorf("webhook signature timestamp outside tolerance: %w", apperrors.ErrUnauthenticated)
)

// WebhookEvent is one provider notification.
type WebhookEvent struct {
	ID                string `json:"id"`
	ProviderReference string `json:"provider_reference"`
	Status            string `json:"status"`
}

// Sign computes the signature header value for body at time t.
func Sign(secret []byte, body []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v1=" + mac(secret, ts, body)
}

// VerifySignature checks header against body. A zero tolerance disables the
// timestamp check.
func VerifySignature(secret []byte, header string, body []byte, now time.Time, tolerance time.Duration) error {
	if strings.TrimSpace(header) == "" {
		return ErrMissingSignature
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			sigs = append(sigs, value)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(unix, 0))
		if skew < -tolerance || skew > tolerance {
			return ErrStaleSignature
		}
	}

	expected := []byte(mac(secret, ts, body))
	for _, sig := range sigs {
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func mac(secret []byte, ts string, body []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// ParseWebhookEvents accepts either {"events":[...]} or a single event object.
func ParseWebhookEvents(body []byte) ([]WebhookEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, apperrors.Invalid("body", "is empty")
	}

	var batch struct {
		Events []WebhookEvent `json:"events"`
	}
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return nil, apperrors.Invalid("body", "is not valid JSON")
	}
	if batch.Events != nil {
		return batch.Events, nil
	}

	var single WebhookEvent
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, apperrors.Invalid("body", "is not valid JSON")
	}
	if single.ProviderReference == "" && single.Status == "" {
		return nil, apperrors.Invalid("body", "contains no events")
	}
	return []WebhookEvent{single}, nil
}
