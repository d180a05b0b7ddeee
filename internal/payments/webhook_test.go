package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/entities"
)

func TestParseProviderStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    entities.PaymentStatus
		wantErr bool
	}{
		{"success", entities.PaymentStatusVerified, false},
		{" SUCCEEDED ", entities.PaymentStatusVerified, false},
		{"paid", entities.PaymentStatusVerified, false},
		{"completed", entities.PaymentStatusVerified, false},
		{"failed", entities.PaymentStatusFailed, false},
		{"canceled", entities.PaymentStatusFailed, false},
		{"expired", entities.PaymentStatusFailed, false},
		{"declined", entities.PaymentStatusFailed, false},
		{"pending", entities.PaymentStatusInitiated, false},
		{"processing", entities.PaymentStatusInitiated, false},
		{"", "", true},
		{"refunded", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseProviderStatus(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrProvider)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"provider_reference":"cs_1","status":"success"}`)
	now := time.Unix(1_700_000_000, 0)
	header := Sign(secret, body, now)

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, VerifySignature(secret, header, body, now.Add(time.Minute), 5*time.Minute))
	})

	t.Run("tampered body", func(t *testing.T) {
		tampered := []byte(`{"provider_reference":"cs_2","status":"success"}`)
		assert.ErrorIs(t, VerifySignature(secret, header, tampered, now, 5*time.Minute), ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.ErrorIs(t, VerifySignature([]byte("other"), header, body, now, 5*time.Minute), ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		err := VerifySignature(secret, header, body, now.Add(10*time.Minute), 5*time.Minute)
		assert.ErrorIs(t, err, ErrStaleSignature)
		assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	})

	t.Run("missing and garbled headers", func(t *testing.T) {
		assert.ErrorIs(t, VerifySignature(secret, "", body, now, 0), ErrMissingSignature)
		assert.ErrorIs(t, VerifySignature(secret, "v1=abc", body, now, 0), ErrInvalidSignature)
		assert.ErrorIs(t, VerifySignature(secret, "t=notanumber,v1=abc", body, now, 0), ErrInvalidSignature)
	})

	t.Run("any of several signatures", func(t *testing.T) {
		multi := header + ",v1=deadbeef"
		assert.NoError(t, VerifySignature(secret, multi, body, now, time.Minute))
	})
}

func TestParseWebhookEvents(t *testing.T) {
	events, err := ParseWebhookEvents([]byte(`{"events":[{"id":"evt_1","provider_reference":"a","status":"paid"},{"id":"evt_2","provider_reference":"b","status":"failed"}]}`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evt_2", events[1].ID)

	events, err = ParseWebhookEvents([]byte(`{"id":"evt_3","provider_reference":"c","status":"success"}`))
	require.NoError(t, err)
	assert.Equal(t, []WebhookEvent{{ID: "evt_3", ProviderReference: "c", Status: "success"}}, events)

	for _, body := range []string{"", "not json", `{"foo":"bar"}`} {
		_, err := ParseWebhookEvents([]byte(body))
		assert.ErrorIs(t, err, apperrors.ErrValidation, body)
	}
}
