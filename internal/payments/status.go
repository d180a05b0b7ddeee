package payments

import (
	"fmt"
	"strings"

	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/entities"
)

// providerOutcome classifies a provider's raw status string.
type providerOutcome int

const (
	outcomeSuccess providerOutcome = iota + 1
	outcomeFailure
	outcomePending
)

var providerStatuses = map[string]providerOutcome{
	"success":    outcomeSuccess,
	"succeeded":  outcomeSuccess,
	"paid":       outcomeSuccess,
	"completed":  outcomeSuccess,
	"complete":   outcomeSuccess,
	"failed":     outcomeFailure,
	"failure":    outcomeFailure,
	"canceled":   outcomeFailure,
	"cancelled":  outcomeFailure,
	"expired":    outcomeFailure,
	"declined":   outcomeFailure,
	"pending":    outcomePending,
	"processing": outcomePending,
	"open":       outcomePending,
}

// ParseProviderStatus maps a provider status onto the payment state it implies.
// Statuses that mean "not settled yet" map to initiated. Anything unrecognised
// is an apperrors.ErrProvider.
func ParseProviderStatus(raw string) (entities.PaymentStatus, error) {
	switch providerStatuses[strings.ToLower(strings.TrimSpace(raw))] {
	case outcomeSuccess:
		return entities.PaymentStatusVerified, nil
	case outcomeFailure:
		return entities.PaymentStatusFailed, nil
	case outcomePending:
		return entities.PaymentStatusInitiated, nil
	}
	return "", fmt.Errorf("unrecognised provider status %q: %w", raw, apperrors.ErrProvider)
}
