package audit

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/database/audit"
	"github.com/mrlokans/bookshop/internal/entities"
)

// Service provides high-level audit logging functionality.
type Service struct {
	repo   *audit.Repository
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewService creates a new audit service.
func NewService(repo *audit.Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger}
}

// Log records a generic audit event.
func (s *Service) Log(event *entities.AuditEvent) error {
	return s.repo.LogEvent(event)
}

// LogAsync records an audit event in the background (non-blocking).
func (s *Service) LogAsync(event *entities.AuditEvent) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.repo.LogEvent(event); err != nil {
			s.logger.Error("failed to log audit event",
				zap.String("action", event.Action),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every pending LogAsync write has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// LogBookSubmitted records a book entering the review queue.
func (s *Service) LogBookSubmitted(uploaderID, bookID uint, title string) {
	s.LogAsync(&entities.AuditEvent{
		UserID:      uploaderID,
		EventType:   entities.AuditEventApproval,
		Action:      "book_submit",
		Description: truncate("Submitted for review: "+title, 500),
		EntityType:  "book",
		EntityID:    &bookID,
		Status:      entities.AuditStatusSuccess,
	})
}

// LogBookDecision records an approve or reject decision.
func (s *Service) LogBookDecision(deciderID, bookID uint, title string, status entities.BookStatus) {
	s.LogAsync(&entities.AuditEvent{
		UserID:      deciderID,
		EventType:   entities.AuditEventApproval,
		Action:      "book_" + decisionVerb(status),
		Description: truncate(fmt.Sprintf("Book %q %s", title, status), 500),
		EntityType:  "book",
		EntityID:    &bookID,
		Metadata:    metadata(map[string]any{"status": status}),
		Status:      entities.AuditStatusSuccess,
	})
}

// LogPaymentInitiated records a checkout session being opened.
func (s *Service) LogPaymentInitiated(p *entities.Payment) {
	paymentID := p.ID
	s.LogAsync(&entities.AuditEvent{
		UserID:      p.CustomerID,
		EventType:   entities.AuditEventPayment,
		Action:      "payment_initiate",
		Description: fmt.Sprintf("Checkout opened for book %d", p.BookID),
		EntityType:  "payment",
		EntityID:    &paymentID,
		Metadata: metadata(map[string]any{
			"reference": p.ProviderReference,
			"amount":    p.Amount,
			"currency":  p.Currency,
		}),
		Status: entities.AuditStatusSuccess,
	})
}

// LogPaymentTransition records a payment reaching a terminal state.
func (s *Service) LogPaymentTransition(p *entities.Payment) {
	paymentID := p.ID
	status := entities.AuditStatusSuccess
	if p.Status == entities.PaymentStatusFailed {
		status = entities.AuditStatusFailed
	}
	s.LogAsync(&entities.AuditEvent{
		UserID:      p.CustomerID,
		EventType:   entities.AuditEventPayment,
		Action:      "payment_" + string(p.Status),
		Description: fmt.Sprintf("Payment %s via %s", p.Status, p.ConfirmedVia),
		EntityType:  "payment",
		EntityID:    &paymentID,
		Metadata: metadata(map[string]any{
			"reference": p.ProviderReference,
			"book_id":   p.BookID,
		}),
		Status:   status,
		ErrorMsg: truncate(p.FailureReason, 500),
	})
}

// LogProviderAnomaly records a provider confirmation that could not be matched
// to a local payment.
func (s *Service) LogProviderAnomaly(source entities.ConfirmationSource, reference, providerStatus string, cause error) {
	event := &entities.AuditEvent{
		EventType:   entities.AuditEventWebhook,
		Action:      "confirmation_unmatched",
		Description: truncate("Unmatched provider reference "+reference, 500),
		EntityType:  "payment",
		Metadata: metadata(map[string]any{
			"source":    source,
			"reference": reference,
			"status":    providerStatus,
		}),
		Status: entities.AuditStatusAnomaly,
	}
	if cause != nil {
		event.ErrorMsg = truncate(cause.Error(), 500)
	}
	s.LogAsync(event)
}

// LogAuth records an authentication event.
func (s *Service) LogAuth(userID uint, action string, success bool) {
	event := &entities.AuditEvent{
		UserID:    userID,
		EventType: entities.AuditEventAuth,
		Action:    action,
		Status:    entities.AuditStatusSuccess,
	}
	if !success {
		event.Status = entities.AuditStatusFailed
	}
	s.LogAsync(event)
}

// LogUpload records an object stored for a future submission.
func (s *Service) LogUpload(userID uint, key string, size int64) {
	s.LogAsync(&entities.AuditEvent{
		UserID:      userID,
		EventType:   entities.AuditEventUpload,
		Action:      "object_upload",
		Description: truncate("Uploaded "+key, 500),
		Metadata:    metadata(map[string]any{"key": key, "size": size}),
		Status:      entities.AuditStatusSuccess,
	})
}

// GetEvents lists audit events matching q.
func (s *Service) GetEvents(q audit.Query) ([]entities.AuditEvent, int64, error) {
	return s.repo.GetEvents(q)
}

func decisionVerb(status entities.BookStatus) string {
	if status == entities.BookStatusApproved {
		return "approve"
	}
	return "reject"
}

func metadata(fields map[string]any) string {
	b, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(b)
}

// truncate limits a string to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
