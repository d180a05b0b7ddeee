package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/auth"
	"github.com/mrlokans/bookshop/internal/entities"
	"github.com/mrlokans/bookshop/internal/payments"
)

// maxWebhookBody caps the webhook payload read before signature checks.
const maxWebhookBody = 1 << 20

// WebhookConfig authenticates provider notifications. An empty secret
// disables signature checks; only the sandbox provider may run that way.
type WebhookConfig struct {
	Secret    []byte
	Tolerance time.Duration
}

// PaymentsController serves checkout, confirmations and purchase history.
type PaymentsController struct {
	payments PaymentWorkflow
	webhook  WebhookConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewPaymentsController(workflow PaymentWorkflow, webhook WebhookConfig, logger *zap.Logger) *PaymentsController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentsController{payments: workflow, webhook: webhook, logger: logger, now: time.Now}
}

// Create handles POST /api/books/:id/payments and returns where to send the
// buyer.
func (pc *PaymentsController) Create(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	checkout, err := pc.payments.CreatePayment(c.Request.Context(), auth.ActorFromContext(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, checkout)
}

// ReturnResponse is the definitive answer shown to a buyer coming back from
// checkout.
type ReturnResponse struct {
	Status    string     `json:"status"` // verified, failed, initiated or not_found
	Reference string     `json:"reference"`
	PaymentID uint       `json:"payment_id,omitempty"`
	BookID    uint       `json:"book_id,omitempty"`
	Applied   bool       `json:"applied"`
	Verified  *time.Time `json:"verified_at,omitempty"`
}

const statusNotFound = "not_found"

// Return handles GET and POST /api/payments/return. The provider redirects the
// buyer here with reference and status, from the query string or a form.
func (pc *PaymentsController) Return(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		reference = c.PostForm("reference")
	}
	status := c.Query("status")
	if status == "" {
		status = c.PostForm("status")
	}

	result, err := pc.payments.Reconcile(c.Request.Context(), payments.Confirmation{
		Reference: reference,
		Status:    status,
		Source:    entities.SourceReturnRedirect,
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		_ = c.Error(err)
		c.JSON(http.StatusNotFound, ReturnResponse{Status: statusNotFound, Reference: reference})
		return
	}
	if err != nil {
		respondErr(c, err)
		return
	}

	p := result.Payment
	c.JSON(http.StatusOK, ReturnResponse{
		Status:    string(p.Status),
		Reference: p.ProviderReference,
		PaymentID: p.ID,
		BookID:    p.BookID,
		Applied:   result.Outcome == payments.OutcomeApplied,
		Verified:  p.VerifiedAt,
	})
}

// WebhookResult acknowledges one event of a webhook delivery.
type WebhookResult struct {
	EventID   string `json:"id,omitempty"`
	Reference string `json:"reference"`
	Result    string `json:"result"` // applied, noop, pending, unknown_reference, rejected or error
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Received int             `json:"received"`
	Results  []WebhookResult `json:"results"`
}

// Webhook handles POST /api/payments/webhook.
//
// Every event is reconciled on its own. Unknown references and malformed
// events are acknowledged so one bad event never fails the batch. Only a
// storage failure answers 500, asking the provider to redeliver; events that
// were already applied are no-ops the second time.
func (pc *PaymentsController) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		respondErr(c, apperrors.Invalid("body", "could not be read"))
		return
	}
	if len(body) > maxWebhookBody {
		respondErr(c, apperrors.Invalid("body", fmt.Sprintf("exceeds %d bytes", maxWebhookBody)))
		return
	}

	if len(pc.webhook.Secret) > 0 {
		err := payments.VerifySignature(pc.webhook.Secret, c.GetHeader(payments.SignatureHeader), body, pc.now(), pc.webhook.Tolerance)
		if err != nil {
			pc.logger.Warn("rejected webhook", zap.String("ip", c.ClientIP()), zap.Error(err))
			respondErr(c, err)
			return
		}
	}

	evts, err := payments.ParseWebhookEvents(body)
	if err != nil {
		respondErr(c, err)
		return
	}

	resp := WebhookResponse{Received: len(evts), Results: make([]WebhookResult, 0, len(evts))}
	retry := false
	for _, evt := range evts {
		res := WebhookResult{EventID: evt.ID, Reference: evt.ProviderReference}
		result, err := pc.payments.Reconcile(c.Request.Context(), payments.Confirmation{
			Reference: evt.ProviderReference,
			Status:    evt.Status,
			Source:    entities.SourceWebhook,
			EventID:   evt.ID,
		})
		switch {
		case err == nil:
			res.Result = string(result.Outcome)
			res.Status = string(result.Payment.Status)
		case errors.Is(err, apperrors.ErrUnknownReference):
			res.Result = "unknown_reference"
		case errors.Is(err, apperrors.ErrProvider), errors.Is(err, apperrors.ErrValidation):
			res.Result = "rejected"
			res.Error = err.Error()
		default:
			retry = true
			res.Result = "error"
			_ = c.Error(err)
			pc.logger.Error("webhook event could not be reconciled",
				zap.String("event_id", evt.ID),
				zap.String("reference", evt.ProviderReference),
				zap.Error(err))
		}
		resp.Results = append(resp.Results, res)
	}

	if retry {
		c.JSON(http.StatusInternalServerError, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Get handles GET /api/payments/:id.
func (pc *PaymentsController) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	payment, err := pc.payments.GetPayment(c.Request.Context(), auth.ActorFromContext(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// ListPayments handles GET /api/me/payments.
func (pc *PaymentsController) ListPayments(c *gin.Context) {
	list, err := pc.payments.ListPayments(c.Request.Context(), auth.ActorFromContext(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondList(c, list)
}

// ListPurchases handles GET /api/me/purchases.
func (pc *PaymentsController) ListPurchases(c *gin.Context) {
	list, err := pc.payments.ListPurchases(c.Request.Context(), auth.ActorFromContext(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondList(c, list)
}
