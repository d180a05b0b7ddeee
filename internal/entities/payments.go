package entities

import "time"

type PaymentStatus string

const (
	PaymentStatusInitiated PaymentStatus = "initiated"
	PaymentStatusVerified  PaymentStatus = "verified"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusVerified || s == PaymentStatusFailed
}

// ConfirmationSource names the path a provider confirmation arrived on.
type ConfirmationSource string

const (
	SourceReturnRedirect ConfirmationSource = "return_redirect"
	SourceWebhook        ConfirmationSource = "webhook"
	SourceSweep          ConfirmationSource = "sweep"
)

type Payment struct {
	ID                uint               `gorm:"primaryKey" json:"id"`
	BookID            uint               `gorm:"index;not null" json:"book_id"`
	CustomerID        uint               `gorm:"index;not null" json:"customer_id"`
	Amount            int64              `json:"amount"` // Price snapshot in minor units
	Currency          string             `gorm:"size:3" json:"currency"`
	ProviderReference string             `gorm:"uniqueIndex;size:255;not null" json:"provider_reference"`
	CheckoutURL       string             `gorm:"size:2048" json:"checkout_url,omitempty"`
	Status            PaymentStatus      `gorm:"index;size:20;default:'initiated'" json:"status"`
	VerifiedAt        *time.Time         `json:"verified_at,omitempty"`
	FailedAt          *time.Time         `json:"failed_at,omitempty"`
	FailureReason     string             `gorm:"size:255" json:"failure_reason,omitempty"`
	ConfirmedVia      ConfirmationSource `gorm:"size:20" json:"confirmed_via,omitempty"`
	CreatedAt         time.Time          `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

// Purchase grants a customer access to a book's files. One per verified payment.
type Purchase struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CustomerID uint      `gorm:"index:idx_purchase_customer_book;not null" json:"customer_id"`
	BookID     uint      `gorm:"index:idx_purchase_customer_book;not null" json:"book_id"`
	PaymentID  uint      `gorm:"uniqueIndex;not null" json:"payment_id"`
	GrantedAt  time.Time `json:"granted_at"`
	Book       *Book     `gorm:"foreignKey:BookID" json:"book,omitempty"`
}

func (Purchase) TableName() string {
	return "purchases"
}
