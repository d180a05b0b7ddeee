package interfaces

// This file contains compile-time interface implementation checks.
// These ensure that concrete types satisfy their interfaces at compile time,
// catching missing methods before runtime.
//
// To verify all checks pass: go build ./internal/interfaces/...

import (
	"github.com/mrlokans/bookshop/internal/approval"
	"github.com/mrlokans/bookshop/internal/audit"
	"github.com/mrlokans/bookshop/internal/auth"
	"github.com/mrlokans/bookshop/internal/checkout"
	dbaudit "github.com/mrlokans/bookshop/internal/database/audit"
	"github.com/mrlokans/bookshop/internal/database/books"
	dbpayments "github.com/mrlokans/bookshop/internal/database/payments"
	"github.com/mrlokans/bookshop/internal/events"
	"github.com/mrlokans/bookshop/internal/http"
	"github.com/mrlokans/bookshop/internal/notify"
	"github.com/mrlokans/bookshop/internal/payments"
	"github.com/mrlokans/bookshop/internal/scheduler"
	"github.com/mrlokans/bookshop/internal/storage"
	"github.com/mrlokans/bookshop/internal/tasks"
)

// =============================================================================
// Data Access Layer
// =============================================================================

var _ approval.Store = (*books.Repository)(nil)
var _ payments.BookReader = (*books.Repository)(nil)
var _ http.CatalogStore = (*books.Repository)(nil)
var _ payments.Store = (*dbpayments.Repository)(nil)
var _ tasks.AuditEventCleaner = (*dbaudit.Repository)(nil)

// =============================================================================
// Workflows
// =============================================================================

var _ http.ApprovalWorkflow = (*approval.Service)(nil)
var _ http.PaymentWorkflow = (*payments.Service)(nil)
var _ tasks.PaymentSweeper = (*payments.Service)(nil)

// Hooks
var _ approval.Hooks = (*notify.Dispatcher)(nil)
var _ payments.Hooks = (*notify.Dispatcher)(nil)

// =============================================================================
// Payment Providers
// =============================================================================

var _ checkout.Provider = (*checkout.Client)(nil)
var _ checkout.Provider = (*checkout.Sandbox)(nil)
var _ checkout.Provider = (*checkout.Guarded)(nil)

// =============================================================================
// Object Storage
// =============================================================================

var _ storage.ObjectStore = (*storage.DiskStore)(nil)
var _ storage.ObjectStore = (*storage.MinioStore)(nil)
var _ approval.ObjectChecker = (storage.ObjectStore)(nil)
var _ http.ObjectUploader = (*storage.Uploader)(nil)

// =============================================================================
// Events and Background Work
// =============================================================================

var _ events.Publisher = (*events.KafkaPublisher)(nil)
var _ events.Publisher = (*events.LogPublisher)(nil)
var _ notify.Enqueuer = (*tasks.Client)(nil)
var _ notify.Enqueuer = notify.Inline{}
var _ scheduler.TaskAdder = (*tasks.Client)(nil)
var _ http.TaskStatusReader = (*tasks.Client)(nil)
var _ http.JobRunner = (*scheduler.Scheduler)(nil)

// =============================================================================
// Audit
// =============================================================================

var _ auth.Auditor = (*audit.Service)(nil)
var _ http.UploadAuditor = (*audit.Service)(nil)
var _ http.AuditReader = (*audit.Service)(nil)
