// Package interfaces documents the core abstractions used throughout the application.
//
// This package consolidates interface documentation to help contributors find
// extension points. It contains no runtime code, only compile-time checks.
//
// # Interface Categories
//
// ## Data Access Interfaces
//
//   - approval.Store: Book persistence for submissions and decisions (internal/approval/service.go)
//   - payments.Store: Payments, transitions and purchases (internal/payments/service.go)
//   - http.CatalogStore: Public catalogue reads and counters (internal/http/stores.go)
//
// ## Workflow Hooks
//
//   - approval.Hooks: Called after a submission or decision commits
//   - payments.Hooks: Called after a payment is created or transitions
//
// Both are implemented by notify.Dispatcher, which writes the audit trail and
// hands events to a notify.Enqueuer.
//
// ## External Service Interfaces
//
//   - checkout.Provider: Hosted checkout sessions (internal/checkout/provider.go)
//   - storage.ObjectStore: Covers and book files (internal/storage/store.go)
//   - events.Publisher: Domain event delivery (internal/events/events.go)
//
// # Adding a New Payment Provider
//
//  1. Implement checkout.Provider in internal/checkout/
//
//     type AcmePay struct {
//         httpClient *http.Client
//     }
//
//     func (a *AcmePay) CreateCheckoutSession(ctx context.Context, req Request) (Session, error)
//     func (a *AcmePay) SessionStatus(ctx context.Context, reference string) (string, error)
//
//     var _ Provider = (*AcmePay)(nil)
//
//  2. Map its status vocabulary in payments.ParseProviderStatus if it differs.
//
//  3. Select it in entrypoint.NewProvider and wrap it with checkout.NewGuarded.
//
// # Adding a New Storage Backend
//
//  1. Implement storage.ObjectStore in internal/storage/. Return
//     storage.ErrPresignNotSupported from PresignGet if downloads must be
//     streamed through the server.
//
//  2. Add a backend constant to config and a case to storage.New.
//
// # Compile-Time Interface Checks
//
// All implementations should include compile-time checks to ensure they satisfy
// their interfaces:
//
//	var _ SomeInterface = (*MyImplementation)(nil)
//
// See checks.go for the full list.
package interfaces
