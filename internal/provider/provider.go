package provider

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/inamkkkk/funding-inam/internal/domain"
)

// Intent is the provider-side handle created for a new pledge. Reference is
// the opaque string the provider will later use in its settlement events.
type Intent struct {
	Reference string `json:"reference"`
	// CheckoutURL is set for redirect-based providers (card, wallet).
	CheckoutURL string `json:"checkout_url,omitempty"`
	// DepositAddress is set for the crypto provider.
	DepositAddress string `json:"deposit_address,omitempty"`
}

type RefundOutcome string

const (
	RefundConfirmed RefundOutcome = "confirmed"
	// RefundPending means the provider accepted the refund but cannot
	// confirm it synchronously; the ledger reversal waits for an
	// out-of-band confirmation event.
	RefundPending  RefundOutcome = "pending"
	RefundRejected RefundOutcome = "rejected"
)

type RefundResult struct {
	Outcome RefundOutcome `json:"outcome"`
	// Reference identifies the refund at the provider and doubles as the
	// idempotency key for the ledger reversal.
	Reference string `json:"reference"`
}

// Adapter is the capability interface each payment provider implements. The
// engine never talks to a provider network directly; everything goes through
// an Adapter.
type Adapter interface {
	Provider() domain.Provider

	// CreateIntent registers a payment intent for a pledge and returns the
	// provider reference used to correlate later settlement events.
	CreateIntent(ctx context.Context, campaignID, userID string, amount decimal.Decimal, metadata map[string]string) (*Intent, error)

	// VerifyAndParse authenticates a raw webhook payload and normalizes it
	// into the canonical settlement event. Authentication failures return
	// domain.ErrAuthenticationFailed and never reach the engine.
	VerifyAndParse(rawPayload []byte, signatureHeader string) (*domain.SettlementEvent, error)

	// IssueRefund asks the provider to reverse a settled payment.
	IssueRefund(ctx context.Context, providerReference string, amount decimal.Decimal) (*RefundResult, error)
}

// Registry dispatches over the closed set of supported providers.
type Registry struct {
	adapters map[domain.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[domain.Provider]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Provider()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Get(p domain.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("provider %s: %w", p, domain.ErrNotFound)
	}
	return a, nil
}
