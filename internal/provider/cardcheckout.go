package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inamkkkk/funding-inam/internal/domain"
)

// cardCheckoutEvent is the native webhook shape of the card-network checkout
// provider.
type cardCheckoutEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Session struct {
		ID                string `json:"id"`
		ClientReferenceID string `json:"client_reference_id"`
		Amount            string `json:"amount"`
		Currency          string `json:"currency"`
	} `json:"session"`
}

// CardCheckoutAdapter fronts the card-network checkout provider. Webhooks
// are authenticated with an HMAC-SHA256 signature header of the form
// "t=<unix>,v1=<hex>", signed over "<t>.<payload>".
type CardCheckoutAdapter struct {
	secret []byte
}

func NewCardCheckoutAdapter(webhookSecret string) *CardCheckoutAdapter {
	return &CardCheckoutAdapter{secret: []byte(webhookSecret)}
}

func (a *CardCheckoutAdapter) Provider() domain.Provider {
	return domain.ProviderCardCheckout
}

func (a *CardCheckoutAdapter) CreateIntent(_ context.Context, campaignID, userID string, amount decimal.Decimal, _ map[string]string) (*Intent, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("non-positive amount %s: %w", amount, domain.ErrAmountMismatch)
	}
	ref := "cs_" + uuid.NewString()
	return &Intent{
		Reference:   ref,
		CheckoutURL: fmt.Sprintf("https://checkout.example.com/pay/%s?campaign=%s&user=%s", ref, campaignID, userID),
	}, nil
}

func (a *CardCheckoutAdapter) VerifyAndParse(rawPayload []byte, signatureHeader string) (*domain.SettlementEvent, error) {
	if err := a.verifySignature(rawPayload, signatureHeader); err != nil {
		return nil, err
	}

	var ev cardCheckoutEvent
	if err := json.Unmarshal(rawPayload, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal card event: %w", err)
	}
	if ev.ID == "" || ev.Session.ID == "" {
		return nil, fmt.Errorf("card event missing id or session id")
	}

	var outcome domain.SettlementOutcome
	switch ev.Type {
	case "checkout.session.completed":
		outcome = domain.OutcomeSuccess
	case "checkout.session.failed", "checkout.session.expired":
		outcome = domain.OutcomeFailure
	default:
		return nil, fmt.Errorf("unsupported card event type %q", ev.Type)
	}

	amount, err := decimal.NewFromString(ev.Session.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse card amount %q: %w", ev.Session.Amount, err)
	}

	return &domain.SettlementEvent{
		ProviderEventID: ev.ID,
		Provider:        domain.ProviderCardCheckout,
		PledgeReference: ev.Session.ID,
		Outcome:         outcome,
		SettledAmount:   amount,
	}, nil
}

func (a *CardCheckoutAdapter) IssueRefund(_ context.Context, providerReference string, amount decimal.Decimal) (*RefundResult, error) {
	if providerReference == "" {
		return &RefundResult{Outcome: RefundRejected}, nil
	}
	if !amount.IsPositive() {
		return &RefundResult{Outcome: RefundRejected}, nil
	}
	return &RefundResult{
		Outcome:   RefundConfirmed,
		Reference: "re_" + uuid.NewString(),
	}, nil
}

// verifySignature checks the "t=<unix>,v1=<hex>" header against
// HMAC-SHA256(secret, "<t>.<payload>").
func (a *CardCheckoutAdapter) verifySignature(payload []byte, header string) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return fmt.Errorf("malformed signature header: %w", domain.ErrAuthenticationFailed)
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fmt.Errorf("card signature mismatch: %w", domain.ErrAuthenticationFailed)
	}
	return nil
}

// SignCardPayload produces the signature header a card webhook would carry.
// Exported for tests and local tooling.
func SignCardPayload(secret string, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}
