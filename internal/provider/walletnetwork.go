package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inamkkkk/funding-inam/internal/domain"
)

// walletNetworkEvent is the native notification shape of the third-party
// wallet network. The custom field carries the application-supplied
// correlation id embedded at intent-creation time.
type walletNetworkEvent struct {
	EventID     string `json:"event_id"`
	EventType   string `json:"event_type"`
	Transaction struct {
		ID          string `json:"id"`
		Custom      string `json:"custom"`
		GrossAmount string `json:"gross_amount"`
		Currency    string `json:"currency"`
	} `json:"transaction"`
}

// WalletNetworkAdapter fronts the wallet network. Webhooks carry a plain
// hex HMAC-SHA256 of the payload in the signature header.
type WalletNetworkAdapter struct {
	secret []byte
}

func NewWalletNetworkAdapter(webhookSecret string) *WalletNetworkAdapter {
	return &WalletNetworkAdapter{secret: []byte(webhookSecret)}
}

func (a *WalletNetworkAdapter) Provider() domain.Provider {
	return domain.ProviderWalletNetwork
}

func (a *WalletNetworkAdapter) CreateIntent(_ context.Context, _, _ string, amount decimal.Decimal, metadata map[string]string) (*Intent, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("non-positive amount %s: %w", amount, domain.ErrAmountMismatch)
	}
	ref := "WN-" + uuid.NewString()
	url := "https://wallet.example.net/approve/" + ref
	if pledgeID := metadata["pledge_id"]; pledgeID != "" {
		// The wallet network echoes the custom field back in its
		// settlement notification; the pledge id rides along as the
		// correlation key.
		url += "?custom=" + pledgeID
	}
	return &Intent{Reference: ref, CheckoutURL: url}, nil
}

func (a *WalletNetworkAdapter) VerifyAndParse(rawPayload []byte, signatureHeader string) (*domain.SettlementEvent, error) {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(rawPayload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signatureHeader)) {
		return nil, fmt.Errorf("wallet signature mismatch: %w", domain.ErrAuthenticationFailed)
	}

	var ev walletNetworkEvent
	if err := json.Unmarshal(rawPayload, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal wallet event: %w", err)
	}
	if ev.EventID == "" {
		return nil, fmt.Errorf("wallet event missing event_id")
	}

	var outcome domain.SettlementOutcome
	switch ev.EventType {
	case "sale.completed":
		outcome = domain.OutcomeSuccess
	case "sale.denied", "sale.reversed_at_source":
		outcome = domain.OutcomeFailure
	default:
		return nil, fmt.Errorf("unsupported wallet event type %q", ev.EventType)
	}

	amount, err := decimal.NewFromString(ev.Transaction.GrossAmount)
	if err != nil {
		return nil, fmt.Errorf("parse wallet amount %q: %w", ev.Transaction.GrossAmount, err)
	}

	// Prefer the application correlation id; fall back to the wallet's own
	// transaction id when the custom field was not round-tripped.
	ref := ev.Transaction.Custom
	if ref == "" {
		ref = ev.Transaction.ID
	}

	return &domain.SettlementEvent{
		ProviderEventID: ev.EventID,
		Provider:        domain.ProviderWalletNetwork,
		PledgeReference: ref,
		Outcome:         outcome,
		SettledAmount:   amount,
	}, nil
}

func (a *WalletNetworkAdapter) IssueRefund(_ context.Context, providerReference string, amount decimal.Decimal) (*RefundResult, error) {
	if providerReference == "" || !amount.IsPositive() {
		return &RefundResult{Outcome: RefundRejected}, nil
	}
	return &RefundResult{
		Outcome:   RefundConfirmed,
		Reference: "WNR-" + uuid.NewString(),
	}, nil
}

// SignWalletPayload produces the signature header a wallet webhook would
// carry. Exported for tests and local tooling.
func SignWalletPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
