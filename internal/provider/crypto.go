package provider

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inamkkkk/funding-inam/internal/domain"
)

// cryptoChainEvent is the native confirmation shape emitted by the chain
// watcher. The deposit address generated at intent-creation time is the
// correlation key.
type cryptoChainEvent struct {
	TxHash        string `json:"tx_hash"`
	Address       string `json:"address"`
	Amount        string `json:"amount"`
	Confirmations int    `json:"confirmations"`
	Status        string `json:"status"`
}

// CryptoAdapter fronts the on-chain payment flow. Chain-watcher callbacks
// authenticate with a shared token header. Refunds cannot be confirmed
// synchronously: IssueRefund always reports pending and the ledger reversal
// waits for an out-of-band confirmation.
type CryptoAdapter struct {
	token            []byte
	minConfirmations int
}

func NewCryptoAdapter(callbackToken string, minConfirmations int) *CryptoAdapter {
	if minConfirmations <= 0 {
		minConfirmations = 6
	}
	return &CryptoAdapter{token: []byte(callbackToken), minConfirmations: minConfirmations}
}

func (a *CryptoAdapter) Provider() domain.Provider {
	return domain.ProviderCrypto
}

func (a *CryptoAdapter) CreateIntent(_ context.Context, _, _ string, amount decimal.Decimal, _ map[string]string) (*Intent, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("non-positive amount %s: %w", amount, domain.ErrAmountMismatch)
	}
	addr, err := generateDepositAddress()
	if err != nil {
		return nil, fmt.Errorf("generate deposit address: %w", err)
	}
	return &Intent{Reference: addr, DepositAddress: addr}, nil
}

func (a *CryptoAdapter) VerifyAndParse(rawPayload []byte, signatureHeader string) (*domain.SettlementEvent, error) {
	if subtle.ConstantTimeCompare(a.token, []byte(signatureHeader)) != 1 {
		return nil, fmt.Errorf("chain callback token mismatch: %w", domain.ErrAuthenticationFailed)
	}

	var ev cryptoChainEvent
	if err := json.Unmarshal(rawPayload, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal chain event: %w", err)
	}
	if ev.TxHash == "" || ev.Address == "" {
		return nil, fmt.Errorf("chain event missing tx_hash or address")
	}

	var outcome domain.SettlementOutcome
	switch {
	case ev.Status == "confirmed" && ev.Confirmations >= a.minConfirmations:
		outcome = domain.OutcomeSuccess
	case ev.Status == "failed" || ev.Status == "reorged":
		outcome = domain.OutcomeFailure
	default:
		return nil, fmt.Errorf("chain event not final: status=%s confirmations=%d",
			ev.Status, ev.Confirmations)
	}

	amount, err := decimal.NewFromString(ev.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse chain amount %q: %w", ev.Amount, err)
	}

	return &domain.SettlementEvent{
		ProviderEventID: ev.TxHash,
		Provider:        domain.ProviderCrypto,
		PledgeReference: ev.Address,
		Outcome:         outcome,
		SettledAmount:   amount,
	}, nil
}

// IssueRefund records the refund request for manual broadcast. On-chain
// refunds are never confirmed synchronously; the returned reference is the
// idempotency key the later confirmation must carry.
func (a *CryptoAdapter) IssueRefund(_ context.Context, providerReference string, amount decimal.Decimal) (*RefundResult, error) {
	if providerReference == "" || !amount.IsPositive() {
		return &RefundResult{Outcome: RefundRejected}, nil
	}
	return &RefundResult{
		Outcome:   RefundPending,
		Reference: "chainref-" + uuid.NewString(),
	}, nil
}

func generateDepositAddress() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(buf), nil
}
