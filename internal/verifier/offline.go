package verifier

import (
	"context"
	"net/mail"
	"strings"

	"github.com/cruxstack/checkout-email-verification-go/internal/types"
)

// OfflineEmailVerifier performs basic email address validation without
// external API calls. A well-formed address is reported as unknown since
// deliverability cannot be attested offline.
type OfflineEmailVerifier struct{}

func (v *OfflineEmailVerifier) VerifyEmail(ctx context.Context, email string) (*EmailVerificationResult, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return undeliverable(`{"error":"invalid email format"}`), nil
	}

	at := strings.LastIndex(addr.Address, "@")
	if at == -1 || at == len(addr.Address)-1 {
		return undeliverable(`{"error":"missing domain"}`), nil
	}

	domain := addr.Address[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return undeliverable(`{"error":"invalid domain"}`), nil
	}

	return &EmailVerificationResult{
		Result: types.ResultUnknown,
		Score:  100.0,
		Raw:    `{}`,
	}, nil
}

func undeliverable(raw string) *EmailVerificationResult {
	return &EmailVerificationResult{
		Result: types.ResultUndeliverable,
		Score:  0,
		Raw:    raw,
	}
}

func NewOfflineVerifier() *OfflineEmailVerifier {
	return &OfflineEmailVerifier{}
}
