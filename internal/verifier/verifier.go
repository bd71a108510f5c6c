package verifier

import (
	"context"
	"fmt"

	"github.com/cruxstack/checkout-email-verification-go/internal/config"
	"github.com/cruxstack/checkout-email-verification-go/internal/types"
)

type EmailVerificationResult struct {
	Result types.Result `json:"result"`
	Score  float32      `json:"score"`
	Raw    string       `json:"raw"`
}

var DefaultValidResult = &EmailVerificationResult{
	Result: types.ResultDeliverable,
	Score:  100.0,
	Raw:    "{}",
}

type EmailVerifier interface {
	VerifyEmail(ctx context.Context, email string) (*EmailVerificationResult, error)
}

// NewProvider builds the verifier the endpoint delegates to. apiKey is the
// already decrypted SendGrid key and is ignored by the offline provider.
func NewProvider(cfg *config.Config, apiKey string) (EmailVerifier, error) {
	switch cfg.AppEmailVerificationProvider {
	case "offline":
		return NewOfflineVerifier(), nil
	case "sendgrid":
		sg := NewSendGridVerifier(cfg, apiKey)
		if !cfg.AppEmailVerificationFallback {
			return sg, nil
		}
		return NewFailoverVerifier(
			NewCooldownVerifier(sg, cfg.AppEmailVerificationCooldown),
			NewOfflineVerifier(),
		), nil
	default:
		return nil, fmt.Errorf("unknown email verification provider: %s", cfg.AppEmailVerificationProvider)
	}
}
