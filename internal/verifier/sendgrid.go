package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"

	"github.com/cruxstack/checkout-email-verification-go/internal/config"
	"github.com/cruxstack/checkout-email-verification-go/internal/types"
	"github.com/sendgrid/sendgrid-go"
)

type SendGridEmailEmailAddressValidationRequest struct {
	Email  string `json:"email"`
	Source string `json:"source"`
}

type SendGridEmailEmailAddressValidationResult struct {
	Email   string  `json:"email"`
	Verdict string  `json:"verdict"`
	Score   float32 `json:"score"`
}

type SendGridEmailEmailAddressValidationResponse struct {
	Result SendGridEmailEmailAddressValidationResult `json:"result"`
}

type SendGridEmailVerifier struct {
	APIHost   string
	APIKey    string
	Whitelist []string
}

func (v *SendGridEmailVerifier) VerifyEmail(ctx context.Context, email string) (*EmailVerificationResult, error) {
	result, _ := v.VerifyEmailViaWhitelist(ctx, email)
	if result != nil {
		slog.DebugContext(ctx, "email domain was on whitelist", "email", email)
		return result, nil
	}
	return v.VerifyEmailViaAPI(ctx, email)
}

func (v *SendGridEmailVerifier) VerifyEmailViaWhitelist(ctx context.Context, email string) (*EmailVerificationResult, error) {
	if len(v.Whitelist) == 0 {
		return nil, nil
	}

	addr, err := mail.ParseAddress(email)
	if err != nil {
		return nil, nil // invalid email format
	}

	at := strings.LastIndex(addr.Address, "@")
	if at == -1 || at == len(addr.Address)-1 {
		return nil, nil // no domain part
	}

	domain := strings.ToLower(addr.Address[at+1:])
	if !slices.Contains(v.Whitelist, domain) {
		return nil, nil
	}

	return DefaultValidResult, nil
}

func (v *SendGridEmailVerifier) VerifyEmailViaAPI(ctx context.Context, email string) (*EmailVerificationResult, error) {
	body, err := json.Marshal(SendGridEmailEmailAddressValidationRequest{Email: email, Source: "checkout"})
	if err != nil {
		return nil, fmt.Errorf("sendgrid marshal error: %w", err)
	}

	request := sendgrid.GetRequest(v.APIKey, "/v3/validations/email", v.APIHost)
	request.Body = body
	request.Method = "POST"

	response, err := sendgrid.API(request)
	if err != nil {
		return nil, fmt.Errorf("sendgrid api error: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("sendgrid api error: status=%d body=%s", response.StatusCode, response.Body)
	}

	var payload SendGridEmailEmailAddressValidationResponse
	if err := json.Unmarshal([]byte(response.Body), &payload); err != nil {
		return nil, fmt.Errorf("sendgrid unmarshal error: %w", err)
	}

	result := payload.Result

	return &EmailVerificationResult{
		Result: ResultFromSendGridVerdict(result.Verdict),
		Score:  result.Score,
		Raw:    response.Body,
	}, nil
}

// ResultFromSendGridVerdict maps SendGrid's Valid/Risky/Invalid verdicts.
func ResultFromSendGridVerdict(verdict string) types.Result {
	switch strings.ToLower(verdict) {
	case "valid":
		return types.ResultDeliverable
	case "invalid":
		return types.ResultUndeliverable
	case "risky":
		return types.ResultRisky
	default:
		return types.ResultUnknown
	}
}

func NewSendGridVerifier(cfg *config.Config, apiKey string) *SendGridEmailVerifier {
	return &SendGridEmailVerifier{
		APIHost:   cfg.SendGridApiHost,
		APIKey:    apiKey,
		Whitelist: cfg.AppEmailVerificationWhitelist,
	}
}
