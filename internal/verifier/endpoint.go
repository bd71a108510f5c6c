package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cruxstack/checkout-email-verification-go/internal/config"
	"github.com/cruxstack/checkout-email-verification-go/internal/types"
)

const maxResponseBytes = 1 << 20

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// EndpointVerifier posts the address to the checkout verification endpoint
// and decodes its {success, data} envelope.
type EndpointVerifier struct {
	Endpoint string
	Action   string
	Nonce    string
	Client   HTTPDoer
}

func NewEndpointVerifier(cfg *config.Config) *EndpointVerifier {
	return &EndpointVerifier{
		Endpoint: cfg.AjaxURL,
		Action:   cfg.AjaxAction,
		Nonce:    cfg.Nonce,
		Client:   http.DefaultClient,
	}
}

func (v *EndpointVerifier) VerifyEmail(ctx context.Context, email string) (*EmailVerificationResult, error) {
	form := types.VerifyRequest{Action: v.Action, Nonce: v.Nonce, Email: email}.Values()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	var payload types.VerifyResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	if !payload.Success {
		return nil, &ServiceError{Message: errorMessage(payload.Data)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: errors.New("unexpected status for successful payload")}
	}

	// only result decides; other fields are informational
	var verdict struct {
		Result types.Result `json:"result"`
	}
	if err := json.Unmarshal(payload.Data, &verdict); err != nil || !verdict.Result.Valid() {
		return nil, &ServiceError{}
	}

	var scored struct {
		Score float32 `json:"score"`
	}
	_ = json.Unmarshal(payload.Data, &scored)

	return &EmailVerificationResult{
		Result: verdict.Result,
		Score:  scored.Score,
		Raw:    string(payload.Data),
	}, nil
}

// errorMessage accepts both {"message": "..."} and a bare JSON string.
func errorMessage(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}

	var ed types.ErrorData
	if err := json.Unmarshal(data, &ed); err == nil {
		return ed.Message
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}

	return ""
}
