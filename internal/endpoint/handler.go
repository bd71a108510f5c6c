package endpoint

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/cruxstack/checkout-email-verification-go/internal/aws"
	"github.com/cruxstack/checkout-email-verification-go/internal/config"
	"github.com/cruxstack/checkout-email-verification-go/internal/types"
	"github.com/cruxstack/checkout-email-verification-go/internal/verifier"
)

const maxFormBytes = 64 << 10

// Handler answers form-encoded verification requests with the
// {success, data} envelope the checkout gate expects.
type Handler struct {
	Action       string
	Nonce        string
	ErrorMessage string
	Verifier     verifier.EmailVerifier
}

func NewHandler(cfg *config.Config, v verifier.EmailVerifier) *Handler {
	return &Handler{
		Action:       cfg.AjaxAction,
		Nonce:        cfg.Nonce,
		ErrorMessage: cfg.Strings["error"],
		Verifier:     v,
	}
}

// NewFromConfig resolves the provider API key, decrypting it with KMS when
// configured, and builds the handler around the selected provider.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Handler, error) {
	if err := cfg.ValidateEndpoint(); err != nil {
		return nil, err
	}

	apiKey := cfg.SendGridEmailVerificationApiKey
	if cfg.SendGridApiKeyEncrypted {
		client, err := aws.NewAWSClient(ctx)
		if err != nil {
			return nil, err
		}
		apiKey, err = client.KMS.Decrypt(ctx, cfg.AppKmsKeyId, apiKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt sendgrid api key: %w", err)
		}
	}

	v, err := verifier.NewProvider(cfg, apiKey)
	if err != nil {
		return nil, err
	}

	return NewHandler(cfg, v), nil
}

// HandleLambda serves API Gateway HTTP API and Lambda function URL events.
func (h *Handler) HandleLambda(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return h.lambdaResponse(http.StatusBadRequest, failure("malformed request body")), nil
		}
		body = string(decoded)
	}

	form, err := url.ParseQuery(body)
	if err != nil {
		return h.lambdaResponse(http.StatusBadRequest, failure("malformed request body")), nil
	}

	status, resp := h.Verify(ctx, req.RequestContext.HTTP.Method, form)
	return h.lambdaResponse(status, resp), nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	var (
		status int
		resp   types.VerifyResponse
	)
	if err := r.ParseForm(); err != nil {
		status, resp = http.StatusBadRequest, failure("malformed request body")
	} else {
		status, resp = h.Verify(r.Context(), r.Method, r.PostForm)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to write response", "error", err)
	}
}

// Verify checks the request fields and runs the configured verifier.
func (h *Handler) Verify(ctx context.Context, method string, form url.Values) (int, types.VerifyResponse) {
	if !strings.EqualFold(method, http.MethodPost) {
		return http.StatusMethodNotAllowed, failure("method not allowed")
	}

	req := types.VerifyRequestFromForm(form)

	if req.Action != h.Action {
		return http.StatusBadRequest, failure("invalid action")
	}

	if subtle.ConstantTimeCompare([]byte(req.Nonce), []byte(h.Nonce)) != 1 {
		slog.WarnContext(ctx, "rejected verification request with invalid nonce")
		return http.StatusForbidden, failure("invalid nonce")
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		return http.StatusBadRequest, failure("missing email")
	}

	result, err := h.Verifier.VerifyEmail(ctx, email)
	if err != nil {
		slog.ErrorContext(ctx, "email verification provider failed", "error", err)
		return http.StatusOK, failure(h.ErrorMessage)
	}

	data, err := json.Marshal(types.VerdictData{
		Result: result.Result,
		Email:  email,
		Score:  result.Score,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal verdict", "error", err)
		return http.StatusInternalServerError, failure(h.ErrorMessage)
	}

	slog.DebugContext(ctx, "email verified", "result", result.Result, "score", result.Score)

	return http.StatusOK, types.VerifyResponse{Success: true, Data: data}
}

func (h *Handler) lambdaResponse(status int, resp types.VerifyResponse) events.APIGatewayV2HTTPResponse {
	body, err := json.Marshal(resp)
	if err != nil {
		status, body = http.StatusInternalServerError, []byte(`{"success":false}`)
	}

	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
		Body:       string(body),
	}
}

func failure(message string) types.VerifyResponse {
	data, _ := json.Marshal(types.ErrorData{Message: message})
	return types.VerifyResponse{Success: false, Data: data}
}
