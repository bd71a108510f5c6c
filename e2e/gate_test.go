package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cruxstack/checkout-email-verification-go/internal/aws"
	"github.com/cruxstack/checkout-email-verification-go/internal/config"
	"github.com/cruxstack/checkout-email-verification-go/internal/endpoint"
	"github.com/cruxstack/checkout-email-verification-go/internal/gate"
	"github.com/cruxstack/checkout-email-verification-go/internal/policy"
	"github.com/cruxstack/checkout-email-verification-go/internal/types"
	"github.com/cruxstack/checkout-email-verification-go/internal/verifier"
)

// ScriptedVerifier answers the endpoint with canned results per address.
type ScriptedVerifier struct {
	mu      sync.Mutex
	Results map[string]*verifier.EmailVerificationResult
	Err     error
	Calls   map[string]int
}

func NewScriptedVerifier() *ScriptedVerifier {
	return &ScriptedVerifier{
		Results: map[string]*verifier.EmailVerificationResult{},
		Calls:   map[string]int{},
	}
}

func (v *ScriptedVerifier) VerifyEmail(ctx context.Context, email string) (*verifier.EmailVerificationResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Calls[email]++

	if v.Err != nil {
		return nil, v.Err
	}
	if r, ok := v.Results[email]; ok {
		return r, nil
	}
	return verifier.DefaultValidResult, nil
}

func (v *ScriptedVerifier) CallCount(email string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Calls[email]
}

// SendGridMockServer mocks the SendGrid validation API.
type SendGridMockServer struct {
	Server       *httptest.Server
	mu           sync.Mutex
	Verdicts     map[string]verifier.SendGridEmailEmailAddressValidationResult
	RequestCount int
	LastAuth     string
}

func NewSendGridMockServer() *SendGridMockServer {
	mock := &SendGridMockServer{
		Verdicts: map[string]verifier.SendGridEmailEmailAddressValidationResult{},
	}

	mock.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		defer mock.mu.Unlock()
		mock.RequestCount++
		mock.LastAuth = r.Header.Get("Authorization")

		if r.URL.Path != "/v3/validations/email" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		var reqBody verifier.SendGridEmailEmailAddressValidationRequest
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		result, ok := mock.Verdicts[reqBody.Email]
		if !ok {
			result = verifier.SendGridEmailEmailAddressValidationResult{Verdict: "Valid", Score: 0.95}
		}
		result.Email = reqBody.Email

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(verifier.SendGridEmailEmailAddressValidationResponse{Result: result})
	}))

	return mock
}

func (m *SendGridMockServer) Requests() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount, m.LastAuth
}

func (m *SendGridMockServer) Close() {
	m.Server.Close()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		VerificationEnabled:          true,
		VerificationActions:          map[types.Result]types.Action{types.ResultUndeliverable: types.ActionBlock},
		VerificationTimeout:          2 * time.Second,
		Strings:                      config.MergeStrings(config.DefaultStrings, nil),
		AjaxAction:                   config.DefaultAjaxAction,
		Nonce:                        "e2e-nonce",
		AppEmailVerificationProvider: "offline",
		SendGridApiHost:              config.DefaultSendGridApiHost,
	}
}

// startCheckout serves h and returns a gate that verifies against it.
func startCheckout(t *testing.T, cfg *config.Config, h http.Handler) *gate.Gate {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.AjaxURL = srv.URL

	if err := cfg.ValidateGate(); err != nil {
		t.Fatalf("invalid gate config: %v", err)
	}

	p, err := policy.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to build policy: %v", err)
	}

	return gate.New(gate.ConfigFrom(cfg), verifier.NewEndpointVerifier(cfg), p)
}

func TestCheckout_BlockThenCorrect(t *testing.T) {
	cfg := testConfig(t)
	sv := NewScriptedVerifier()
	sv.Results["jane@gmial.com"] = &verifier.EmailVerificationResult{Result: types.ResultUndeliverable}
	g := startCheckout(t, cfg, endpoint.NewHandler(cfg, sv))
	ctx := context.Background()

	g.OnEmailFieldChanged("jane@gmial.com")
	if g.Evaluate(ctx) {
		t.Fatal("expected undeliverable address to be blocked")
	}

	r := g.Render()
	if r.Status != gate.StatusBlocked {
		t.Errorf("expected blocked status, got %s", r.Status)
	}
	if r.Message != cfg.Strings[string(types.ResultUndeliverable)] {
		t.Errorf("unexpected message: %q", r.Message)
	}

	// a retry with the same address uses the cached verdict
	if g.Evaluate(ctx) {
		t.Error("expected cached block")
	}
	if n := sv.CallCount("jane@gmial.com"); n != 1 {
		t.Errorf("expected one endpoint call, got %d", n)
	}

	g.OnEmailFieldChanged("jane@gmail.com")
	if !g.Evaluate(ctx) {
		t.Fatal("expected corrected address to be allowed")
	}
	if st := g.State(); st.LastVerifiedEmail != "jane@gmail.com" || st.Blocking {
		t.Errorf("unexpected state after correction: %+v", st)
	}
}

func TestCheckout_ProviderFailureFailsOpen(t *testing.T) {
	cfg := testConfig(t)
	sv := NewScriptedVerifier()
	sv.Err = errors.New("provider unavailable")
	g := startCheckout(t, cfg, endpoint.NewHandler(cfg, sv))

	g.OnEmailFieldChanged("jane@example.com")
	if !g.Evaluate(context.Background()) {
		t.Fatal("expected submission to proceed when the provider fails")
	}

	st := g.State()
	if st.Verdict != nil {
		t.Errorf("expected no cached verdict, got %+v", st.Verdict)
	}
	if st.LastError != cfg.Strings["error"] {
		t.Errorf("expected endpoint error message, got %q", st.LastError)
	}
	if r := g.Render(); r.Status != gate.StatusErrored {
		t.Errorf("expected errored status, got %s", r.Status)
	}

	// errors are not cached, so the next attempt calls again
	sv.mu.Lock()
	sv.Err = nil
	sv.mu.Unlock()

	if !g.Evaluate(context.Background()) {
		t.Error("expected submission to proceed")
	}
	if n := sv.CallCount("jane@example.com"); n != 2 {
		t.Errorf("expected two endpoint calls, got %d", n)
	}
	if g.State().LastError != "" {
		t.Error("expected error cleared by a successful verdict")
	}
}

func TestCheckout_RejectedNonceFailsOpen(t *testing.T) {
	cfg := testConfig(t)
	sv := NewScriptedVerifier()
	sv.Results["jane@gmial.com"] = &verifier.EmailVerificationResult{Result: types.ResultUndeliverable}

	h := endpoint.NewHandler(cfg, sv)
	h.Nonce = "rotated"
	g := startCheckout(t, cfg, h)

	g.OnEmailFieldChanged("jane@gmial.com")
	if !g.Evaluate(context.Background()) {
		t.Fatal("expected submission to proceed when the endpoint rejects the request")
	}
	if sv.CallCount("jane@gmial.com") != 0 {
		t.Error("provider must not be called for a rejected nonce")
	}
	if g.State().LastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestCheckout_EndpointDownFailsOpen(t *testing.T) {
	cfg := testConfig(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg.AjaxURL = srv.URL
	srv.Close()

	g := gate.New(gate.ConfigFrom(cfg), verifier.NewEndpointVerifier(cfg), policy.Map(cfg.VerificationActions))
	g.OnEmailFieldChanged("jane@example.com")

	if !g.Evaluate(context.Background()) {
		t.Fatal("expected submission to proceed when the endpoint is unreachable")
	}
	if g.State().LastError != cfg.Strings["error"] {
		t.Errorf("expected generic error message, got %q", g.State().LastError)
	}
}

func TestCheckout_RegoPolicy(t *testing.T) {
	testCases := []struct {
		name       string
		email      string
		result     *verifier.EmailVerificationResult
		wantAllow  bool
		wantReason string
	}{
		{
			name:       "low score risky blocked",
			email:      "buyer@shop.test",
			result:     &verifier.EmailVerificationResult{Result: types.ResultRisky, Score: 0.1},
			wantAllow:  false,
			wantReason: "low confidence",
		},
		{
			name:      "high score risky allowed",
			email:     "buyer@shop.test",
			result:    &verifier.EmailVerificationResult{Result: types.ResultRisky, Score: 0.8},
			wantAllow: true,
		},
		{
			name:       "trusted domain allowed",
			email:      "buyer@example.org",
			result:     &verifier.EmailVerificationResult{Result: types.ResultUndeliverable},
			wantAllow:  true,
			wantReason: "trusted domain",
		},
		{
			name:      "undeliverable falls back to action map",
			email:     "buyer@shop.test",
			result:    &verifier.EmailVerificationResult{Result: types.ResultUndeliverable},
			wantAllow: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.AppPolicyPath = "../fixtures/policy.rego"

			sv := NewScriptedVerifier()
			sv.Results[tc.email] = tc.result
			g := startCheckout(t, cfg, endpoint.NewHandler(cfg, sv))

			g.OnEmailFieldChanged(tc.email)
			if got := g.Evaluate(context.Background()); got != tc.wantAllow {
				t.Fatalf("expected allow=%v, got %v", tc.wantAllow, got)
			}
			if r := g.State().Reason; r != tc.wantReason {
				t.Errorf("expected reason %q, got %q", tc.wantReason, r)
			}
		})
	}
}

func TestCheckout_ConcurrentSubmitsShareOneCall(t *testing.T) {
	cfg := testConfig(t)
	sv := NewScriptedVerifier()
	g := startCheckout(t, cfg, endpoint.NewHandler(cfg, sv))
	g.OnEmailFieldChanged("jane@example.com")

	submit := g.Handle()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !submit(context.Background()) {
				t.Error("expected deliverable address to be allowed")
			}
		}()
	}
	wg.Wait()

	if n := sv.CallCount("jane@example.com"); n < 1 || n > 8 {
		t.Errorf("unexpected endpoint call count %d", n)
	}
	if !submit(context.Background()) {
		t.Error("expected cached allow")
	}
	before := sv.CallCount("jane@example.com")
	submit(context.Background())
	if sv.CallCount("jane@example.com") != before {
		t.Error("expected cached verdict to skip the endpoint")
	}
}

func TestCheckout_SendGridProvider(t *testing.T) {
	sg := NewSendGridMockServer()
	defer sg.Close()
	sg.Verdicts["jane@gmial.com"] = verifier.SendGridEmailEmailAddressValidationResult{Verdict: "Invalid", Score: 0.05}

	cfg := testConfig(t)
	cfg.AppEmailVerificationProvider = "sendgrid"
	cfg.SendGridApiHost = sg.Server.URL
	cfg.SendGridEmailVerificationApiKey = "SG.e2e"
	cfg.SendGridApiKeyEncrypted = true
	cfg.AppKmsKeyId = aws.MockedKeyID
	cfg.AppEmailVerificationWhitelist = []string{"example.com"}

	h, err := endpoint.NewFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to build endpoint: %v", err)
	}
	g := startCheckout(t, cfg, h)
	ctx := context.Background()

	g.OnEmailFieldChanged("jane@gmial.com")
	if g.Evaluate(ctx) {
		t.Fatal("expected invalid sendgrid verdict to block")
	}
	if _, auth := sg.Requests(); auth != "Bearer SG.e2e" {
		t.Errorf("unexpected authorization header: %q", auth)
	}

	g.OnEmailFieldChanged("jane@gmail.com")
	if !g.Evaluate(ctx) {
		t.Fatal("expected valid sendgrid verdict to allow")
	}
	if g.State().Verdict.Result != types.ResultDeliverable {
		t.Errorf("expected deliverable, got %s", g.State().Verdict.Result)
	}

	requests, _ := sg.Requests()
	g.OnEmailFieldChanged("jane@example.com")
	if !g.Evaluate(ctx) {
		t.Fatal("expected whitelisted domain to allow")
	}
	if n, _ := sg.Requests(); n != requests {
		t.Error("whitelisted domain must not reach sendgrid")
	}
}

func TestCheckout_Disabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.VerificationEnabled = false
	sv := NewScriptedVerifier()
	sv.Results["jane@gmial.com"] = &verifier.EmailVerificationResult{Result: types.ResultUndeliverable}
	g := startCheckout(t, cfg, endpoint.NewHandler(cfg, sv))

	g.OnEmailFieldChanged("jane@gmial.com")
	if !g.Evaluate(context.Background()) {
		t.Fatal("expected disabled gate to allow")
	}
	if sv.CallCount("jane@gmial.com") != 0 {
		t.Error("disabled gate must not call the endpoint")
	}
}
