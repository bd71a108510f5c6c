package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/cruxstack/checkout-email-verification-go/internal/config"
	"github.com/cruxstack/checkout-email-verification-go/internal/endpoint"
	"github.com/cruxstack/checkout-email-verification-go/internal/gate"
	"github.com/cruxstack/checkout-email-verification-go/internal/log"
	"github.com/cruxstack/checkout-email-verification-go/internal/policy"
	"github.com/cruxstack/checkout-email-verification-go/internal/verifier"
)

var (
	dataPath     string
	policyPath   string
	endpointURL  string
	logLevelName string
)

func init() {
	flag.StringVar(&dataPath, "data", "", "path to JSON file with checkout scenarios")
	flag.StringVar(&policyPath, "policy", "", "override path to Rego policy file")
	flag.StringVar(&endpointURL, "endpoint", "", "verification endpoint URL; an in-process endpoint is used when empty")
	flag.StringVar(&logLevelName, "log-level", "", "override log level (debug, info, warn, error)")
}

// Step is one field change followed by an optional submission attempt.
type Step struct {
	Email  string `json:"email"`
	Submit bool   `json:"submit"`
	Expect string `json:"expect,omitempty"` // "allow" or "block"
}

type Scenario struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

func NewDebugConfig() (*config.Config, error) {
	envpath := filepath.Join("..", "..", ".env")
	if _, err := os.Stat(envpath); err == nil {
		_ = godotenv.Load(envpath)
	}

	if os.Getenv("APP_NONCE") == "" {
		os.Setenv("APP_NONCE", "debug-nonce")
	}

	cfg, err := config.New()
	if err != nil {
		return nil, err
	}

	cfg.AppDebugMode = true

	if policyPath != "" {
		cfg.AppPolicyPath = policyPath
	}

	if cfg.DebugDataPath == "" {
		cfg.DebugDataPath = filepath.Join("..", "..", "fixtures", "debug-data.json")
	}
	if dataPath != "" {
		cfg.DebugDataPath = dataPath
	}

	if endpointURL != "" {
		cfg.AjaxURL = endpointURL
	}

	return cfg, nil
}

func main() {
	flag.Parse()

	cfg, err := NewDebugConfig()
	if err != nil {
		log.Fatal("failed to load debug config", "error", err)
	}
	level := cfg.AppLogLevel
	if logLevelName != "" {
		level = log.ParseLevel(logLevelName)
	}
	log.SetLevel(level)
	log.MakeDefault()

	ctx := context.Background()

	if cfg.AjaxURL == "" {
		h, err := endpoint.NewFromConfig(ctx, cfg)
		if err != nil {
			log.Fatal("failed to init in-process endpoint", "error", err)
		}
		server := httptest.NewServer(h)
		defer server.Close()
		cfg.AjaxURL = server.URL
		log.Info("started in-process verification endpoint", "url", server.URL, "provider", cfg.AppEmailVerificationProvider)
	}

	if err := cfg.ValidateGate(); err != nil {
		log.Fatal("invalid gate config", "error", err)
	}

	p, err := policy.New(ctx, cfg)
	if err != nil {
		log.Fatal("failed to load policy", "error", err)
	}

	data, err := os.ReadFile(cfg.DebugDataPath)
	if err != nil {
		log.Fatal("failed to read data file", "path", cfg.DebugDataPath, "error", err)
	}

	scenarios := []Scenario{}
	if err := json.Unmarshal(data, &scenarios); err != nil {
		log.Fatal("failed to parse data file", "error", err)
	}

	failed := 0
	for _, sc := range scenarios {
		// one gate per scenario, as a fresh checkout page would have
		g := gate.New(gate.ConfigFrom(cfg), verifier.NewEndpointVerifier(cfg), p)
		failed += RunScenario(ctx, g, sc)
	}

	if failed > 0 {
		log.Error("debug run failed", "failures", failed)
		os.Exit(1)
	}

	log.Info("debug run passed", "scenarios", len(scenarios))
}

// RunScenario replays the steps against g and returns the number of
// submissions whose decision did not match the step's expectation.
func RunScenario(ctx context.Context, g *gate.Gate, sc Scenario) int {
	submit := g.Handle()
	failed := 0

	prev, typed := "", false
	for i, step := range sc.Steps {
		// a repeated value is a resubmission, not an edit
		if !typed || step.Email != prev {
			g.OnEmailFieldChanged(step.Email)
			prev, typed = step.Email, true
		}
		if !step.Submit {
			continue
		}

		before := g.State().Verdict
		allowed := submit(ctx)
		render := g.Render()
		cached := before != nil && before == g.State().Verdict
		logger := log.With("scenario", sc.Name, "step", i, "email", step.Email, "allowed", allowed, "cached", cached, "status", render.Status, "message", render.Message)

		if step.Expect != "" && (step.Expect == "allow") != allowed {
			logger.Error("unexpected decision", "expected", step.Expect)
			failed++
			continue
		}
		logger.Info("submission evaluated")
	}

	return failed
}
