package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cruxstack/checkout-email-verification-go/internal/types"
)

const (
	DefaultAjaxAction          = "checkout_verify_email"
	DefaultSendGridApiHost     = "https://api.sendgrid.com"
	DefaultVerificationTimeout = 10 * time.Second
	DefaultVerifierCooldown    = time.Minute
)

// DefaultStrings are used for any display key the host does not supply.
var DefaultStrings = map[string]string{
	string(types.ResultDeliverable):   "This email address looks good.",
	string(types.ResultUndeliverable): "This email address appears to be undeliverable. Please check it and try again.",
	string(types.ResultRisky):         "This email address may not receive our messages.",
	string(types.ResultUnknown):       "We could not confirm this email address.",
	"loading":                         "Verifying email address...",
	"error":                           "Email verification failed. You can still place your order.",
}

type Config struct {
	AppLogLevel   slog.Level
	AppDebugMode  bool
	DebugDataPath string

	// gate
	VerificationEnabled bool
	VerificationActions map[types.Result]types.Action
	VerificationTimeout time.Duration
	Strings             map[string]string
	AjaxURL             string
	AjaxAction          string
	Nonce               string
	AppPolicyPath       string

	// endpoint
	AppEmailVerificationProvider    string
	AppEmailVerificationWhitelist   []string
	AppEmailVerificationFallback    bool
	AppEmailVerificationCooldown    time.Duration
	AppKmsKeyId                     string
	SendGridApiHost                 string
	SendGridEmailVerificationApiKey string
	SendGridApiKeyEncrypted         bool
}

func New() (*Config, error) {
	cfg := Config{
		AppLogLevel:                     slog.LevelInfo,
		AppDebugMode:                    os.Getenv("APP_DEBUG_MODE") == "true",
		DebugDataPath:                   os.Getenv("APP_DEBUG_DATA_PATH"),
		VerificationEnabled:             os.Getenv("APP_VERIFICATION_ENABLED") != "false",
		VerificationActions:             map[types.Result]types.Action{},
		VerificationTimeout:             DefaultVerificationTimeout,
		Strings:                         map[string]string{},
		AjaxURL:                         os.Getenv("APP_AJAX_URL"),
		AjaxAction:                      os.Getenv("APP_AJAX_ACTION"),
		Nonce:                           os.Getenv("APP_NONCE"),
		AppPolicyPath:                   os.Getenv("APP_POLICY_PATH"),
		AppEmailVerificationProvider:    os.Getenv("APP_EMAIL_VERIFICATION_PROVIDER"),
		AppEmailVerificationWhitelist:   []string{},
		AppEmailVerificationFallback:    os.Getenv("APP_EMAIL_VERIFICATION_FALLBACK") == "true",
		AppEmailVerificationCooldown:    DefaultVerifierCooldown,
		AppKmsKeyId:                     os.Getenv("APP_KMS_KEY_ID"),
		SendGridApiHost:                 os.Getenv("APP_SENDGRID_API_HOST"),
		SendGridEmailVerificationApiKey: os.Getenv("APP_SENDGRID_EMAIL_VERIFICATION_API_KEY"),
		SendGridApiKeyEncrypted:         os.Getenv("APP_SENDGRID_API_KEY_ENCRYPTED") == "true",
	}

	if levelStr := os.Getenv("APP_LOG_LEVEL"); levelStr != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(levelStr)); err == nil {
			cfg.AppLogLevel = level
		}
	}
	if cfg.AppDebugMode {
		cfg.AppLogLevel = slog.LevelDebug
	}

	if cfg.AjaxAction == "" {
		cfg.AjaxAction = DefaultAjaxAction
	}

	if s := strings.TrimSpace(os.Getenv("APP_VERIFICATION_ACTIONS")); s != "" {
		actions, err := ParseActions(s)
		if err != nil {
			return nil, fmt.Errorf("invalid APP_VERIFICATION_ACTIONS: %w", err)
		}
		cfg.VerificationActions = actions
	}

	if s := strings.TrimSpace(os.Getenv("APP_STRINGS")); s != "" {
		if err := json.Unmarshal([]byte(s), &cfg.Strings); err != nil {
			return nil, fmt.Errorf("invalid APP_STRINGS: %w", err)
		}
	}
	cfg.Strings = MergeStrings(DefaultStrings, cfg.Strings)

	if s := os.Getenv("APP_VERIFICATION_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			cfg.VerificationTimeout = d
		} else {
			slog.Warn("invalid APP_VERIFICATION_TIMEOUT, using default", "value", s, "default", DefaultVerificationTimeout.String())
		}
	}

	if s := os.Getenv("APP_EMAIL_VERIFICATION_COOLDOWN"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d >= 0 {
			cfg.AppEmailVerificationCooldown = d
		} else {
			slog.Warn("invalid APP_EMAIL_VERIFICATION_COOLDOWN, using default", "value", s, "default", DefaultVerifierCooldown.String())
		}
	}

	if cfg.AppEmailVerificationProvider == "" {
		cfg.AppEmailVerificationProvider = "offline"
	}

	whitelistStr := strings.TrimSpace(os.Getenv("APP_EMAIL_VERIFICATION_WHITELIST"))
	if whitelistStr != "" {
		whitelist := strings.Split(whitelistStr, ",")
		for i, x := range whitelist {
			whitelist[i] = strings.ToLower(strings.TrimSpace(x))
		}
		cfg.AppEmailVerificationWhitelist = whitelist
	}

	if cfg.SendGridApiHost == "" {
		cfg.SendGridApiHost = DefaultSendGridApiHost
	}

	// deprecated
	if cfg.SendGridEmailVerificationApiKey == "" && os.Getenv("APP_SENDGRID_API_KEY") != "" {
		cfg.SendGridEmailVerificationApiKey = os.Getenv("APP_SENDGRID_API_KEY")
		slog.Warn("deprecated env var used", "old", "APP_SENDGRID_API_KEY", "new", "APP_SENDGRID_EMAIL_VERIFICATION_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings shared by the gate and the endpoint.
func (c *Config) Validate() error {
	for result, action := range c.VerificationActions {
		if !result.Valid() {
			return fmt.Errorf("unknown verification result in actions: %q", result)
		}
		if action != types.ActionAllow && action != types.ActionBlock {
			return fmt.Errorf("invalid action for %s: %q (must be 'allow' or 'block')", result, action)
		}
	}

	if c.VerificationTimeout <= 0 {
		return errors.New("verification timeout must be positive")
	}

	if c.AppEmailVerificationProvider != "offline" && c.AppEmailVerificationProvider != "sendgrid" {
		return errors.New("invalid APP_EMAIL_VERIFICATION_PROVIDER: " + c.AppEmailVerificationProvider + " (must be 'offline' or 'sendgrid')")
	}

	return nil
}

// ValidateGate checks what a gate needs to reach the endpoint.
func (c *Config) ValidateGate() error {
	if !c.VerificationEnabled {
		return nil
	}
	if c.AjaxURL == "" {
		return errors.New("APP_AJAX_URL is required when verification is enabled")
	}
	if c.Nonce == "" {
		return errors.New("APP_NONCE is required when verification is enabled")
	}
	return nil
}

// ValidateEndpoint checks what the verification endpoint needs to serve.
func (c *Config) ValidateEndpoint() error {
	if c.Nonce == "" {
		return errors.New("APP_NONCE is required")
	}

	if c.AppEmailVerificationProvider == "sendgrid" && c.SendGridEmailVerificationApiKey == "" {
		return errors.New("APP_SENDGRID_EMAIL_VERIFICATION_API_KEY is required when using sendgrid email verification")
	}

	if c.SendGridApiKeyEncrypted && c.AppKmsKeyId == "" {
		return errors.New("APP_KMS_KEY_ID is required when APP_SENDGRID_API_KEY_ENCRYPTED is true")
	}

	return nil
}

// ParseActions accepts either a JSON object or comma separated result=action
// pairs, e.g. "undeliverable=block,risky=allow".
func ParseActions(s string) (map[types.Result]types.Action, error) {
	out := map[types.Result]types.Action{}

	if strings.HasPrefix(s, "{") {
		raw := map[string]string{}
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			out[types.Result(strings.ToLower(strings.TrimSpace(k)))] = types.Action(strings.ToLower(strings.TrimSpace(v)))
		}
		return out, nil
	}

	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected result=action, got %q", pair)
		}
		out[types.Result(strings.ToLower(strings.TrimSpace(k)))] = types.Action(strings.ToLower(strings.TrimSpace(v)))
	}

	return out, nil
}

// MergeStrings returns base overlaid with overrides; neither input is modified.
func MergeStrings(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
