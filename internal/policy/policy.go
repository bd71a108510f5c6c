package policy

import (
	"context"
	"encoding/json"

	"github.com/cruxstack/checkout-email-verification-go/internal/config"
	"github.com/cruxstack/checkout-email-verification-go/internal/types"
)

type Input struct {
	Email  string          `json:"email"`
	Result types.Result    `json:"result"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}

type Decision struct {
	Action types.Action `json:"action"`
	Reason string       `json:"reason,omitempty"`
}

// Blocks reports whether the decision stops the submission.
func (d Decision) Blocks() bool {
	return d.Action == types.ActionBlock
}

type Policy interface {
	Decide(ctx context.Context, in Input) (Decision, error)
}

// Map is the static verdict-to-action table. Missing results and anything
// other than "block" resolve to allow.
type Map map[types.Result]types.Action

func (m Map) Decide(ctx context.Context, in Input) (Decision, error) {
	return Decision{Action: m.Action(in.Result)}, nil
}

func (m Map) Action(r types.Result) types.Action {
	if m[r] == types.ActionBlock {
		return types.ActionBlock
	}
	return types.ActionAllow
}

// New returns the Rego policy when a policy path is configured and the
// static map otherwise.
func New(ctx context.Context, cfg *config.Config) (Policy, error) {
	m := Map(cfg.VerificationActions)
	if cfg.AppPolicyPath == "" {
		return m, nil
	}
	return NewRegoPolicy(ctx, cfg.AppPolicyPath, m)
}
