package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/cruxstack/checkout-email-verification-go/internal/opa"
	"github.com/cruxstack/checkout-email-verification-go/internal/types"
)

const Query = "data.checkout_email_verification.result"

type regoInput struct {
	Email   string                        `json:"email"`
	Domain  string                        `json:"domain"`
	Result  types.Result                  `json:"result"`
	Raw     any                           `json:"raw,omitempty"`
	Actions map[types.Result]types.Action `json:"actions"`
}

// RegoPolicy evaluates a prepared Rego query. The configured action map is
// exposed to the policy as input.actions and used as the fallback when the
// policy returns no usable action.
type RegoPolicy struct {
	prepared *opa.PreparedPolicy
	fallback Map
}

func NewRegoPolicy(ctx context.Context, path string, fallback Map) (*RegoPolicy, error) {
	pp, err := opa.PreparePolicyFile(ctx, path, Query)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy at path %s: %w", path, err)
	}
	return &RegoPolicy{prepared: pp, fallback: fallback}, nil
}

func NewRegoPolicyFromSource(ctx context.Context, src string, fallback Map) (*RegoPolicy, error) {
	pp, err := opa.PreparePolicy(ctx, src, Query)
	if err != nil {
		return nil, err
	}
	return &RegoPolicy{prepared: pp, fallback: fallback}, nil
}

func (p *RegoPolicy) Decide(ctx context.Context, in Input) (Decision, error) {
	input := regoInput{
		Email:   in.Email,
		Domain:  domainOf(in.Email),
		Result:  in.Result,
		Actions: p.fallback,
	}
	if len(in.Raw) > 0 {
		input.Raw = in.Raw
	}

	out, err := opa.Evaluate[Decision](ctx, p.prepared, input)
	if err != nil {
		return Decision{}, err
	}

	switch out.Action {
	case types.ActionAllow, types.ActionBlock:
		return *out, nil
	default:
		return Decision{Action: p.fallback.Action(in.Result), Reason: out.Reason}, nil
	}
}

func domainOf(email string) string {
	at := strings.LastIndex(email, "@")
	if at == -1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
