// Package gate decides whether a checkout submission may proceed based on a
// remote verdict for the email address currently entered.
//
// The gate fails open. Only a verdict whose policy action is "block" stops a
// submission; every error path allows it. Verdicts are cached for the exact
// address that produced them and dropped on every field change.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cruxstack/checkout-email-verification-go/internal/config"
	"github.com/cruxstack/checkout-email-verification-go/internal/policy"
	"github.com/cruxstack/checkout-email-verification-go/internal/types"
	"github.com/cruxstack/checkout-email-verification-go/internal/verifier"
)

const DefaultTimeout = 10 * time.Second

type Config struct {
	Enabled bool
	Strings map[string]string
	Timeout time.Duration
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Enabled: cfg.VerificationEnabled,
		Strings: cfg.Strings,
		Timeout: cfg.VerificationTimeout,
	}
}

// SubmitFunc is the handle a host registers with its place-order control.
// It returns true when the submission may proceed.
type SubmitFunc func(ctx context.Context) bool

type Gate struct {
	cfg      Config
	verifier verifier.EmailVerifier
	policy   policy.Policy
	flight   singleflight.Group

	mu           sync.Mutex
	current      string
	lastVerified string
	verdict      *types.Verdict
	reason       string
	blocking     bool
	lastError    string
	inflight     map[string]int // callers waiting on a flight
	calling      map[string]int // remote calls outstanding
}

func New(cfg Config, v verifier.EmailVerifier, p policy.Policy) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.Strings = config.MergeStrings(config.DefaultStrings, cfg.Strings)
	if p == nil {
		p = policy.Map(nil)
	}

	return &Gate{
		cfg:      cfg,
		verifier: v,
		policy:   p,
		inflight: map[string]int{},
		calling:  map[string]int{},
	}
}

// OnEmailFieldChanged records the new field value and drops every piece of
// state derived from the previous one.
func (g *Gate) OnEmailFieldChanged(value string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.current = value
	g.lastVerified = ""
	g.verdict = nil
	g.reason = ""
	g.blocking = false
	g.lastError = ""
}

// Watch applies field changes from the host until changes is closed or ctx
// is done.
func (g *Gate) Watch(ctx context.Context, changes <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-changes:
			if !ok {
				return
			}
			g.OnEmailFieldChanged(v)
		}
	}
}

// Handle returns the gate's submission entry point.
func (g *Gate) Handle() SubmitFunc {
	return g.Evaluate
}

type outcome struct {
	allow bool
}

// Evaluate reports whether the current submission attempt may proceed.
// Concurrent calls for the same address share one remote call.
func (g *Gate) Evaluate(ctx context.Context) bool {
	if !g.cfg.Enabled {
		return true
	}

	for {
		g.mu.Lock()
		email := g.current

		if !ValidEmail(email) {
			g.mu.Unlock()
			return true
		}

		if g.verdict != nil && g.lastVerified == email {
			blocking := g.blocking
			g.mu.Unlock()
			return !blocking
		}

		// Joining under g.mu: a flight still registered here has not cached
		// its verdict yet, since verify needs g.mu to do so.
		g.inflight[email]++
		ch := g.flight.DoChan(email, func() (any, error) {
			return g.verify(ctx, email), nil
		})
		g.mu.Unlock()

		var out outcome
		select {
		case res := <-ch:
			out = res.Val.(outcome)
		case <-ctx.Done():
			g.release(email)
			slog.WarnContext(ctx, "submission evaluation abandoned, allowing", "error", ctx.Err())
			return true
		}

		g.mu.Lock()
		g.releaseLocked(email)
		stale := g.current != email
		g.mu.Unlock()

		if !stale {
			return out.allow
		}

		slog.DebugContext(ctx, "email changed during verification, re-evaluating")
	}
}

// verify performs the remote call for email and caches its verdict if email
// is still the field value when the response arrives.
func (g *Gate) verify(ctx context.Context, email string) outcome {
	g.mu.Lock()
	g.calling[email]++
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.calling[email]--
		if g.calling[email] <= 0 {
			delete(g.calling, email)
		}
		g.mu.Unlock()
	}()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.Timeout)
	defer cancel()

	res, err := g.verifier.VerifyEmail(callCtx, email)
	if err == nil && (res == nil || !res.Result.Valid()) {
		err = &verifier.ServiceError{}
	}
	if err != nil {
		msg := g.errorMessage(err)
		slog.WarnContext(ctx, "email verification failed, allowing submission", "error", err)

		g.mu.Lock()
		if g.current == email {
			g.lastError = msg
		}
		g.mu.Unlock()

		return outcome{allow: true}
	}

	verdict := &types.Verdict{Result: res.Result}
	if json.Valid([]byte(res.Raw)) {
		verdict.Raw = json.RawMessage(res.Raw)
	}

	decision, err := g.policy.Decide(callCtx, policy.Input{Email: email, Result: verdict.Result, Raw: verdict.Raw})
	if err != nil {
		slog.ErrorContext(ctx, "failed to evaluate policy, allowing submission", "error", err)
		decision = policy.Decision{Action: types.ActionAllow}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current != email {
		slog.DebugContext(ctx, "discarding stale verdict", "result", verdict.Result)
		return outcome{allow: !decision.Blocks()}
	}

	g.verdict = verdict
	g.lastVerified = email
	g.reason = decision.Reason
	g.blocking = decision.Blocks()
	g.lastError = ""

	slog.DebugContext(ctx, "email verified", "result", verdict.Result, "action", decision.Action, "reason", decision.Reason)

	return outcome{allow: !g.blocking}
}

func (g *Gate) errorMessage(err error) string {
	var se *verifier.ServiceError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return g.text(StringError)
}

func (g *Gate) release(email string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseLocked(email)
}

func (g *Gate) releaseLocked(email string) {
	g.inflight[email]--
	if g.inflight[email] <= 0 {
		delete(g.inflight, email)
	}
}

// pendingLocked reports whether a verification for the current email is
// outstanding and nothing is cached yet. The call counts as outstanding from
// the first caller joining until the remote call returns, whether or not
// any caller is still waiting.
func (g *Gate) pendingLocked() bool {
	if g.verdict != nil {
		return false
	}
	return g.inflight[g.current] > 0 || g.calling[g.current] > 0
}

// State returns a snapshot of the gate's bookkeeping.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	return State{
		CurrentEmail:      g.current,
		LastVerifiedEmail: g.lastVerified,
		Verdict:           g.verdict,
		Reason:            g.reason,
		Blocking:          g.blocking,
		Pending:           g.pendingLocked(),
		LastError:         g.lastError,
	}
}

// Render returns the display signal for the UI layer.
func (g *Gate) Render() Render {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.render()
}
