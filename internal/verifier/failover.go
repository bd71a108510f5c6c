package verifier

import (
	"context"
	"errors"
	"log/slog"
)

// HealthChecker is an optional interface that verifiers can implement to be
// skipped by a FailoverVerifier while they are known to be failing.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// FailoverVerifier tries each verifier in order. The first healthy verifier
// that answers wins.
type FailoverVerifier struct {
	verifiers []EmailVerifier
}

func NewFailoverVerifier(verifiers ...EmailVerifier) *FailoverVerifier {
	return &FailoverVerifier{verifiers: verifiers}
}

func (f *FailoverVerifier) VerifyEmail(ctx context.Context, email string) (*EmailVerificationResult, error) {
	var lastErr error

	for i, v := range f.verifiers {
		if hc, ok := v.(HealthChecker); ok && !hc.IsHealthy(ctx) {
			slog.WarnContext(ctx, "verifier unhealthy, skipping", "index", i)
			continue
		}

		res, err := v.VerifyEmail(ctx, email)
		if err == nil {
			return res, nil
		}

		// the caller's deadline applies to every verifier in the chain
		if ctx.Err() != nil {
			return nil, err
		}

		slog.WarnContext(ctx, "verifier failed, trying next", "index", i, "error", err)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("no email verifiers available")
	}
	return nil, lastErr
}

// Verifiers returns the chain in the order it is tried.
func (f *FailoverVerifier) Verifiers() []EmailVerifier {
	return f.verifiers
}
