package verifier

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CooldownVerifier marks its wrapped verifier unhealthy for a cooldown period
// after each failure so a FailoverVerifier stops sending it traffic.
type CooldownVerifier struct {
	EmailVerifier
	cooldown time.Duration
	now      func() time.Time

	mu             sync.RWMutex
	unhealthyUntil time.Time
}

func NewCooldownVerifier(v EmailVerifier, cooldown time.Duration) *CooldownVerifier {
	return &CooldownVerifier{
		EmailVerifier: v,
		cooldown:      cooldown,
		now:           time.Now,
	}
}

func (c *CooldownVerifier) VerifyEmail(ctx context.Context, email string) (*EmailVerificationResult, error) {
	res, err := c.EmailVerifier.VerifyEmail(ctx, email)
	if err != nil && ctx.Err() == nil {
		c.mu.Lock()
		c.unhealthyUntil = c.now().Add(c.cooldown)
		c.mu.Unlock()
		slog.WarnContext(ctx, "verifier marked unhealthy", "cooldown", c.cooldown.String(), "error", err)
	}
	return res, err
}

func (c *CooldownVerifier) IsHealthy(ctx context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.now().Before(c.unhealthyUntil)
}

// Reset forces the next IsHealthy call to report healthy.
func (c *CooldownVerifier) Reset() {
	c.mu.Lock()
	c.unhealthyUntil = time.Time{}
	c.mu.Unlock()
}
