package gate

import "github.com/cruxstack/checkout-email-verification-go/internal/types"

type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusBlocked Status = "blocked"
	StatusErrored Status = "errored"
)

// State is a point-in-time copy of the gate's bookkeeping.
type State struct {
	CurrentEmail      string
	LastVerifiedEmail string
	Verdict           *types.Verdict
	Reason            string
	Blocking          bool
	Pending           bool
	LastError         string
}

// Render is what a UI layer needs to draw the banner.
type Render struct {
	Status  Status       `json:"status"`
	Result  types.Result `json:"result,omitempty"`
	Message string       `json:"message,omitempty"`
}

// String keys used for non-verdict messages.
const (
	StringLoading = "loading"
	StringError   = "error"
)

func (g *Gate) text(key string) string {
	return g.cfg.Strings[key]
}

// render derives the display signal; callers hold g.mu.
func (g *Gate) render() Render {
	if !g.cfg.Enabled {
		return Render{Status: StatusIdle}
	}

	if g.pendingLocked() {
		return Render{Status: StatusPending, Message: g.text(StringLoading)}
	}

	if g.verdict != nil && g.blocking {
		return Render{Status: StatusBlocked, Result: g.verdict.Result, Message: g.text(string(g.verdict.Result))}
	}

	if g.lastError != "" {
		return Render{Status: StatusErrored, Message: g.lastError}
	}

	if g.verdict != nil {
		return Render{Status: StatusIdle, Result: g.verdict.Result, Message: g.text(string(g.verdict.Result))}
	}

	return Render{Status: StatusIdle}
}
