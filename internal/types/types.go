package types

import (
	"encoding/json"
	"net/url"
)

// Result is the verification service's categorical judgment of an address.
type Result string

const (
	ResultDeliverable   Result = "deliverable"
	ResultUndeliverable Result = "undeliverable"
	ResultRisky         Result = "risky"
	ResultUnknown       Result = "unknown"
)

// Valid reports whether r is one of the four known categories.
func (r Result) Valid() bool {
	switch r {
	case ResultDeliverable, ResultUndeliverable, ResultRisky, ResultUnknown:
		return true
	}
	return false
}

// Action is what a policy does with a verdict.
type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
)

// Verdict is an immutable verification outcome as returned by the endpoint.
type Verdict struct {
	Result Result          `json:"result"`
	Raw    json.RawMessage `json:"-"`
}

// VerifyRequest fields are sent form-encoded to the verification endpoint.
type VerifyRequest struct {
	Action string `json:"action"`
	Nonce  string `json:"nonce"`
	Email  string `json:"email"`
}

func (r VerifyRequest) Values() url.Values {
	return url.Values{
		"action": {r.Action},
		"nonce":  {r.Nonce},
		"email":  {r.Email},
	}
}

// VerifyRequestFromForm reads the request fields from a decoded form.
func VerifyRequestFromForm(form url.Values) VerifyRequest {
	return VerifyRequest{
		Action: form.Get("action"),
		Nonce:  form.Get("nonce"),
		Email:  form.Get("email"),
	}
}

// VerifyResponse is the endpoint's JSON envelope. Data holds a VerdictData on
// success and an ErrorData on failure.
type VerifyResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type VerdictData struct {
	Result Result  `json:"result"`
	Email  string  `json:"email,omitempty"`
	Score  float32 `json:"score,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}
