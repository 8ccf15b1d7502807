package oauth2

import (
	"time"

	ac "github.com/panyam/authcore"
)

// Stage is a step of the callback
type Stage string

const (
	StageValidating        Stage = "validating"
	StageExchanging        Stage = "exchanging"
	StageVerifyingIdentity Stage = "verifying_identity"
	StageLinking           Stage = "linking"
	StageIssued            Stage = "issued"
	StageFailed            Stage = "failed"
)

// Reason says why a callback failed. It is safe to show to the user agent.
type Reason string

const (
	ReasonInvalidState        Reason = "invalid_state"
	ReasonTokenExchangeFailed Reason = "token_exchange_failed"
	ReasonIdentityInvalid     Reason = "identity_invalid"
	ReasonConflict            Reason = "conflict"
	ReasonServerError         Reason = "server_error"
)

// Result is where a callback ended. Stage is StageIssued or StageFailed;
// for failures FailedAt and Reason say where and why.
type Result struct {
	Stage    Stage
	FailedAt Stage
	Reason   Reason
	Err      error

	User      *ac.User
	Token     string
	ExpiresAt time.Time

	// Resolved post-login target and completion mode recorded at start
	Redirect string
	Popup    bool
}

func (r Result) OK() bool {
	return r.Stage == StageIssued
}

func failed(at Stage, reason Reason, err error) Result {
	return Result{Stage: StageFailed, FailedAt: at, Reason: reason, Err: err}
}
