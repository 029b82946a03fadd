// Package provider is the HTTP client for the remote prediction provider:
// submit(model, version, input, callback-url) -> prediction-id and
// get(prediction-id) -> status, as described in the orchestrator's external
// collaborators.
package provider

import "time"

// Status is the provider's terminal/non-terminal prediction state.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// IsTerminal reports whether the provider will not transition this
// prediction further.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// SubmitInput is the body sent for a new prediction.
type SubmitInput struct {
	Model       string
	Version     string
	Input       map[string]interface{}
	CallbackURL string
}

// Prediction is the provider's representation of a single inference
// invocation, returned both by Submit and by Get.
type Prediction struct {
	ID        string
	Status    Status
	Output    string
	Error     string
	CreatedAt time.Time
}

// CompletionEvent is the normalized shape ingested by Orchestrator.OnCompletion,
// whether it arrived via callback or via the reconciler's poll.
type CompletionEvent struct {
	PredictionID string
	Status       Status
	Output       string
	Error        string
}
