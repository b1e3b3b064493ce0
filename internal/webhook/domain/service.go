package domain

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrSignatureInvalid = errors.New("signature_invalid")
	ErrMalformedEvent   = errors.New("malformed_event")
	ErrEventInProgress  = errors.New("event_in_progress")
	ErrHandlerFailed    = errors.New("event_handler_failed")
)

type Outcome string

const (
	OutcomeProcessed  Outcome = "processed"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeInProgress Outcome = "in_progress"
	OutcomeRejected   Outcome = "rejected"
	OutcomeFailed     Outcome = "failed"
)

// Result is what the HTTP layer returns to the gateway.
type Result struct {
	Status  int
	Outcome Outcome
	Err     error
}

func (r Result) OK() bool { return r.Status == http.StatusOK }

type Service interface {
	Ingest(ctx context.Context, rawBody []byte, signatureHeader string) Result
}
