package replicate

import (
	"fmt"
)

// Reason classifies why a generation failed.
type Reason string

const (
	ReasonAuth      Reason = "auth"
	ReasonTransport Reason = "transport"
	ReasonService   Reason = "service"
	ReasonMalformed Reason = "malformed"
)

type Error struct {
	Reason     Reason
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("replicate %s error: %s", e.Reason, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result is the outcome of one generation. Exactly one of URLs and Err is
// meaningful: a successful prediction may still return no URLs.
type Result struct {
	URLs []string
	Err  *Error
}

func (r Result) Failed() bool {
	return r.Err != nil
}

func failure(err *Error) Result {
	return Result{Err: err}
}
