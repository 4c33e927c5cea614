package otagw

import (
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("otagw: malformed response")

// ProtocolError is a whole-request rejection signalled by the gateway's error element.
type ProtocolError struct {
	Operation Operation
	Code      string
	Message   string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("otagw %s: error %s: %s", e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("otagw %s: %s", e.Operation, e.Message)
}

// TransportError covers network failures, timeouts and non-2xx answers.
type TransportError struct {
	Operation Operation
	Status    int
	Body      string
	Err       error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("otagw %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("otagw %s: bad status %d: %s", e.Operation, e.Status, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }
