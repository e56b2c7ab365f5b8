// Package ferrors defines the error taxonomy shared by every Casparian
// Flow component: a small, closed set of classes a worker or dispatcher
// can act on, rather than an open-ended tree of wrapped errors.
package ferrors

import (
	"errors"
	"fmt"
)

// Class is the authoritative error classification. Every error that
// crosses a component boundary (worker -> sentinel, plugin -> worker
// runtime) is classified as exactly one of these.
type Class string

const (
	// ClassInputInvalid means the input is malformed in a way no retry
	// will fix: an input file that is truncated, wrongly encoded or a
	// corrupt container, or an invalid CLI invocation or config file.
	ClassInputInvalid Class = "input_invalid"

	// ClassRetryable means a transient condition (disk full, lock
	// contention, a crashed worker) that a later attempt may clear.
	ClassRetryable Class = "retryable"

	// ClassContractBreach means the plugin produced output that does not
	// satisfy its approved SchemaContract.
	ClassContractBreach Class = "contract_breach"

	// ClassEnvMissing means the plugin's declared environment (lockfile,
	// interpreter, dependency) could not be resolved before spawn.
	ClassEnvMissing Class = "env_missing"

	// ClassProtocolMismatch means a wire peer sent a VER byte or opcode
	// the receiver does not understand.
	ClassProtocolMismatch Class = "protocol_mismatch"

	// ClassFatal means a catalog invariant was violated or storage is
	// corrupt; no retry, no quarantine, the process should not continue.
	ClassFatal Class = "fatal"
)

// FlowError is a classified error. Wrap any lower-level error with one of
// the New* constructors so the classification survives across a
// fmt.Errorf("...: %w", err) chain and the wire (wire.ErrMsg.Class).
type FlowError struct {
	class Class
	msg   string
	err   error
}

func (e *FlowError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.class, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.class, e.msg)
}

func (e *FlowError) Unwrap() error { return e.err }

// Class reports e's classification.
func (e *FlowError) Class() Class { return e.class }

func newError(class Class, msg string, err error) *FlowError {
	return &FlowError{class: class, msg: msg, err: err}
}

func InputInvalid(msg string, err error) *FlowError       { return newError(ClassInputInvalid, msg, err) }
func Retryable(msg string, err error) *FlowError          { return newError(ClassRetryable, msg, err) }
func ContractBreach(msg string, err error) *FlowError     { return newError(ClassContractBreach, msg, err) }
func EnvMissing(msg string, err error) *FlowError         { return newError(ClassEnvMissing, msg, err) }
func ProtocolMismatch(msg string, err error) *FlowError   { return newError(ClassProtocolMismatch, msg, err) }
func Fatal(msg string, err error) *FlowError               { return newError(ClassFatal, msg, err) }

// ClassOf extracts the Class of err, walking its Unwrap chain. It returns
// ("", false) if err was never classified by this package.
func ClassOf(err error) (Class, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.class, true
	}
	return "", false
}

// IsRetryable reports whether err is classified Retryable. A job whose
// terminal error is retryable goes back to QUEUED (bounded by
// RetryCount); every other class is a terminal FAILED.
func IsRetryable(err error) bool {
	class, ok := ClassOf(err)
	return ok && class == ClassRetryable
}
