package payments

import (
	"errors"
	"fmt"
)

// ErrorKind classifies processor failures. Classification happens once, at
// the client boundary, from the processor's machine-readable error code;
// nothing above this layer matches on message text.
type ErrorKind string

const (
	// KindTransient errors may succeed on retry (expired setup intents,
	// processing glitches, network failures).
	KindTransient ErrorKind = "transient"
	// KindDeclined means the instrument was refused; the buyer must supply a
	// different card or account.
	KindDeclined ErrorKind = "declined"
	// KindValidation means the processor rejected the request payload.
	KindValidation ErrorKind = "validation"
	// KindUnavailable means the processor could not be reached at all.
	KindUnavailable ErrorKind = "unavailable"
)

// kindByCode maps processor error codes to kinds. Unknown codes fall back to
// validation, the non-retryable default.
var kindByCode = map[string]ErrorKind{
	"setup_intent_invalid": KindTransient,
	"setup_intent_expired": KindTransient,
	"processing_error":     KindTransient,
	"rate_limited":         KindTransient,
	"card_declined":        KindDeclined,
	"account_declined":     KindDeclined,
	"insufficient_funds":   KindDeclined,
	"validation_error":     KindValidation,
	"invalid_request":      KindValidation,
}

// ProcessorError is a classified failure from the payment processor.
type ProcessorError struct {
	Kind   ErrorKind
	Code   string
	Status int
	Msg    string
}

func (e *ProcessorError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("processor: %s (%s)", e.Msg, e.Code)
	}
	return "processor: " + e.Msg
}

// Recoverable reports whether an automatic retry of the same call is worth
// attempting.
func (e *ProcessorError) Recoverable() bool {
	return e.Kind == KindTransient || e.Kind == KindUnavailable
}

func classifyCode(code string) ErrorKind {
	if kind, ok := kindByCode[code]; ok {
		return kind
	}
	return KindValidation
}

// ErrNeedsRefresh is returned once automatic retries are exhausted; the UI
// surfaces a "refresh the page" affordance rather than another retry button.
var ErrNeedsRefresh = errors.New("payment setup could not recover; refresh required")

// userMessages maps error kinds to user-safe copy. Raw processor text never
// reaches the buyer.
var userMessages = map[ErrorKind]string{
	KindTransient:   "We hit a temporary problem setting up your payment. Please try again.",
	KindDeclined:    "Your bank declined this payment method. Please try a different card or account.",
	KindValidation:  "Some of the payment details look incorrect. Please check them and try again.",
	KindUnavailable: "Our payment provider is temporarily unreachable. Please try again shortly.",
}

const genericUserMessage = "Unable to complete your request. Please try again."

// UserMessage resolves the buyer-facing message for any payment error.
func UserMessage(err error) string {
	if errors.Is(err, ErrNeedsRefresh) {
		return "Something went wrong with payment setup. Please refresh the page to start over."
	}
	var pe *ProcessorError
	if errors.As(err, &pe) {
		if msg, ok := userMessages[pe.Kind]; ok {
			return msg
		}
	}
	return genericUserMessage
}
