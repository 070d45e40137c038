package lead

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a lead id does not exist.
	ErrNotFound = errors.New("lead not found")
	// ErrMissingEmail is returned when an operation needs a delivery target
	// and the lead has no email yet.
	ErrMissingEmail = errors.New("lead has no email")
	// ErrMissingPDF is returned when a template links the report and the
	// lead has no pdf_path yet.
	ErrMissingPDF = errors.New("lead has no pdf")
	// ErrUnsubscribed is returned when the recipient is on the unsubscribe
	// list. It is terminal: retrying will never succeed.
	ErrUnsubscribed = errors.New("recipient unsubscribed")
	// ErrConsentRequired is returned when contact details are set without
	// consent.
	ErrConsentRequired = errors.New("consent is required")
)

// ProviderError wraps a failure of an external collaborator (document
// renderer, object store, email transport, buyer webhook).
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err unless it is nil.
func NewProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// IsPrecondition reports whether err is a precondition failure.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrMissingEmail) ||
		errors.Is(err, ErrMissingPDF) ||
		errors.Is(err, ErrUnsubscribed) ||
		errors.Is(err, ErrConsentRequired)
}

// IsTerminal reports whether retrying the operation can never succeed.
// Schedulers treat a terminal error as a skip and latch the lead.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrUnsubscribed)
}

// IsProvider reports whether err came from an external collaborator.
func IsProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
