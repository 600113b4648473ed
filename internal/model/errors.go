package model

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means a source rejected our credentials. Jobs fail on it.
	ErrAuthentication = errors.New("authentication rejected")
	// ErrTransientSource covers timeouts, rate limits and 5xx from a source.
	ErrTransientSource = errors.New("transient source failure")
	// ErrMalformedRecord marks a single record that could not be parsed; callers skip it.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrIdentityGap means no identity mapping exists for an external id.
	ErrIdentityGap = errors.New("identity gap")
	// ErrPersistenceConflict is a duplicate-key race on an upsert. The later write wins.
	ErrPersistenceConflict = errors.New("persistence conflict")
)

// DeliveryError is a failed send. Permanent errors are never retried.
type DeliveryError struct {
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("delivery %s: %v", kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func TransientDelivery(err error) error { return &DeliveryError{Err: err} }
func PermanentDelivery(err error) error { return &DeliveryError{Permanent: true, Err: err} }

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Permanent
	}
	return errors.Is(err, ErrAuthentication) || errors.Is(err, ErrMalformedRecord)
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return !de.Permanent
	}
	return errors.Is(err, ErrTransientSource)
}

// Kind returns a short, credential-free label for err, used in alerts.
func Kind(err error) string {
	var de *DeliveryError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuthentication):
		return "authentication_error"
	case errors.Is(err, ErrPersistenceConflict):
		return "persistence_conflict"
	case errors.As(err, &de):
		if de.Permanent {
			return "delivery_error_permanent"
		}
		return "delivery_error_transient"
	case errors.Is(err, ErrTransientSource):
		return "transient_source_error"
	case errors.Is(err, ErrMalformedRecord):
		return "malformed_record"
	case errors.Is(err, ErrIdentityGap):
		return "identity_gap"
	}
	return "internal_error"
}
