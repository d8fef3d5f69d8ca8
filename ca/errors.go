package ca

import "errors"

var (
	// ErrAlreadyExists is returned when initialising an authority at a
	// location that already holds anything. Serial history must never be
	// merged with another authority's.
	ErrAlreadyExists = errors.New("authority location already exists")

	// ErrInputValidation is the class for missing or malformed caller
	// input. Specific conditions wrap it so callers can branch on either.
	ErrInputValidation = errors.New("input validation failed")

	// ErrPolicyViolation is returned when a pending request fails the
	// signing policy; the request moves to REJECTED and the index is
	// untouched.
	ErrPolicyViolation = errors.New("request violates signing policy")

	// ErrKeyUnavailable is returned when the authority's key cannot be
	// used: token absent, key file unreadable, or keystore mismatch.
	ErrKeyUnavailable = errors.New("signing key unavailable")

	// ErrTokenBusy is returned when a hardware-token authority is already
	// inside a signing operation; token sessions are exclusive.
	ErrTokenBusy = errors.New("token busy")

	// ErrRequestState is returned when an operation is attempted on a
	// request in the wrong lifecycle state.
	ErrRequestState = errors.New("request is not in a valid state for this operation")

	// ErrInvalidPEM is returned when PEM data cannot be decoded or parsed.
	ErrInvalidPEM = errors.New("invalid PEM data")
)

// Wrapped conditions. Each carries its own message and unwraps to the
// class sentinel above so callers can branch on either.
var (
	// ErrNameTaken is returned when a request's safe name collides with
	// an existing certificate of the same type in this authority.
	ErrNameTaken = wrap("certificate name already taken", ErrAlreadyExists)

	// ErrEmailRequired is returned for client requests without an email
	// address. Terminal for that request.
	ErrEmailRequired = wrap("client request requires an email address", ErrInputValidation)

	// ErrDomainRequired is returned when the authority configuration has
	// no domain; the CRL distribution point cannot be built without one.
	ErrDomainRequired = wrap("authority domain is required", ErrInputValidation)

	// ErrNameRequired is returned for requests with an empty name.
	ErrNameRequired = wrap("request name is required", ErrInputValidation)
)

func wrap(msg string, class error) error {
	return &classError{msg: msg, class: class}
}

type classError struct {
	msg   string
	class error
}

func (e *classError) Error() string { return e.msg }
func (e *classError) Unwrap() error { return e.class }
