// Package apperr is the error taxonomy shared by services and handlers.
// Services return *Error for outcomes the caller is expected to branch on;
// anything else is treated as an internal failure.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindPermissionDenied
	KindValidation
	KindNotFound
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindPermissionDenied:
		return "permission_denied"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Reason codes the frontend branches on.
const (
	ReasonRequiresPro        = "requires_pro"
	ReasonRequiresTraining   = "requires_training"
	ReasonPayoutVerified     = "payout_verified"
	ReasonInsufficientLinks  = "insufficient_links"
	ReasonInvalidLink        = "invalid_link"
	ReasonAmbassadorNotFound = "ambassador_not_found"
	ReasonInvalidAmount      = "invalid_amount"
	ReasonInvalidStatus      = "invalid_status"
	ReasonMissingCredential  = "missing_credential"
	ReasonInvalidCredential  = "invalid_credential"
	ReasonPayoutProcessor    = "payout_processor"
)

type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Unauthorized(reason, msg string) *Error {
	return &Error{Kind: KindUnauthorized, Reason: reason, Message: msg}
}

func PermissionDenied(reason, msg string) *Error {
	return &Error{Kind: KindPermissionDenied, Reason: reason, Message: msg}
}

func Validation(reason, msg string) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Message: msg}
}

func NotFound(reason, msg string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, Message: msg}
}

// Upstream wraps a collaborator failure. Message is the collaborator's own
// message, surfaced verbatim.
func Upstream(reason string, err error) *Error {
	return &Error{Kind: KindUpstream, Reason: reason, Message: err.Error(), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ReasonOf returns the reason code of err, or "".
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
