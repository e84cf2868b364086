package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrDuplicateReference = errors.New("duplicate reference")
	ErrNotYetFinal        = errors.New("payment not yet final")
	ErrPaymentFailed      = errors.New("payment failed on rail")
	ErrStaleTransition    = errors.New("stale transition")
	ErrTimeout            = errors.New("confirmation window elapsed")
	ErrRecipientMismatch  = errors.New("payment recipient does not match project")
	ErrUnsupportedRail    = errors.New("unsupported rail")
	ErrUnsupportedEvent   = errors.New("unsupported event")
	ErrRailUnavailable    = errors.New("rail not configured")
)
