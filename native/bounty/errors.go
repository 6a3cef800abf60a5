package bounty

import "errors"

var (
	ErrAlreadyInitialized = errors.New("bounty: already initialized")
	ErrNotInitialized     = errors.New("bounty: registry not initialized")
	ErrValidation         = errors.New("bounty: invalid input")
	ErrNotFound           = errors.New("bounty: not found")
	ErrUnauthorized       = errors.New("bounty: unauthorized")
	ErrInvalidState       = errors.New("bounty: invalid state")
	ErrExpired            = errors.New("bounty: expired")
	ErrTransferFailed     = errors.New("bounty: transfer failed")

	errNilState  = errors.New("bounty registry: state not configured")
	errNilLedger = errors.New("bounty registry: ledger not configured")
)

// PersistsOnFailure reports whether an operation that returned err still
// wrote state that must be kept. Only the lazy expiry of a late submission
// does.
func PersistsOnFailure(err error) bool {
	return errors.Is(err, ErrExpired)
}
