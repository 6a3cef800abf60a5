package bounty

import "fmt"

// Authorizer proves that the current caller controls an account.
type Authorizer interface {
	RequireAuth(addr [20]byte) error
}

// requireCaller checks that auth proves control of subject. For
// creator-gated operations subject is always read from the stored record,
// never from caller-supplied parameters.
func requireCaller(auth Authorizer, subject [20]byte) error {
	if auth == nil {
		return fmt.Errorf("%w: no caller proof", ErrUnauthorized)
	}
	if err := auth.RequireAuth(subject); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

// Signers is an Authorizer backed by the set of accounts whose signatures the
// host has already verified for the current call.
type Signers [][20]byte

// RequireAuth implements Authorizer.
func (s Signers) RequireAuth(addr [20]byte) error {
	for _, signer := range s {
		if signer == addr {
			return nil
		}
	}
	return fmt.Errorf("caller does not control %x", addr)
}
