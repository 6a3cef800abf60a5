package rpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"bountychain/core"
	"bountychain/crypto"
)

var errSignerMismatch = errors.New("signature does not match caller")

// Signable is implemented by every mutating method's parameters.
type Signable interface {
	SigningFields() []string
}

// ActionDigest returns the digest a caller signs for method with params.
func ActionDigest(method string, caller [20]byte, nonce uint64, params Signable) []byte {
	return crypto.ActionDigest(method, caller, nonce, params.SigningFields()...)
}

// SignCall fills call with the caller address, nonce and a signature over
// method and params.
func SignCall(key *crypto.PrivateKey, method string, nonce uint64, params Signable) (SignedCall, error) {
	if key == nil {
		return SignedCall{}, fmt.Errorf("signing key required")
	}
	addr := key.PubKey().Address()
	sig, err := crypto.SignDigest(key, ActionDigest(method, addr.Bytes20(), nonce, params))
	if err != nil {
		return SignedCall{}, err
	}
	return SignedCall{
		Caller:    addr.String(),
		Nonce:     nonce,
		Signature: "0x" + hex.EncodeToString(sig),
	}, nil
}

// authorize recovers the signer of call and checks it is the named caller.
// The returned authorization still has to pass the node's nonce check.
func authorize(method string, call SignedCall, params Signable) (*core.Authorization, error) {
	if strings.TrimSpace(call.Caller) == "" {
		return nil, fmt.Errorf("caller required")
	}
	caller, err := crypto.ParseAccount(call.Caller)
	if err != nil {
		return nil, fmt.Errorf("invalid caller: %w", err)
	}
	sig, err := crypto.DecodeSignature(call.Signature)
	if err != nil {
		return nil, err
	}
	signer, err := crypto.RecoverSigner(ActionDigest(method, caller, call.Nonce, params), sig)
	if err != nil {
		return nil, err
	}
	if signer != caller {
		return nil, errSignerMismatch
	}
	return &core.Authorization{Signer: caller, Nonce: call.Nonce}, nil
}
