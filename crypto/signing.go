package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// actionDomain separates bounty action signatures from any other payload a
// key might sign.
const actionDomain = "bountychain/action/v1"

var ErrInvalidSignature = errors.New("crypto: invalid signature")

// ActionDigest hashes a method name, the signer, the signer's nonce and the
// ordered call fields. Fields are length-prefixed so adjacent values cannot
// be shifted into each other.
func ActionDigest(method string, signer [20]byte, nonce uint64, fields ...string) []byte {
	parts := make([][]byte, 0, len(fields)+4)
	parts = append(parts, lengthPrefixed(actionDomain), lengthPrefixed(method), signer[:])
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	parts = append(parts, n[:])
	for _, field := range fields {
		parts = append(parts, lengthPrefixed(field))
	}
	return ethcrypto.Keccak256(parts...)
}

func lengthPrefixed(value string) []byte {
	buf := make([]byte, 4+len(value))
	binary.BigEndian.PutUint32(buf, uint32(len(value)))
	copy(buf[4:], value)
	return buf
}

// SignDigest produces a 65-byte recoverable secp256k1 signature.
func SignDigest(key *PrivateKey, digest []byte) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	return ethcrypto.Sign(digest, key.PrivateKey)
}

// RecoverSigner returns the account that produced sig over digest.
func RecoverSigner(digest, sig []byte) ([20]byte, error) {
	if len(sig) != 65 {
		return [20]byte{}, fmt.Errorf("%w: expected 65 bytes, got %d", ErrInvalidSignature, len(sig))
	}
	normalized := append([]byte(nil), sig...)
	// Accept Ethereum-style v values (27/28) as well as raw recovery ids.
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	var out [20]byte
	copy(out[:], ethcrypto.PubkeyToAddress(*pub).Bytes())
	return out, nil
}

// DecodeSignature parses a hex signature with an optional 0x prefix.
func DecodeSignature(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: signature required", ErrInvalidSignature)
	}
	sig, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return sig, nil
}
