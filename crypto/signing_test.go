package crypto

import (
	"encoding/hex"
	"errors"
	"testing"
)

func TestSignAndRecoverAction(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := key.PubKey().Address().Bytes20()
	digest := ActionDigest("bounty_create", signer, 7, "title", "description", "100")

	sig, err := SignDigest(key, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	decoded, err := DecodeSignature("0x" + hex.EncodeToString(sig))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	recovered, err := RecoverSigner(digest, decoded)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer {
		t.Fatalf("recovered signer mismatch")
	}

	// Ethereum-style recovery ids are accepted too.
	decoded[64] += 27
	recovered, err = RecoverSigner(digest, decoded)
	if err != nil || recovered != signer {
		t.Fatalf("expected v=27/28 signature to recover signer, err=%v", err)
	}
}

func TestActionDigestBindsEveryInput(t *testing.T) {
	var signer [20]byte
	signer[0] = 1
	base := hex.EncodeToString(ActionDigest("m", signer, 1, "a", "b"))
	variants := map[string][]byte{
		"method": ActionDigest("n", signer, 1, "a", "b"),
		"nonce":  ActionDigest("m", signer, 2, "a", "b"),
		"fields": ActionDigest("m", signer, 1, "ab", ""),
		"signer": ActionDigest("m", [20]byte{}, 1, "a", "b"),
	}
	for name, digest := range variants {
		if hex.EncodeToString(digest) == base {
			t.Fatalf("changing %s did not change the digest", name)
		}
	}
}

func TestRecoverSignerRejectsMalformed(t *testing.T) {
	if _, err := RecoverSigner(make([]byte, 32), []byte{1, 2, 3}); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if _, err := DecodeSignature(""); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for empty signature, got %v", err)
	}
	if _, err := DecodeSignature("zz"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for bad hex, got %v", err)
	}
}
