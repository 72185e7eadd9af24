package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// SignatureHeader carries the hex-encoded Ed25519 signature.
	SignatureHeader = "X-Signature-Ed25519"
	// TimestampHeader carries the timestamp string prepended to the signed body.
	TimestampHeader = "X-Signature-Timestamp"
)

var (
	// ErrMissingPublicKey is a configuration error: no application public key was provided.
	ErrMissingPublicKey = errors.New("auth: application public key is not configured")
	// ErrInvalidPublicKey is a configuration error: the configured key is not 32 hex-encoded bytes.
	ErrInvalidPublicKey = errors.New("auth: application public key is malformed")
)

// Verify reports whether signatureHex is a valid Ed25519 signature by
// publicKeyHex over timestamp followed by body.
//
// Malformed hex, wrong lengths and failed verification all return false; the
// function never panics on request-supplied input.
func Verify(body []byte, signatureHex, timestamp, publicKeyHex string) bool {
	key, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return false
	}
	return verifyWithKey(ed25519.PublicKey(key), body, signatureHex, timestamp)
}

func verifyWithKey(key ed25519.PublicKey, body []byte, signatureHex, timestamp string) bool {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}

	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)

	return ed25519.Verify(key, msg, sig)
}

// Verifier checks request signatures against a configured public key.
// It is immutable and safe for concurrent use.
type Verifier struct {
	key ed25519.PublicKey
}

// NewVerifier decodes and validates the application public key.
func NewVerifier(publicKeyHex string) (*Verifier, error) {
	key, err := ParsePublicKey(publicKeyHex)
	if err != nil {
		return nil, err
	}
	return &Verifier{key: key}, nil
}

// ParsePublicKey decodes a hex-encoded Ed25519 public key.
func ParsePublicKey(publicKeyHex string) (ed25519.PublicKey, error) {
	publicKeyHex = strings.TrimSpace(publicKeyHex)
	if publicKeyHex == "" {
		return nil, ErrMissingPublicKey
	}
	key, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(key))
	}
	return ed25519.PublicKey(key), nil
}

// Verify checks a signature with the configured key.
func (v *Verifier) Verify(body []byte, signatureHex, timestamp string) bool {
	return verifyWithKey(v.key, body, signatureHex, timestamp)
}

// VerifyWithKey checks a signature with a per-call key override. An empty
// override falls back to the configured key.
func (v *Verifier) VerifyWithKey(body []byte, signatureHex, timestamp, publicKeyHex string) bool {
	if publicKeyHex == "" {
		return v.Verify(body, signatureHex, timestamp)
	}
	return Verify(body, signatureHex, timestamp, publicKeyHex)
}

// PublicKeyHex returns the configured key in hex.
func (v *Verifier) PublicKeyHex() string {
	return hex.EncodeToString(v.key)
}

// Sign produces the hex signature a platform would send for body and
// timestamp. It is used by the CLI and by tests.
func Sign(privateKey ed25519.PrivateKey, body []byte, timestamp string) string {
	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)
	return hex.EncodeToString(ed25519.Sign(privateKey, msg))
}
