package encryption

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/benmeehan/debloat-agent/pkg/file"
)

// SignatureSize is the length of the HMAC-SHA256 trailer.
const SignatureSize = sha256.Size

// MinKeySize is the shortest signing key accepted.
const MinKeySize = 32

// PayloadSigner signs and verifies message payloads.
type PayloadSigner interface {
	SignPayload(payload []byte) ([]byte, error)
	VerifyPayloadSignature(signedPayload []byte) ([]byte, bool)
}

// SigningManager appends and checks an HMAC-SHA256 trailer on payloads.
type SigningManager struct {
	signingKey []byte
	fileClient file.FileOperations
}

// NewSigningManager creates a SigningManager. Initialize or SetKey must be
// called before use.
func NewSigningManager(fileClient file.FileOperations) *SigningManager {
	return &SigningManager{fileClient: fileClient}
}

// Initialize loads the signing key from keyPath.
func (a *SigningManager) Initialize(keyPath string) error {
	key, err := a.fileClient.ReadFileRaw(keyPath)
	if err != nil {
		return fmt.Errorf("failed to read signing key: %w", err)
	}
	return a.SetKey(key)
}

// SetKey installs key directly.
func (a *SigningManager) SetKey(key []byte) error {
	if len(key) < MinKeySize {
		return fmt.Errorf("invalid signing key size: got %d bytes, want at least %d", len(key), MinKeySize)
	}
	a.signingKey = append([]byte(nil), key...)
	return nil
}

// SignPayload generates an HMAC-SHA256 signature for the given payload using the signing key.
// The signature is appended to the payload for integrity verification.
func (a *SigningManager) SignPayload(payload []byte) ([]byte, error) {
	if a.signingKey == nil {
		return nil, errors.New("signing manager not initialized")
	}
	h := hmac.New(sha256.New, a.signingKey)
	if _, err := h.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to sign payload: %v", err)
	}
	signed := make([]byte, 0, len(payload)+SignatureSize)
	signed = append(signed, payload...)
	return h.Sum(signed), nil
}

// VerifyPayloadSignature checks the trailing signature and returns the
// payload without it.
func (a *SigningManager) VerifyPayloadSignature(signedPayload []byte) ([]byte, bool) {
	if a.signingKey == nil || len(signedPayload) < SignatureSize {
		return nil, false
	}

	// Separate payload from appended signature
	payload := signedPayload[:len(signedPayload)-SignatureSize]
	signature := signedPayload[len(signedPayload)-SignatureSize:]

	h := hmac.New(sha256.New, a.signingKey)
	h.Write(payload)
	expected := h.Sum(nil)

	if !hmac.Equal(signature, expected) {
		return nil, false
	}
	return payload, true
}
