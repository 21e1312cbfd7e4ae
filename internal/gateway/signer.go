package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const checksumSeparator = "###"

// Signer produces and checks X-VERIFY checksums: the hex SHA-256 of the
// signed material followed by "###" and the salt index.
type Signer struct {
	saltKey   string
	saltIndex string
}

// NewSigner returns a Signer for the merchant salt.
func NewSigner(saltKey, saltIndex string) *Signer {
	return &Signer{saltKey: saltKey, saltIndex: saltIndex}
}

// Sign checksums a base64 request body posted to path.
func (s *Signer) Sign(payload, path string) string {
	return s.checksum(payload + path)
}

// SignPath checksums a bodiless request to path.
func (s *Signer) SignPath(path string) string {
	return s.checksum(path)
}

// SignCallback checksums the base64 response field of a callback.
func (s *Signer) SignCallback(response string) string {
	return s.checksum(response)
}

// Verify checks the X-VERIFY of a response body (base64) returned for path.
func (s *Signer) Verify(payload, path, header string) error {
	return s.compare(s.Sign(payload, path), header)
}

// VerifyCallback checks the X-VERIFY of a server-to-server callback, which
// covers the base64 response field alone.
func (s *Signer) VerifyCallback(response, header string) error {
	return s.compare(s.SignCallback(response), header)
}

func (s *Signer) checksum(material string) string {
	sum := sha256.Sum256([]byte(material + s.saltKey))
	return hex.EncodeToString(sum[:]) + checksumSeparator + s.saltIndex
}

func (s *Signer) compare(want, got string) error {
	got = strings.TrimSpace(got)
	if got == "" {
		return ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(want)), []byte(strings.ToLower(got))) != 1 {
		return ErrInvalidSignature
	}
	return nil
}
