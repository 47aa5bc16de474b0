package pinstore

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint returns the base64 SHA-256 of the certificate's SubjectPublicKeyInfo.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ParsePin normalizes a fingerprint to canonical base64.
// Accepted forms: base64, colon-separated hex, bare hex, each optionally prefixed with "sha256/".
func ParsePin(pin string) (string, error) {
	s := strings.TrimSpace(pin)
	if len(s) > 7 && strings.EqualFold(s[:7], "sha256/") {
		s = s[7:]
	}

	var raw []byte
	var err error
	switch {
	case strings.Contains(s, ":"):
		raw, err = hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	case len(s) == sha256.Size*2:
		raw, err = hex.DecodeString(s)
	default:
		raw, err = base64.StdEncoding.DecodeString(s)
		if err != nil {
			raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		}
	}
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidPin, pin, err)
	}
	if len(raw) != sha256.Size {
		return "", fmt.Errorf("%w: %q: want %d bytes, got %d", ErrInvalidPin, pin, sha256.Size, len(raw))
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EqualPins compares two fingerprints regardless of encoding.
func EqualPins(a, b string) bool {
	ca, err := ParsePin(a)
	if err != nil {
		return false
	}
	cb, err := ParsePin(b)
	if err != nil {
		return false
	}
	return ca == cb
}

// FormatHex renders a fingerprint as colon-separated uppercase hex.
func FormatHex(pin string) (string, error) {
	canon, err := ParsePin(pin)
	if err != nil {
		return "", err
	}
	raw, _ := base64.StdEncoding.DecodeString(canon)
	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}
