package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// RememberSecretSize is the entropy of a remember-me bearer token in bytes.
const RememberSecretSize = 32

// StateSecretSize is the entropy of an OAuth CSRF state value in bytes.
const StateSecretSize = 32

// NewToken returns size random bytes encoded base64url without padding.
func NewToken(size int) (string, error) {
	if size < 16 {
		return "", errors.New("token size below entropy floor")
	}

	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// NewHexToken returns size random bytes encoded as lowercase hex, the form
// used for link-based verification and reset tokens.
func NewHexToken(size int) (string, error) {
	if size < 16 {
		return "", errors.New("token size below entropy floor")
	}

	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// NewOTP returns a human-typable numeric code of the given digit count.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// HashToken returns the hex-encoded sha256 of a bearer token. Only this form
// is ever persisted; the raw token travels to the client once.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenHashesEqual compares two stored token hashes in constant time.
func TokenHashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
