package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

const OTPDigits = 6

// GenerateOTP returns a uniformly random numeric code of OTPDigits digits.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", OTPDigits, n.Int64()), nil
}

// HashCode is the digest under which a one-time code is persisted.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// CodeMatches compares code against a digest from HashCode in constant time.
func CodeMatches(code, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(HashCode(code)), []byte(digest)) == 1
}
