package generator

import (
	"crypto/rand"
	"errors"
)

// Subdomain labels must be valid DNS labels, so base64-style alphabets are
// out: lowercase alphanumeric only, never starting with a digit.
const labelAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var ErrBadLength = errors.New("generator: length must be positive")

// Label returns a random DNS-safe subdomain label of the given length.
func Label(length int) (string, error) {
	if length <= 0 {
		return "", ErrBadLength
	}

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	for i := range b {
		if i == 0 {
			// first character alphabetic
			b[i] = labelAlphabet[int(b[i])%26]
			continue
		}
		b[i] = labelAlphabet[int(b[i])%len(labelAlphabet)]
	}

	return string(b), nil
}
