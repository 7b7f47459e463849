// Package credential generates the rotating proof-of-presence credentials.
package credential

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
)

// CodeLength is the number of digits in a classroom code.
const CodeLength = 4

const qrTokenBytes = 24

var codeSpace = big.NewInt(10000)

// NewClassroomCode returns a fixed-width numeric code, e.g. "0417". The
// space is only 10k values, which is why codes carry a short validity
// period and are always paired with the stronger QR token.
func NewClassroomCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	digits := n.String()
	for len(digits) < CodeLength {
		digits = "0" + digits
	}
	return digits, nil
}

// NewQRToken returns an opaque URL-safe token with 192 bits of entropy.
func NewQRToken() (string, error) {
	buf := make([]byte, qrTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
