package room

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Room codes exclude I, O, 0, 1, 8 and 9.
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ234567"
	codeLength   = 6
)

// NewCode returns a random shareable room code.
func NewCode() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode uppercases input and drops characters outside the alphabet.
func NormalizeCode(s string) string {
	s = strings.ToUpper(s)
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(codeAlphabet, s[i]) >= 0 {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func IsValidCode(s string) bool {
	return len(s) == codeLength && NormalizeCode(s) == s
}
