package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// PairingTokenChars omits O, I, 0 and 1 so a token read off a screen is never ambiguous.
const PairingTokenChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const pairingTokenHalf = 4

// GeneratePairingToken returns a fresh XXXX-XXXX token.
func GeneratePairingToken() (string, error) {
	part1, err := randomChars(pairingTokenHalf)
	if err != nil {
		return "", err
	}
	part2, err := randomChars(pairingTokenHalf)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", part1, part2), nil
}

func randomChars(n int) (string, error) {
	chars := []byte(PairingTokenChars)
	out := make([]byte, n)
	max := big.NewInt(int64(len(chars)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = chars[idx.Int64()]
	}
	return string(out), nil
}

// NormalizeToken trims and upper-cases a token typed or scanned by a participant.
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func MaskCode(code string) string {
	if len(code) <= 4 {
		return "****"
	}
	return code[:4] + "-****"
}
