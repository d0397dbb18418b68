package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const codeDigits = "0123456789"

// generateCode returns a random numeric code of the given length
func generateCode(length int) (string, error) {
	code := make([]byte, length)
	max := big.NewInt(int64(len(codeDigits)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		code[i] = codeDigits[n.Int64()]
	}
	return string(code), nil
}
