package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/BradenHooton/tokenwarden/internal/models"
)

const (
	maxNumericCode  = 999999
	resetCodeSource = 256
)

// generateNumericCode returns a uniform code in [1, 999999], zero padded to six digits
func generateNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxNumericCode))
	if err != nil {
		return "", fmt.Errorf("failed to generate numeric code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+1), nil
}

// generateResetCode returns the hex sha256 digest of 256 random bytes
func generateResetCode() (string, error) {
	buf := make([]byte, resetCodeSource)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate reset code: %w", err)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

func generateCode(kind models.TokenKind) (string, error) {
	switch kind {
	case models.TokenKindEmailVerification:
		return generateNumericCode()
	case models.TokenKindPasswordReset:
		return generateResetCode()
	default:
		return "", fmt.Errorf("unknown token kind %q: %w", kind, models.ErrBadRequest)
	}
}

// hashCode is the form codes are persisted and looked up in
func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
