package voucher

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

const (
	pinLetters = "abcdefghijklmnopqrstuvwxyz"
	pinDigits  = "0123456789"
)

var pinPattern = regexp.MustCompile(`^[a-z]{2}[0-9]{4}$`)

// GeneratePin produces a redemption pin of two lowercase letters followed by
// four digits. Uniqueness is not checked here; the store's unique constraint
// on pin is the backstop and callers regenerate on conflict.
func GeneratePin() (string, error) {
	buf := make([]byte, 0, 6)
	for i := 0; i < 2; i++ {
		c, err := pick(pinLetters)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for i := 0; i < 4; i++ {
		c, err := pick(pinDigits)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	return string(buf), nil
}

// ValidPin reports whether the candidate matches the pin shape.
func ValidPin(pin string) bool {
	return pinPattern.MatchString(pin)
}

func pick(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, fmt.Errorf("voucher: generate pin: %w", err)
	}
	return alphabet[n.Int64()], nil
}
