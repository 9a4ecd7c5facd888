package login

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Iron-Ham/selfvisor/internal/errors"
)

// DefaultCodeLength is the number of digits in a one-time login code.
const DefaultCodeLength = 5

// NormalizeCode strips separators ('.', '-' and whitespace) from text and
// returns the remaining digits, so "1.2.3.4.5" and "12345" are the same code.
func NormalizeCode(text string, length int) (string, error) {
	code := strings.Map(func(r rune) rune {
		if r == '.' || r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)

	if len(code) != length || strings.ContainsFunc(code, func(r rune) bool { return r < '0' || r > '9' }) {
		return "", errors.NewValidationError("code", fmt.Sprintf("must contain exactly %d digits", length))
	}
	return code, nil
}
