package textutil

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

func policy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// SanitizePlain strips markup from free text and truncates it to maxRunes (0 disables truncation).
func SanitizePlain(value string, maxRunes int) string {
	cleaned := strings.TrimSpace(policy().Sanitize(value))
	if maxRunes > 0 && utf8.RuneCountInString(cleaned) > maxRunes {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:maxRunes]))
	}
	return cleaned
}

// NormalizeAddress folds full-width characters and collapses whitespace before geocoding.
func NormalizeAddress(value string) string {
	folded := norm.NFKC.String(value)
	return strings.Join(strings.Fields(folded), " ")
}
