package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NormalizePlate upper-cases a plate and strips everything that is not a
// letter or digit. Non-latin scripts are kept as-is.
func NormalizePlate(plate string) string {
	var b strings.Builder
	b.Grow(len(plate))
	for _, r := range strings.TrimSpace(plate) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

func PlateLength(plate string) int {
	return utf8.RuneCountInString(plate)
}
