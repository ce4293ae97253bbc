package plan

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxNameBytes is the longest file name accepted by common filesystems.
const MaxNameBytes = 255

var (
	illegalChars    = regexp.MustCompile(`[/?<>\\:*|"]`)
	controlChars    = regexp.MustCompile(`[\x{0000}-\x{001f}\x{0080}-\x{009f}]`)
	dotsOnly        = regexp.MustCompile(`^\.+$`)
	windowsReserved = regexp.MustCompile(`(?i)^(con|prn|aux|nul|com[0-9]|lpt[0-9])(\..*)?$`)
	windowsTrailing = regexp.MustCompile(`[. ]+$`)
	zipSuffix       = regexp.MustCompile(`(?i)\.zip$`)
)

// Sanitize turns free text into a single portable path segment.
// Characters illegal on common filesystems are removed, names reserved on
// Windows are dropped, surrounding whitespace and trailing dots are trimmed,
// and the result is NFC-normalized and cut to MaxNameBytes.
// The result may be empty.
func Sanitize(name string) string {
	s := norm.NFC.String(name)
	s = illegalChars.ReplaceAllString(s, "")
	s = controlChars.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = dotsOnly.ReplaceAllString(s, "")
	s = windowsReserved.ReplaceAllString(s, "")
	s = windowsTrailing.ReplaceAllString(s, "")
	return truncate(s, MaxNameBytes)
}

// StripZip removes a trailing ".zip", case-insensitively.
func StripZip(name string) string {
	return zipSuffix.ReplaceAllString(name, "")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = s[:limit]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
