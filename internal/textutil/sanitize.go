package textutil

import (
	"strings"
	"unicode"
)

// unsafeName maps characters that break zip entries or shells on common
// filesystems.
var unsafeName = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// maxNameRunes caps a sanitized file name.
const maxNameRunes = 200

// SanitizeFileName makes name safe to use as a single archive entry. Control
// characters are dropped and the result is trimmed and truncated. An input
// that reduces to nothing, "." or ".." yields "".
func SanitizeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(unsafeName.Replace(name))
	if runes := []rune(name); len(runes) > maxNameRunes {
		name = strings.TrimSpace(string(runes[:maxNameRunes]))
	}
	if name == "." || name == ".." {
		return ""
	}
	return name
}
