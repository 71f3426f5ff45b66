package transcriber

import "strings"

// baseLanguage turns a BCP-47 tag such as "ko-KR" into its ISO-639-1 part.
func baseLanguage(tag string) string {
	base, _, _ := strings.Cut(strings.TrimSpace(tag), "-")
	return strings.ToLower(base)
}
