package skills

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrPromptInjection rejects content that tries to smuggle instructions into
// memory or tool output.
var ErrPromptInjection = errors.New("content rejected: potential prompt injection detected")

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(?:previous|prior|all)\s+instructions?`),
	regexp.MustCompile(`(?i)system\s*prompt`),
	regexp.MustCompile(`(?i)disregard\s+(?:all\s+|previous\s+)?instructions?`),
	regexp.MustCompile(`(?i)you\s+are\s+now\b`),
	regexp.MustCompile(`(?i)new\s+instructions?:`),
	regexp.MustCompile(`(?i)<\s*/?system`),
	regexp.MustCompile(`\[INST\]`),
	regexp.MustCompile(`<<SYS>>`),
}

var (
	// keep \t \n \r
	ctrlChars   = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	htmlTags    = regexp.MustCompile(`<[^>]+>`)
	excessSpace = regexp.MustCompile(`[ \t]{2,}`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
	// tool output from the web: drop markup, script URLs and the common
	// instruction-override phrases
	suspicious = regexp.MustCompile(`(?i)<[^>]+>|javascript:|data:[a-z]+/[a-z0-9.+-]+;|ignore\s+previous|system\s+prompt|disregard\s+instructions`)
)

func StripControl(s string) string {
	return ctrlChars.ReplaceAllString(s, "")
}

// DetectInjection reports whether s contains a known prompt-injection phrase.
func DetectInjection(s string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// SanitizeMemory cleans content for long-term storage. Injection is checked
// before tags are stripped so markers like <<SYS>> are still intact.
func SanitizeMemory(content string) (string, error) {
	cleaned := StripControl(content)
	if DetectInjection(cleaned) {
		return "", ErrPromptInjection
	}
	cleaned = htmlTags.ReplaceAllString(cleaned, "")
	cleaned = excessSpace.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned), nil
}

// SanitizeExternal scrubs untrusted text (web pages, HTTP bodies) before it is
// shown to the model.
func SanitizeExternal(s string) string {
	s = StripControl(s)
	s = suspicious.ReplaceAllString(s, "")
	s = excessSpace.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Truncate cuts s to at most max runes and marks the cut.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "\n[truncated]"
}
