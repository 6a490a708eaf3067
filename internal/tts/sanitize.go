package tts

import (
	"regexp"
	"strings"
)

var urlRe = regexp.MustCompile(`(?:[a-zA-Z]+://|www\.|[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}/)[^\s]+`)

var charReplacer = strings.NewReplacer("&", " and ", "%", " percent ")

// Sanitize prepares chat text for speech: links are replaced with a short
// notice, symbols the voices read badly are spelled out, whitespace is
// collapsed and the result is cut to maxChars runes (0 means no limit).
func Sanitize(text string, maxChars int) string {
	text = urlRe.ReplaceAllString(text, ", URL removed,")
	text = charReplacer.Replace(text)
	text = strings.Join(strings.Fields(text), " ")
	if maxChars > 0 {
		if r := []rune(text); len(r) > maxChars {
			text = strings.TrimSpace(string(r[:maxChars]))
		}
	}
	return text
}
