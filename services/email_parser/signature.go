package email_parser

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Matching rules are heuristic. Downstream consumers rely on the current truncation points,
// so any change here is a behavior change.
var signatureMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^-{2,}[ \t\r]*$`),
	regexp.MustCompile(`(?m)^_{3,}[ \t\r]*$`),
	regexp.MustCompile(`(?i)Sent from `),
	regexp.MustCompile(`(?i)Enviado do `),
}

// StripSignature cuts text at the earliest signature marker. The result is always a prefix of text.
func StripSignature(text string) string {
	cut := len(text)
	for _, marker := range signatureMarkers {
		if loc := marker.FindStringIndex(text); loc != nil && loc[0] < cut {
			cut = loc[0]
		}
	}
	return strings.TrimRightFunc(text[:cut], unicode.IsSpace)
}

var localPartSeparators = strings.NewReplacer(".", " ", "_", " ", "-", " ")

// CustomerName prefers the display name; otherwise it humanizes the address local part.
func CustomerName(address, displayName string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return name
	}
	local := address
	if at := strings.Index(address, "@"); at >= 0 {
		local = address[:at]
	}
	local = strings.TrimSpace(localPartSeparators.Replace(local))
	if local == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(local)
	return string(unicode.ToUpper(r)) + local[size:]
}
