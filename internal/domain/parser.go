package domain

import "strings"

// ParserKind names an extraction backend a client may request.
type ParserKind string

const (
	ParserPyPDF       ParserKind = "pypdf"
	ParserGeminiFlash ParserKind = "gemini_flash"
	ParserMistral     ParserKind = "mistral"
)

// ParserKinds lists every accepted parser name in a stable order.
func ParserKinds() []ParserKind {
	return []ParserKind{ParserPyPDF, ParserGeminiFlash, ParserMistral}
}

// ParseParserKind maps a request value to a ParserKind. An empty value selects pypdf.
func ParseParserKind(value string) (ParserKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return ParserPyPDF, nil
	}
	for _, kind := range ParserKinds() {
		if string(kind) == normalized {
			return kind, nil
		}
	}
	return "", &InvalidParserError{Name: value}
}
