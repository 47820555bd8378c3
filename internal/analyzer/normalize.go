package analyzer

import (
	"bytes"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// PageText returns the human-readable text of body. HTML markup, scripts and
// styles are dropped; anything that does not look like HTML is returned as-is.
func PageText(body []byte) string {
	if !looksLikeHTML(body) {
		return string(body)
	}
	var b strings.Builder
	z := html.NewTokenizer(bytes.NewReader(body))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) {
				skip++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) && skip > 0 {
				skip--
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isRawTextTag(name []byte) bool {
	switch string(name) {
	case "script", "style", "noscript", "template":
		return true
	}
	return false
}

func looksLikeHTML(body []byte) bool {
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.ToLower(bytes.TrimSpace(head))
	return bytes.HasPrefix(head, []byte("<!doctype html")) ||
		bytes.Contains(head, []byte("<html")) ||
		bytes.Contains(head, []byte("<body")) ||
		bytes.Contains(head, []byte("<div"))
}

// Normalize case-folds s and collapses every whitespace run to one space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// StripPunct replaces punctuation with spaces and re-collapses whitespace,
// so "data-may be delayed." and "data may be delayed" compare equal.
func StripPunct(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}
