package tgui

import (
	"html"
	"strings"
)

// ParseModeHTML is the Telegram parse mode these helpers produce.
const ParseModeHTML = "HTML"

// H is already-escaped Telegram HTML.
type H string

func (h H) String() string { return string(h) }

// Esc escapes plain text.
func Esc(s string) H { return H(html.EscapeString(s)) }

func tag(name string, s string) H {
	return H("<" + name + ">" + html.EscapeString(s) + "</" + name + ">")
}

func B(s string) H    { return tag("b", s) }
func Code(s string) H { return tag("code", s) }

// Lines joins parts with newlines, dropping blank parts.
func Lines(parts ...H) H {
	var b strings.Builder
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(p))
	}
	return H(b.String())
}
