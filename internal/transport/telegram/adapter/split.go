package adapter

import (
	"strings"
	"unicode/utf8"
)

// telegramTextLimit stays below the 4096 rune hard limit of sendMessage.
const telegramTextLimit = 4000

// splitTelegramText packs whole lines into chunks of at most limit runes.
// Only a line longer than limit is cut mid-line; in HTML mode the cut is
// moved back so it never lands inside a tag or an entity.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var (
		out []string
		buf strings.Builder
		n   int
	)
	flush := func() {
		if chunk := strings.TrimRight(buf.String(), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		buf.Reset()
		n = 0
	}
	for _, line := range strings.SplitAfter(s, "\n") {
		ln := utf8.RuneCountInString(line)
		if n > 0 && n+ln > limit {
			flush()
		}
		for ln > limit {
			head, rest := cutLine(line, limit, html)
			buf.WriteString(head)
			flush()
			line, ln = rest, utf8.RuneCountInString(rest)
		}
		if n == 0 && line == "\n" {
			continue
		}
		buf.WriteString(line)
		n += ln
	}
	flush()
	return out
}

// cutLine splits line after at most limit runes.
func cutLine(line string, limit int, html bool) (string, string) {
	rs := []rune(line)
	cut := limit
	if html {
		if i := danglingOpen(rs[:cut], '<', '>'); i > 0 {
			cut = i
		} else if i := danglingOpen(rs[:cut], '&', ';'); i > 0 && cut-i <= 10 {
			cut = i
		}
	}
	return string(rs[:cut]), string(rs[cut:])
}

// danglingOpen returns the index of the last opener in rs that has no
// closer after it, or -1.
func danglingOpen(rs []rune, opener, closer rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		switch rs[i] {
		case closer:
			return -1
		case opener:
			return i
		}
	}
	return -1
}
