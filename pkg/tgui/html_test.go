package tgui

import "testing"

func TestEscapingHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  H
		want string
	}{
		{"bold", B(`a<b>&"c"`), `<b>a&lt;b&gt;&amp;&#34;c&#34;</b>`},
		{"code", Code("x<y"), `<code>x&lt;y</code>`},
		{"lines", Lines(B("t"), "", Esc(" "), Esc("z")), "<b>t</b>\nz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got.String() != tt.want {
				t.Fatalf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTruncRunes(t *testing.T) {
	if got := TruncRunes("привет мир", 6); got != "привет…" {
		t.Fatalf("TruncRunes = %q", got)
	}
	if got := TruncRunes("short", 10); got != "short" {
		t.Fatalf("TruncRunes = %q", got)
	}
	if got := TruncRunes("x", 0); got != "" {
		t.Fatalf("TruncRunes = %q", got)
	}
}
