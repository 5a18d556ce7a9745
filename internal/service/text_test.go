package service

import (
	"strings"
	"testing"
)

func TestStripHTML(t *testing.T) {
	cases := map[string]string{
		"<p>Hello <b>world</b></p>":                     "Hello world",
		"line one<br>line two<br/>line three":           "line one\nline two\nline three",
		"<div>a</div><div>b</div>":                      "a\nb",
		"Tom &amp; Jerry &lt;3":                         "Tom & Jerry <3",
		"<style>p{color:red}</style><p>visible</p>":     "visible",
		"plain text":                                    "plain text",
		"<p>  spaced   </p>\n\n<p></p><p>after</p>":     "spaced\nafter",
		`<at id="0">Helpdesk</at> printer jammed again`: "Helpdesk printer jammed again",
	}
	for in, want := range cases {
		if got := StripHTML(in); got != want {
			t.Errorf("StripHTML(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeriveTitle(t *testing.T) {
	if got := DeriveTitle("  Outage ", "body"); got != "Outage" {
		t.Fatalf("expected subject, got %q", got)
	}
	if got := DeriveTitle("", "first line\nsecond"); got != "first line" {
		t.Fatalf("expected first line, got %q", got)
	}
	long := strings.Repeat("é", 150)
	if got := DeriveTitle("", long); len([]rune(got)) != maxTitleLength {
		t.Fatalf("expected %d runes, got %d", maxTitleLength, len([]rune(got)))
	}
	if got := DeriveTitle("", ""); got != fallbackTitle {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestMessageTextKeepsPlainText(t *testing.T) {
	if got := MessageText("text", "  a <b> literal  "); got != "a <b> literal" {
		t.Fatalf("unexpected %q", got)
	}
	if got := MessageText("html", "<p>x</p>"); got != "x" {
		t.Fatalf("unexpected %q", got)
	}
}
