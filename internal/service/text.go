package service

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	fallbackTitle  = "Teams Ticket"
	maxTitleLength = 100
)

var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "tr": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "blockquote": true, "pre": true,
}

// StripHTML returns the visible text of a message body. Block elements and <br>
// become line breaks; entities are decoded.
func StripHTML(content string) string {
	z := html.NewTokenizer(strings.NewReader(content))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return tidyLines(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case tag == "script" || tag == "style":
				if tt == html.StartTagToken {
					skip++
				}
			case tag == "br":
				b.WriteByte('\n')
			case blockTags[tag]:
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case (tag == "script" || tag == "style") && skip > 0:
				skip--
			case blockTags[tag]:
				b.WriteByte('\n')
			}
		}
	}
}

// tidyLines trims each line and drops blank ones.
func tidyLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// MessageText returns the plain-text body of a message.
func MessageText(contentType, content string) string {
	if strings.EqualFold(contentType, "text") {
		return strings.TrimSpace(content)
	}
	return StripHTML(content)
}

// DeriveTitle picks the subject, else the first line of text, else a fixed fallback.
func DeriveTitle(subject, text string) string {
	if s := strings.TrimSpace(subject); s != "" {
		return s
	}
	first, _, _ := strings.Cut(text, "\n")
	first = strings.TrimSpace(first)
	if first == "" {
		return fallbackTitle
	}
	if utf8.RuneCountInString(first) > maxTitleLength {
		first = string([]rune(first)[:maxTitleLength])
	}
	return first
}
