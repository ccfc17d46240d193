package telegram

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

var (
	htmlComment  = regexp.MustCompile(`<!--[\s\S]*?-->`)
	htmlTag      = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9-]*)([^>]*)>`)
	extraNewline = regexp.MustCompile(`\n{3,}`)
)

// supportedTags are the tags Telegram accepts with parse_mode=HTML.
var supportedTags = map[string]bool{
	"b": true, "strong": true, "i": true, "em": true, "u": true, "ins": true,
	"s": true, "strike": true, "del": true, "a": true, "code": true, "pre": true,
	"blockquote": true, "tg-spoiler": true,
}

// FormatHTML renders model Markdown as Telegram-flavoured HTML: headings
// become bold, list items become bullets, unsupported tags are dropped.
func FormatHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return cleanForTelegram(buf.String()), nil
}

func cleanForTelegram(html string) string {
	html = htmlComment.ReplaceAllString(html, "")
	html = htmlTag.ReplaceAllStringFunc(html, func(tag string) string {
		m := htmlTag.FindStringSubmatch(tag)
		closing, name := m[1] == "/", strings.ToLower(m[2])

		switch {
		case len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6':
			if closing {
				return "</b>\n"
			}
			return "<b>"
		case name == "li":
			if closing {
				return ""
			}
			return "• "
		case name == "p":
			if closing {
				return "\n"
			}
			return ""
		case name == "br" || name == "hr":
			return "\n"
		case supportedTags[name]:
			return tag
		default:
			return ""
		}
	})
	html = extraNewline.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
