package parse

import (
	"strings"

	"golang.org/x/net/html"
)

// droppedElements never contribute text.
var droppedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"title":    true,
}

// breakElements end a line of text when they open or close.
var breakElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "table": true, "section": true,
	"article": true, "header": true, "footer": true, "hr": true,
}

// htmlToText reduces an HTML body to readable text: tags removed, script
// and style content dropped, block elements on their own lines and runs
// of whitespace collapsed.
func htmlToText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))

	var (
		lines []string
		line  strings.Builder
		skip  int
	)
	flush := func() {
		if s := strings.Join(strings.Fields(line.String()), " "); s != "" {
			lines = append(lines, s)
		}
		line.Reset()
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			flush()
			return strings.Join(lines, "\n")

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if droppedElements[tag] {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if breakElements[tag] {
				flush()
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if droppedElements[tag] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if breakElements[tag] {
				flush()
			}

		case html.TextToken:
			if skip > 0 {
				continue
			}
			line.Write(z.Text())
		}
	}
}
