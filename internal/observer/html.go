package observer

import (
	"strings"

	"golang.org/x/net/html"
)

// htmlToText extracts readable text from fetched page markup so the
// observation summary carries prose instead of tag soup. Non-HTML input
// comes back collapsed to single-spaced text.
func htmlToText(content string, max int) string {
	if !strings.Contains(content, "<") {
		return clip(strings.Join(strings.Fields(content), " "), max)
	}

	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return clip(strings.Join(strings.Fields(content), " "), max)
	}

	skipTags := map[string]bool{
		"script": true, "style": true, "nav": true,
		"header": true, "footer": true, "aside": true,
		"noscript": true, "iframe": true,
	}

	var sb strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(doc)

	return clip(strings.TrimSpace(strings.Join(strings.Fields(sb.String()), " ")), max)
}
