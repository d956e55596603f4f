package mastodon

import (
	"strings"

	"golang.org/x/net/html"
)

// HTMLToText flattens status HTML into plain text. Paragraphs become blank
// lines, <br> becomes a newline, and plain links are replaced by their full
// href since Mastodon elides long URLs in the visible text.
func HTMLToText(content string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return content
	}

	var (
		b          strings.Builder
		paragraphs int
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "br":
				b.WriteString("\n")
				return
			case "p":
				if paragraphs > 0 {
					b.WriteString("\n\n")
				}
				paragraphs++
			case "a":
				if href := attr(n, "href"); href != "" && !isMentionOrTag(n) {
					b.WriteString(href)
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.TrimSpace(b.String())
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isMentionOrTag(n *html.Node) bool {
	for _, class := range strings.Fields(attr(n, "class")) {
		if class == "mention" || class == "hashtag" || class == "u-url" {
			return true
		}
	}
	return attr(n, "rel") == "tag"
}
