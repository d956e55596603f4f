package twitter

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/blacktop/xrelay/internal/xpost"
)

const (
	maxTweetRunes = 280
	// truncatedRunes leaves room for the ellipsis and a link back to the source.
	truncatedRunes = 252
)

// composeTweet shapes a request into tweet text and reports whether media
// should be attached. Content-warned posts become a pointer to the source
// without media, since X has no content warnings.
func composeTweet(req xpost.Request) (string, bool) {
	if req.SpoilerText != "" && req.SourceURL != "" {
		return fmt.Sprintf("[cw %s] %s", req.SpoilerText, req.SourceURL), false
	}

	text := req.Message
	if req.Link != "" {
		text = strings.TrimSpace(text + " " + req.Link)
	}
	if utf8.RuneCountInString(text) <= maxTweetRunes {
		return text, true
	}

	runes := []rune(text)
	text = string(runes[:truncatedRunes]) + "…"
	if req.SourceURL != "" {
		text += " " + req.SourceURL
	}
	return text, true
}
