package bluesky

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bluesky-social/indigo/api/bsky"

	"github.com/blacktop/xrelay/internal/xpost"
)

const maxPostRunes = 300

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+[^\s<>".,;:!?)\]'’”]`)

// composeText appends the quoted link and truncates to the post limit. It
// reports whether anything was cut.
func composeText(req xpost.Request) (string, bool) {
	text := req.Message
	if req.Link != "" {
		text = strings.TrimSpace(text + "\n\n" + req.Link)
	}
	if utf8.RuneCountInString(text) <= maxPostRunes {
		return text, false
	}
	runes := []rune(text)
	return string(runes[:maxPostRunes-1]) + "…", true
}

// linkFacets marks every URL in text as a link. Offsets are UTF-8 byte
// positions.
func linkFacets(text string) []*bsky.RichtextFacet {
	var facets []*bsky.RichtextFacet
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		facets = append(facets, &bsky.RichtextFacet{
			Index: &bsky.RichtextFacet_ByteSlice{
				ByteStart: int64(loc[0]),
				ByteEnd:   int64(loc[1]),
			},
			Features: []*bsky.RichtextFacet_Features_Elem{
				{RichtextFacet_Link: &bsky.RichtextFacet_Link{Uri: text[loc[0]:loc[1]]}},
			},
		})
	}
	return facets
}
