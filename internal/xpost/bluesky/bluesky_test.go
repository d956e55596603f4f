package bluesky

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/bluesky-social/indigo/xrpc"

	"github.com/blacktop/xrelay/internal/xpost"
)

func TestComposeText(t *testing.T) {
	t.Parallel()
	text, truncated := composeText(xpost.Request{Message: "hi", Link: "https://example.com/q"})
	if text != "hi\n\nhttps://example.com/q" || truncated {
		t.Errorf("short text = %q, %v", text, truncated)
	}

	long := strings.Repeat("é", 301)
	text, truncated = composeText(xpost.Request{Message: long})
	if !truncated {
		t.Fatal("301 runes should be truncated")
	}
	if n := utf8.RuneCountInString(text); n != 300 {
		t.Errorf("truncated length = %d runes, want 300", n)
	}
	if !strings.HasSuffix(text, "…") {
		t.Errorf("truncated text should end with an ellipsis: %q", text[len(text)-8:])
	}

	exact := strings.Repeat("a", 300)
	if text, truncated := composeText(xpost.Request{Message: exact}); truncated || text != exact {
		t.Error("300 runes fit exactly")
	}
}

func TestLinkFacets(t *testing.T) {
	t.Parallel()
	text := "café see https://example.com/a?b=1. and http://x.org"
	facets := linkFacets(text)
	if len(facets) != 2 {
		t.Fatalf("got %d facets", len(facets))
	}
	first := facets[0]
	if got := text[first.Index.ByteStart:first.Index.ByteEnd]; got != "https://example.com/a?b=1" {
		t.Errorf("first facet covers %q", got)
	}
	if first.Features[0].RichtextFacet_Link.Uri != "https://example.com/a?b=1" {
		t.Errorf("uri = %q", first.Features[0].RichtextFacet_Link.Uri)
	}
}

type pds struct {
	server     *httptest.Server
	getRecords atomic.Int32

	mu      sync.Mutex
	created []map[string]any
}

func (p *pds) records() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]any(nil), p.created...)
}

func newPDS(t *testing.T) *pds {
	t.Helper()
	p := &pds{}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/xrpc/com.atproto.repo.getRecord":
			p.getRecords.Add(1)
			w.Write([]byte(`{
				"uri": "at://did:plc:me/app.bsky.feed.post/parent",
				"cid": "bafyparent",
				"value": {
					"$type": "app.bsky.feed.post",
					"text": "parent",
					"createdAt": "2024-01-01T00:00:00Z",
					"reply": {
						"root": {"uri": "at://did:plc:me/app.bsky.feed.post/root", "cid": "bafyroot"},
						"parent": {"uri": "at://did:plc:me/app.bsky.feed.post/root", "cid": "bafyroot"}
					}
				}
			}`))
		case "/xrpc/com.atproto.repo.createRecord":
			body, _ := io.ReadAll(r.Body)
			var in map[string]any
			json.Unmarshal(body, &in)
			p.mu.Lock()
			p.created = append(p.created, in)
			p.mu.Unlock()
			w.Write([]byte(`{"uri": "at://did:plc:me/app.bsky.feed.post/new", "cid": "bafynew"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *pds) client() *Client {
	return NewWithXRPC(&xrpc.Client{
		Client: p.server.Client(),
		Host:   p.server.URL,
		Auth:   &xrpc.AuthInfo{AccessJwt: "jwt", Did: "did:plc:me", Handle: "operator.bsky.social"},
	})
}

func TestPostReplyInheritsRoot(t *testing.T) {
	t.Parallel()
	p := newPDS(t)
	c := p.client()

	for i := 0; i < 2; i++ {
		uri, err := c.Post(context.Background(), xpost.Request{
			Message:   "reply",
			InReplyTo: "at://did:plc:me/app.bsky.feed.post/parent",
		})
		if err != nil {
			t.Fatalf("Post: %v", err)
		}
		if uri != "at://did:plc:me/app.bsky.feed.post/new" {
			t.Errorf("uri = %q", uri)
		}
	}
	if n := p.getRecords.Load(); n != 1 {
		t.Errorf("parent record fetched %d times, want 1 (cached)", n)
	}

	record := p.records()[0]["record"].(map[string]any)
	reply := record["reply"].(map[string]any)
	if got := reply["parent"].(map[string]any)["cid"]; got != "bafyparent" {
		t.Errorf("parent cid = %v", got)
	}
	if got := reply["root"].(map[string]any)["cid"]; got != "bafyroot" {
		t.Errorf("root cid = %v", got)
	}
}

func TestPostTruncatedEmbedsSource(t *testing.T) {
	t.Parallel()
	p := newPDS(t)
	_, err := p.client().Post(context.Background(), xpost.Request{
		Message:   strings.Repeat("word ", 80),
		SourceURL: "https://mastodon.example/@operator/110",
		Source:    xpost.Mastodon,
	})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	record := p.records()[0]["record"].(map[string]any)
	embed := record["embed"].(map[string]any)
	if embed["$type"] != "app.bsky.embed.external" {
		t.Fatalf("embed type = %v", embed["$type"])
	}
	if got := embed["external"].(map[string]any)["uri"]; got != "https://mastodon.example/@operator/110" {
		t.Errorf("external uri = %v", got)
	}
}

func TestPostRejectsBadParentURI(t *testing.T) {
	t.Parallel()
	p := newPDS(t)
	if _, err := p.client().Post(context.Background(), xpost.Request{Message: "x", InReplyTo: "not-an-at-uri"}); err == nil {
		t.Error("expected error for malformed parent")
	}
	if len(p.records()) != 0 {
		t.Error("no record should be created")
	}
}
