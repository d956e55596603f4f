package bluesky

import (
	"context"
	"fmt"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/patrickmn/go-cache"
)

// replyRef builds the reply reference for a parent post. The thread root is
// inherited from the parent when the parent is itself a reply.
func (c *Client) replyRef(ctx context.Context, parentURI string) (*bsky.FeedPost_ReplyRef, error) {
	if v, ok := c.parents.Get(parentURI); ok {
		return v.(*bsky.FeedPost_ReplyRef), nil
	}

	uri, err := syntax.ParseATURI(parentURI)
	if err != nil {
		return nil, fmt.Errorf("parse parent uri %q: %w", parentURI, err)
	}

	out, err := atproto.RepoGetRecord(ctx, c.client, "", uri.Collection().String(), uri.Authority().String(), uri.RecordKey().String())
	if err != nil {
		return nil, fmt.Errorf("get parent record: %w", err)
	}
	if out.Cid == nil {
		return nil, fmt.Errorf("get parent record: missing cid for %s", parentURI)
	}

	parent := &atproto.RepoStrongRef{Uri: out.Uri, Cid: *out.Cid}
	ref := &bsky.FeedPost_ReplyRef{Parent: parent, Root: parent}
	if out.Value != nil {
		if post, ok := out.Value.Val.(*bsky.FeedPost); ok && post.Reply != nil && post.Reply.Root != nil {
			ref.Root = post.Reply.Root
		}
	}

	c.parents.Set(parentURI, ref, cache.DefaultExpiration)
	return ref, nil
}
