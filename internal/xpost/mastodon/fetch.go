package mastodon

import (
	"context"
	"fmt"
	"strings"

	mastodonapi "github.com/mattn/go-mastodon"

	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

// Fetch loads a status by id or by URL. URLs are resolved through the
// server's search so statuses from other instances work too.
func (c *Client) Fetch(ctx context.Context, id string) (*xpost.SourcePost, error) {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		return c.fetchURL(ctx, id)
	}

	status, err := c.client.GetStatus(ctx, mastodonapi.ID(id))
	if err != nil {
		if isNotFound(err) {
			return nil, xpost.NotFoundError{Ref: xpost.PostRef{Network: xpost.Mastodon, ID: id}}
		}
		return nil, fmt.Errorf("get status %s: %w", id, err)
	}
	return SourceFromStatus(status), nil
}

func (c *Client) fetchURL(ctx context.Context, rawURL string) (*xpost.SourcePost, error) {
	logutil.Debugf("[mastodon] resolving %s", rawURL)
	results, err := c.client.Search(ctx, rawURL, true)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", rawURL, err)
	}
	if results == nil || len(results.Statuses) == 0 {
		return nil, xpost.NotFoundError{Ref: xpost.PostRef{Network: xpost.Mastodon, ID: rawURL}}
	}
	return SourceFromStatus(results.Statuses[0]), nil
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "404")
}

// SourceFromStatus converts a status into a relayable post.
func SourceFromStatus(status *mastodonapi.Status) *xpost.SourcePost {
	post := &xpost.SourcePost{
		Ref:         xpost.PostRef{Network: xpost.Mastodon, ID: string(status.ID)},
		Author:      status.Account.Username,
		Text:        HTMLToText(status.Content),
		URL:         status.URL,
		SpoilerText: status.SpoilerText,
		ReplyTo:     replyToID(status.InReplyToID),
	}
	if post.URL == "" {
		post.URL = status.URI
	}
	for _, a := range status.MediaAttachments {
		url := a.URL
		if url == "" {
			url = a.RemoteURL
		}
		post.Attachments = append(post.Attachments, xpost.Attachment{
			URL:     url,
			AltText: a.Description,
			Kind:    attachmentKind(a.Type),
		})
	}
	return post
}

func replyToID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case mastodonapi.ID:
		return string(id)
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprint(id)
	}
}

func attachmentKind(t string) xpost.MediaKind {
	switch t {
	case "video":
		return xpost.MediaVideo
	case "gifv":
		return xpost.MediaGIF
	default:
		return xpost.MediaImage
	}
}
