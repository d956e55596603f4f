package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

const (
	// DefaultFxTwitterURL is the public fxtwitter API.
	DefaultFxTwitterURL = "https://api.fxtwitter.com"
	defaultShortener    = "https://t.co/"
)

// Fetcher reads tweets through the fxtwitter JSON API, which needs no
// credentials.
type Fetcher struct {
	baseURL   string
	shortener *regexp.Regexp
	api       *http.Client
	redirects *http.Client
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithBaseURL points the fetcher at another fxtwitter-compatible API.
func WithBaseURL(u string) FetcherOption {
	return func(f *Fetcher) { f.baseURL = strings.TrimRight(u, "/") }
}

// WithShortener changes the link prefix expanded in tweet text.
func WithShortener(prefix string) FetcherOption {
	return func(f *Fetcher) { f.shortener = shortLinkPattern(prefix) }
}

// NewFetcher returns a Fetcher with retrying HTTP clients.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	api := retryablehttp.NewClient()
	api.RetryMax = 3
	api.Logger = nil
	api.HTTPClient.Timeout = httpTimeout

	redirects := retryablehttp.NewClient()
	redirects.RetryMax = 2
	redirects.Logger = nil
	redirects.HTTPClient.Timeout = 10 * time.Second
	redirects.HTTPClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	f := &Fetcher{
		baseURL:   DefaultFxTwitterURL,
		shortener: shortLinkPattern(defaultShortener),
		api:       api.StandardClient(),
		redirects: redirects.StandardClient(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func shortLinkPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(prefix) + `[a-z0-9]{6,10}`)
}

// Network identifies the provider.
func (f *Fetcher) Network() xpost.Network { return xpost.Twitter }

type fxResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Tweet   *fxTweet `json:"tweet"`
}

type fxTweet struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Text   string `json:"text"`
	Author struct {
		ScreenName string `json:"screen_name"`
	} `json:"author"`
	ReplyingToStatus *string         `json:"replying_to_status"`
	ReplyingTo       json.RawMessage `json:"replying_to"`
	Quote            *struct {
		URL string `json:"url"`
	} `json:"quote"`
	Media *struct {
		Photos []fxMedia `json:"photos"`
		Videos []fxMedia `json:"videos"`
	} `json:"media"`
}

type fxMedia struct {
	URL     string `json:"url"`
	Type    string `json:"type"`
	AltText string `json:"altText"`
}

// Fetch loads a tweet by id.
func (f *Fetcher) Fetch(ctx context.Context, id string) (*xpost.SourcePost, error) {
	ref := xpost.PostRef{Network: xpost.Twitter, ID: id}
	endpoint := fmt.Sprintf("%s/status/%s", f.baseURL, url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "xrelay/1")

	resp, err := f.api.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tweet %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, xpost.NotFoundError{Ref: ref}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch tweet %s: unexpected status %d", id, resp.StatusCode)
	}

	var body fxResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode tweet %s: %w", id, err)
	}
	if body.Tweet == nil {
		return nil, xpost.NotFoundError{Ref: ref}
	}

	post := body.Tweet.toSourcePost()
	if post.Ref.ID == "" {
		post.Ref.ID = id
	}
	post.Text = f.expandLinks(ctx, post.Text)
	return post, nil
}

func (t *fxTweet) toSourcePost() *xpost.SourcePost {
	post := &xpost.SourcePost{
		Ref:             xpost.PostRef{Network: xpost.Twitter, ID: t.ID},
		Author:          t.Author.ScreenName,
		Text:            t.Text,
		URL:             t.URL,
		ReplyToFallback: replyingToPost(t.ReplyingTo),
	}
	if t.ReplyingToStatus != nil {
		post.ReplyTo = *t.ReplyingToStatus
	}
	if t.Quote != nil {
		post.QuoteURL = t.Quote.URL
	}
	if t.Media != nil {
		// a tweet carries photos or videos, never both
		media := t.Media.Photos
		if len(media) == 0 {
			media = t.Media.Videos
		}
		for _, m := range media {
			post.Attachments = append(post.Attachments, xpost.Attachment{
				URL:     m.URL,
				AltText: m.AltText,
				Kind:    mediaKind(m),
			})
		}
	}
	return post
}

// replyingToPost reads the parent id from the object form of replying_to.
// Older responses carry only the parent's screen name there.
func replyingToPost(raw json.RawMessage) string {
	if len(raw) == 0 || raw[0] != '{' {
		return ""
	}
	var v struct {
		Post string `json:"post"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v.Post
}

func mediaKind(m fxMedia) xpost.MediaKind {
	switch m.Type {
	case "video":
		return xpost.MediaVideo
	case "gif":
		return xpost.MediaGIF
	}
	if strings.EqualFold(path.Ext(m.URL), ".mp4") {
		return xpost.MediaVideo
	}
	return xpost.MediaImage
}

// expandLinks replaces shortened links with their redirect targets. Links
// that cannot be resolved are left as they are.
func (f *Fetcher) expandLinks(ctx context.Context, text string) string {
	seen := map[string]struct{}{}
	for _, short := range f.shortener.FindAllString(text, -1) {
		if _, ok := seen[short]; ok {
			continue
		}
		seen[short] = struct{}{}

		target, err := f.resolveRedirect(ctx, short)
		if err != nil {
			logutil.Debugf("expand %s: %v", short, err)
			continue
		}
		text = strings.ReplaceAll(text, short, target)
	}
	return text
}

func (f *Fetcher) resolveRedirect(ctx context.Context, short string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, short, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.redirects.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("no redirect (status %d)", resp.StatusCode)
	}
	return location, nil
}
