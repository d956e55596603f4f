package twitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/tweet/managetweet"
	managetweettypes "github.com/michimani/gotwi/tweet/managetweet/types"

	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

const (
	envAPIKey       = "XRELAY_TWITTER_CONSUMER_KEY"
	envAPISecret    = "XRELAY_TWITTER_CONSUMER_SECRET"
	envAccessToken  = "XRELAY_TWITTER_ACCESS_TOKEN"
	envAccessSecret = "XRELAY_TWITTER_ACCESS_TOKEN_SECRET"
	envDebug        = "XRELAY_TWITTER_DEBUG"

	providerName = "twitter"
	httpTimeout  = 30 * time.Second
)

// Config holds the OAuth 1.0a user-context credentials.
type Config struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

// Client posts tweets as the operator.
type Client struct {
	api *gotwi.Client
}

// New reads credentials from the environment and returns a ready client.
func New(ctx context.Context) (*Client, error) {
	cfg, err := loadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	api, err := gotwi.NewClient(&gotwi.NewClientInput{
		HTTPClient:           &http.Client{Timeout: httpTimeout},
		AuthenticationMethod: gotwi.AuthenMethodOAuth1UserContext,
		OAuthToken:           cfg.AccessToken,
		OAuthTokenSecret:     cfg.AccessSecret,
		APIKey:               cfg.APIKey,
		APIKeySecret:         cfg.APISecret,
		Debug:                os.Getenv(envDebug) == "1" || logutil.Verbose(),
	})
	if err != nil {
		return nil, fmt.Errorf("create X client: %w", err)
	}
	if !api.IsReady() {
		return nil, errors.New("X client not ready")
	}

	return &Client{api: api}, nil
}

func (c *Client) Network() xpost.Network { return xpost.Twitter }

// Post publishes a tweet and returns its id. Media is dropped when the
// source carried a content warning, since the tweet only links back.
func (c *Client) Post(ctx context.Context, req xpost.Request) (string, error) {
	text, withMedia := composeTweet(req)

	input := &managetweettypes.CreateInput{Text: gotwi.String(text)}
	if withMedia && len(req.Media) > 0 {
		mediaIDs, err := c.uploadAll(ctx, req.Media)
		if err != nil {
			return "", err
		}
		input.Media = &managetweettypes.CreateInputMedia{MediaIDs: mediaIDs}
	}
	if req.InReplyTo != "" {
		input.Reply = &managetweettypes.CreateInputReply{InReplyToTweetID: req.InReplyTo}
	}

	logutil.Debugf("[twitter] create tweet: runes=%d reply_to=%q", len([]rune(text)), req.InReplyTo)
	res, err := managetweet.Create(ctx, c.api, input)
	if err != nil {
		return "", fmt.Errorf("post tweet: %w", apiError(err))
	}
	if res.Data.ID == nil {
		return "", errors.New("post tweet: response carried no id")
	}
	return *res.Data.ID, nil
}

func (c *Client) uploadAll(ctx context.Context, media []xpost.Media) ([]string, error) {
	media = media[:min(len(media), xpost.MaxAttachments)]
	ids := make([]string, 0, len(media))
	for _, m := range media {
		id, err := c.uploadMedia(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", m.Path, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func loadConfigFromEnv() (Config, error) {
	var cfg Config
	fields := []struct {
		env string
		dst *string
	}{
		{envAPIKey, &cfg.APIKey},
		{envAPISecret, &cfg.APISecret},
		{envAccessToken, &cfg.AccessToken},
		{envAccessSecret, &cfg.AccessSecret},
	}

	var missing []string
	for _, f := range fields {
		*f.dst = strings.TrimSpace(os.Getenv(f.env))
		if *f.dst == "" {
			missing = append(missing, f.env)
		}
	}
	if len(missing) > 0 {
		return Config{}, xpost.MissingEnvError{Provider: providerName, Variables: missing}
	}
	return cfg, nil
}
