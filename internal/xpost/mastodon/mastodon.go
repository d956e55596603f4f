package mastodon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	mastodonapi "github.com/mattn/go-mastodon"

	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

const (
	envServer       = "XRELAY_MASTODON_SERVER"
	envAccessToken  = "XRELAY_MASTODON_ACCESS_TOKEN"
	envClientID     = "XRELAY_MASTODON_CLIENT_ID"
	envClientSecret = "XRELAY_MASTODON_CLIENT_SECRET"

	providerName   = "mastodon"
	requestTimeout = 30 * time.Second

	visibilityUnlisted = "unlisted"
)

// Config contains the settings needed to reach a Mastodon server.
type Config struct {
	Server       string
	AccessToken  string
	ClientID     string
	ClientSecret string
}

// Client publishes statuses to, and reads statuses from, one Mastodon server.
type Client struct {
	client *mastodonapi.Client
}

// New constructs a Mastodon client based on environment configuration.
func New(ctx context.Context) (*Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg), nil
}

// NewWithConfig constructs a client from explicit settings.
func NewWithConfig(cfg Config) *Client {
	mastodonClient := mastodonapi.NewClient(&mastodonapi.Config{
		Server:       cfg.Server,
		AccessToken:  cfg.AccessToken,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	})
	mastodonClient.Timeout = requestTimeout

	return &Client{client: mastodonClient}
}

// Network identifies the provider.
func (c *Client) Network() xpost.Network { return xpost.Mastodon }

// Post publishes an unlisted status and returns its id.
func (c *Client) Post(ctx context.Context, req xpost.Request) (string, error) {
	var mediaIDs []mastodonapi.ID
	for i, m := range req.Media {
		if i == xpost.MaxAttachments {
			break
		}
		logutil.Debugf("[mastodon] uploading %s", m.Path)
		attachment, err := c.uploadMedia(ctx, m.Path, m.AltText)
		if err != nil {
			return "", err
		}
		mediaIDs = append(mediaIDs, attachment.ID)
	}

	toot := &mastodonapi.Toot{
		Status:      composeStatus(req),
		MediaIDs:    mediaIDs,
		SpoilerText: req.SpoilerText,
		Sensitive:   req.SpoilerText != "",
		Visibility:  visibilityUnlisted,
	}
	if req.InReplyTo != "" {
		toot.InReplyToID = mastodonapi.ID(req.InReplyTo)
	}

	status, err := c.client.PostStatus(ctx, toot)
	if err != nil {
		return "", fmt.Errorf("post status: %w", err)
	}

	return string(status.ID), nil
}

func composeStatus(req xpost.Request) string {
	status := req.Message
	if req.Link != "" {
		status = status + "\n\n" + req.Link
	}
	return status
}

func (c *Client) uploadMedia(ctx context.Context, path, alt string) (*mastodonapi.Attachment, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("media %q not found", path)}
		}
		return nil, fmt.Errorf("open media: %w", err)
	}
	defer file.Close()

	attachment, err := c.client.UploadMediaFromMedia(ctx, &mastodonapi.Media{
		File:        file,
		Description: alt,
	})
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	return attachment, nil
}

// LoadConfig reads the Mastodon settings from the environment.
func LoadConfig() (Config, error) {
	cfg := Config{
		Server:       strings.TrimSpace(os.Getenv(envServer)),
		AccessToken:  strings.TrimSpace(os.Getenv(envAccessToken)),
		ClientID:     strings.TrimSpace(os.Getenv(envClientID)),
		ClientSecret: strings.TrimSpace(os.Getenv(envClientSecret)),
	}

	var missing []string
	if cfg.Server == "" {
		missing = append(missing, envServer)
	}
	if cfg.AccessToken == "" {
		missing = append(missing, envAccessToken)
	}

	if len(missing) > 0 {
		return Config{}, xpost.MissingEnvError{Provider: providerName, Variables: missing}
	}

	return cfg, nil
}
