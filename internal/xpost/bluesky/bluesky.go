package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
	"github.com/patrickmn/go-cache"

	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

const (
	envHandle      = "XRELAY_BLUESKY_HANDLE"
	envAppPassword = "XRELAY_BLUESKY_APP_PASSWORD"
	envPDSURL      = "XRELAY_BLUESKY_PDS_URL"

	providerName   = "bluesky"
	requestTimeout = 30 * time.Second

	// DefaultPDSURL is used when no PDS is configured.
	DefaultPDSURL = "https://bsky.social"

	postCollection = "app.bsky.feed.post"
)

// Config allows the caller to supply defaults prior to reading environment variables.
type Config struct {
	PDSURL string
}

// Client implements the xpost.Poster interface for Bluesky.
type Client struct {
	client  *xrpc.Client
	parents *cache.Cache
}

// New logs in and returns a Bluesky poster.
func New(ctx context.Context, base Config) (*Client, error) {
	cfg, err := loadConfig(base)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: requestTimeout}
	userAgent := "xrelay/1"
	xrpcClient := &xrpc.Client{
		Client:    httpClient,
		Host:      cfg.PDSURL,
		UserAgent: &userAgent,
	}

	session, err := atproto.ServerCreateSession(ctx, xrpcClient, &atproto.ServerCreateSession_Input{
		Identifier: cfg.Handle,
		Password:   cfg.AppPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	xrpcClient.Auth = &xrpc.AuthInfo{
		AccessJwt:  session.AccessJwt,
		RefreshJwt: session.RefreshJwt,
		Handle:     session.Handle,
		Did:        session.Did,
	}

	return NewWithXRPC(xrpcClient), nil
}

// NewWithXRPC wraps an already authenticated xrpc client.
func NewWithXRPC(c *xrpc.Client) *Client {
	return &Client{
		client:  c,
		parents: cache.New(10*time.Minute, 15*time.Minute),
	}
}

// Network identifies the provider.
func (c *Client) Network() xpost.Network { return xpost.Bluesky }

// Post creates a Bluesky post and returns its AT-URI.
func (c *Client) Post(ctx context.Context, req xpost.Request) (string, error) {
	text, truncated := composeText(req)
	post := &bsky.FeedPost{
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Text:      text,
		Facets:    linkFacets(text),
	}

	if req.InReplyTo != "" {
		reply, err := c.replyRef(ctx, req.InReplyTo)
		if err != nil {
			return "", err
		}
		post.Reply = reply
	}

	switch {
	case truncated && req.SourceURL != "":
		// the full text only exists at the source
		post.Embed = &bsky.FeedPost_Embed{
			EmbedExternal: &bsky.EmbedExternal{
				External: &bsky.EmbedExternal_External{
					Uri:         req.SourceURL,
					Title:       fmt.Sprintf("Continued on %s", req.Source),
					Description: text,
				},
			},
		}
	default:
		images, err := c.uploadImages(ctx, req.Media)
		if err != nil {
			return "", err
		}
		if len(images) > 0 {
			post.Embed = &bsky.FeedPost_Embed{
				EmbedImages: &bsky.EmbedImages{Images: images},
			}
		}
	}

	out, err := atproto.RepoCreateRecord(ctx, c.client, &atproto.RepoCreateRecord_Input{
		Collection: postCollection,
		Repo:       c.client.Auth.Did,
		Record: &util.LexiconTypeDecoder{
			Val: post,
		},
	})
	if err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}

	return out.Uri, nil
}

func (c *Client) uploadImages(ctx context.Context, media []xpost.Media) ([]*bsky.EmbedImages_Image, error) {
	var images []*bsky.EmbedImages_Image
	for _, m := range media {
		if m.Kind != xpost.MediaImage {
			logutil.Debugf("[bluesky] skipping %s attachment %s", m.Kind, m.Path)
			continue
		}
		if len(images) == xpost.MaxAttachments {
			break
		}
		blob, err := c.uploadImage(ctx, m.Path)
		if err != nil {
			return nil, err
		}
		images = append(images, &bsky.EmbedImages_Image{
			Alt:   m.AltText,
			Image: blob,
		})
	}
	return images, nil
}

func (c *Client) uploadImage(ctx context.Context, path string) (*util.LexBlob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("image %q not found", path)}
		}
		return nil, fmt.Errorf("read image: %w", err)
	}

	resp, err := atproto.RepoUploadBlob(ctx, c.client, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}

	if resp.Blob == nil {
		return nil, fmt.Errorf("upload blob: empty response")
	}

	return resp.Blob, nil
}

// ProviderConfig merges defaults with environment-defined values.
type ProviderConfig struct {
	Handle      string
	AppPassword string
	PDSURL      string
}

func loadConfig(base Config) (ProviderConfig, error) {
	cfg := ProviderConfig{
		Handle:      strings.TrimSpace(os.Getenv(envHandle)),
		AppPassword: strings.TrimSpace(os.Getenv(envAppPassword)),
		PDSURL:      strings.TrimSpace(os.Getenv(envPDSURL)),
	}

	if cfg.PDSURL == "" {
		cfg.PDSURL = strings.TrimSpace(base.PDSURL)
	}
	if cfg.PDSURL == "" {
		cfg.PDSURL = DefaultPDSURL
	}

	var missing []string
	if cfg.Handle == "" {
		missing = append(missing, envHandle)
	}
	if cfg.AppPassword == "" {
		missing = append(missing, envAppPassword)
	}

	if len(missing) > 0 {
		return ProviderConfig{}, xpost.MissingEnvError{Provider: providerName, Variables: missing}
	}

	return cfg, nil
}
