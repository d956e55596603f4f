// Package cohost posts to a Cohost page through the site's JSON API.
package cohost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

const (
	envCookie = "XRELAY_COHOST_COOKIE"
	envPage   = "XRELAY_COHOST_PAGE"
	envTag    = "XRELAY_COHOST_TAG"
	envURL    = "XRELAY_COHOST_URL"

	providerName   = "cohost"
	requestTimeout = 60 * time.Second

	// DefaultURL is the Cohost site root.
	DefaultURL = "https://cohost.org"

	postStateDraft     = 0
	postStatePublished = 1
)

// Config holds the session and page to post as.
type Config struct {
	// Cookie is the value of the connect.sid session cookie.
	Cookie string
	Page   string
	Tag    string
	URL    string
}

// Client implements xpost.Poster for Cohost.
type Client struct {
	cfg    Config
	client *http.Client
}

// New constructs a Cohost poster from the environment.
func New(ctx context.Context) (*Client, error) {
	cfg, err := loadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, nil), nil
}

// NewWithConfig constructs a poster from explicit settings. A nil client
// uses a default one with a timeout.
func NewWithConfig(cfg Config, httpClient *http.Client) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{cfg: cfg, client: httpClient}
}

// Network identifies the provider.
func (c *Client) Network() xpost.Network { return xpost.Cohost }

type block struct {
	Type       string          `json:"type"`
	Markdown   *markdownBlock  `json:"markdown,omitempty"`
	Attachment json.RawMessage `json:"attachment,omitempty"`
}

type markdownBlock struct {
	Content string `json:"content"`
}

type post struct {
	PostState     int      `json:"postState"`
	Headline      string   `json:"headline"`
	AdultContent  bool     `json:"adultContent"`
	Blocks        []block  `json:"blocks"`
	CWs           []string `json:"cws"`
	Tags          []string `json:"tags"`
	ShareOfPostID *int64   `json:"shareOfPostId,omitempty"`
}

// Post creates a draft, attaches media to it and publishes it. The returned
// id is the numeric post id.
func (c *Client) Post(ctx context.Context, req xpost.Request) (string, error) {
	p := post{
		PostState: postStateDraft,
		Blocks:    []block{{Type: "markdown", Markdown: &markdownBlock{Content: composeMarkdown(req)}}},
		CWs:       contentWarnings(req.SpoilerText),
		Tags:      []string{},
	}
	if c.cfg.Tag != "" {
		p.Tags = append(p.Tags, c.cfg.Tag)
	}
	if req.InReplyTo != "" {
		id, err := strconv.ParseInt(req.InReplyTo, 10, 64)
		if err != nil {
			return "", xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("share target %q is not a post id", req.InReplyTo)}
		}
		p.ShareOfPostID = &id
	}

	var created struct {
		PostID int64 `json:"postId"`
	}
	if err := c.do(ctx, http.MethodPost, c.projectPath("posts"), p, &created); err != nil {
		return "", fmt.Errorf("create draft: %w", err)
	}
	postID := strconv.FormatInt(created.PostID, 10)
	logutil.Debugf("[cohost] draft created: id=%s", postID)

	for i, m := range req.Media {
		if i == xpost.MaxAttachments {
			break
		}
		attachment, err := c.attach(ctx, postID, m)
		if err != nil {
			return "", err
		}
		p.Blocks = append(p.Blocks, block{Type: "attachment", Attachment: attachment})
	}

	p.PostState = postStatePublished
	if err := c.do(ctx, http.MethodPut, c.projectPath("posts", postID), p, nil); err != nil {
		return "", fmt.Errorf("publish post %s: %w", postID, err)
	}

	return postID, nil
}

// attach runs the start/upload/finish flow and returns the attachment block
// body with the alt text set.
func (c *Client) attach(ctx context.Context, postID string, m xpost.Media) (json.RawMessage, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("media %q not found", m.Path)}
		}
		return nil, fmt.Errorf("read media: %w", err)
	}
	contentType := m.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	filename := filepath.Base(m.Path)

	var start struct {
		AttachmentID   string            `json:"attachment_id"`
		URL            string            `json:"url"`
		RequiredFields map[string]string `json:"required_fields"`
	}
	err = c.do(ctx, http.MethodPost, c.projectPath("posts", postID, "attach", "start"), map[string]any{
		"filename":       filename,
		"content_type":   contentType,
		"content_length": len(data),
	}, &start)
	if err != nil {
		return nil, fmt.Errorf("attach start: %w", err)
	}

	if err := c.upload(ctx, start.URL, start.RequiredFields, filename, contentType, data); err != nil {
		return nil, fmt.Errorf("attach upload: %w", err)
	}

	var finished map[string]any
	if err := c.do(ctx, http.MethodPost, c.projectPath("posts", postID, "attach", "finish", start.AttachmentID), nil, &finished); err != nil {
		return nil, fmt.Errorf("attach finish: %w", err)
	}
	if finished == nil {
		finished = map[string]any{}
	}
	finished["attachmentId"] = start.AttachmentID
	finished["altText"] = m.AltText
	logutil.Debugf("[cohost] attached %s: id=%s", filename, start.AttachmentID)

	return json.Marshal(finished)
}

func (c *Client) upload(ctx context.Context, target string, fields map[string]string, filename, contentType string, data []byte) error {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) projectPath(parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, url.PathEscape(c.cfg.Page))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return "/api/v1/project/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.AddCookie(&http.Cookie{Name: "connect.sid", Value: c.cfg.Cookie})

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// composeMarkdown turns plain text into a markdown block body. Single
// newlines would be folded by the renderer, so they become explicit breaks.
func composeMarkdown(req xpost.Request) string {
	text := req.Message
	if req.Link != "" {
		text = strings.TrimSpace(text + "\n\n" + req.Link)
	}
	return strings.ReplaceAll(text, "\n", "<br />")
}

func contentWarnings(spoiler string) []string {
	cws := []string{}
	for _, cw := range strings.Split(spoiler, ",") {
		if cw = strings.TrimSpace(cw); cw != "" {
			cws = append(cws, cw)
		}
	}
	return cws
}

func loadConfigFromEnv() (Config, error) {
	cfg := Config{
		Cookie: strings.TrimSpace(os.Getenv(envCookie)),
		Page:   strings.TrimSpace(os.Getenv(envPage)),
		Tag:    strings.TrimSpace(os.Getenv(envTag)),
		URL:    strings.TrimSpace(os.Getenv(envURL)),
	}

	var missing []string
	if cfg.Cookie == "" {
		missing = append(missing, envCookie)
	}
	if cfg.Page == "" {
		missing = append(missing, envPage)
	}

	if len(missing) > 0 {
		return Config{}, xpost.MissingEnvError{Provider: providerName, Variables: missing}
	}

	return cfg, nil
}
