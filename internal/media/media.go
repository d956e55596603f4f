// Package media stages remote attachments on local disk for the duration of
// one cross-post.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/zeebo/xxh3"

	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

// Downloader copies a remote attachment into dst and reports its content
// type when the server provides one.
type Downloader interface {
	Download(ctx context.Context, rawURL string, dst io.Writer) (string, error)
}

// Stager downloads attachments into request-scoped directories.
type Stager struct {
	dir        string
	downloader Downloader
}

// NewStager returns a Stager rooted at dir. A nil downloader uses HTTP.
func NewStager(dir string, downloader Downloader) *Stager {
	if downloader == nil {
		downloader = NewHTTPDownloader()
	}
	return &Stager{dir: dir, downloader: downloader}
}

// Stage downloads the first xpost.MaxAttachments attachments, in order. On
// error, anything already staged by this call is removed.
func (s *Stager) Stage(ctx context.Context, attachments []xpost.Attachment) ([]xpost.Media, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	if len(attachments) > xpost.MaxAttachments {
		logutil.Debugf("dropping %d attachments over the limit of %d", len(attachments)-xpost.MaxAttachments, xpost.MaxAttachments)
		attachments = attachments[:xpost.MaxAttachments]
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	reqDir, err := os.MkdirTemp(s.dir, "stage-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	staged := make([]xpost.Media, 0, len(attachments))
	for _, att := range attachments {
		m, err := s.fetch(ctx, reqDir, att)
		if err != nil {
			os.RemoveAll(reqDir)
			return nil, err
		}
		staged = append(staged, m)
	}
	return staged, nil
}

func (s *Stager) fetch(ctx context.Context, dir string, att xpost.Attachment) (xpost.Media, error) {
	dst := filepath.Join(dir, FileName(att.URL))
	logutil.Debugf("staging %s -> %s", att.URL, dst)

	f, err := os.Create(dst)
	if err != nil {
		return xpost.Media{}, fmt.Errorf("create %s: %w", dst, err)
	}
	contentType, err := s.downloader.Download(ctx, att.URL, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return xpost.Media{}, fmt.Errorf("download %s: %w", att.URL, err)
	}

	if contentType == "" || contentType == "application/octet-stream" {
		contentType, err = sniff(dst)
		if err != nil {
			return xpost.Media{}, err
		}
	}

	kind := att.Kind
	if kind == "" {
		kind = kindFromContentType(contentType)
	}

	return xpost.Media{
		Path:        dst,
		AltText:     att.AltText,
		Kind:        kind,
		ContentType: contentType,
	}, nil
}

// Cleanup removes staged files and their staging directories. It is safe to
// call with an empty slice.
func (s *Stager) Cleanup(media []xpost.Media) error {
	var errs []error
	dirs := map[string]struct{}{}
	for _, m := range media {
		if err := os.Remove(m.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		dirs[filepath.Dir(m.Path)] = struct{}{}
	}
	for dir := range dirs {
		if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FileName derives a stable local name from the attachment URL: the xxh3
// hash of the URL plus the extension of its path.
func FileName(rawURL string) string {
	ext := ""
	if u, err := url.Parse(rawURL); err == nil {
		ext = strings.ToLower(path.Ext(u.Path))
	}
	return fmt.Sprintf("%016x%s", xxh3.HashString(rawURL), ext)
}

func sniff(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	return http.DetectContentType(buf[:n]), nil
}

func kindFromContentType(contentType string) xpost.MediaKind {
	switch {
	case strings.HasPrefix(contentType, "image/gif"):
		return xpost.MediaGIF
	case strings.HasPrefix(contentType, "video/"):
		return xpost.MediaVideo
	default:
		return xpost.MediaImage
	}
}

// HTTPDownloader fetches attachments with retries on transient failures.
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTPDownloader returns a downloader backed by go-retryablehttp.
func NewHTTPDownloader() *HTTPDownloader {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = 2 * time.Minute
	return &HTTPDownloader{client: rc.StandardClient()}
}

// Download implements Downloader.
func (d *HTTPDownloader) Download(ctx context.Context, rawURL string, dst io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return "", fmt.Errorf("copy body: %w", err)
	}
	return resp.Header.Get("Content-Type"), nil
}
