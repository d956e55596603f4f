package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/michimani/gotwi/media/upload"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"

	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

const (
	metadataEndpoint = "https://upload.twitter.com/1.1/media/metadata/create.json"

	// segmentSize is the APPEND chunk size.
	segmentSize = 4 << 20
)

// uploadMedia runs the INIT/APPEND/FINALIZE flow for one staged file and
// sets its alt text.
func (c *Client) uploadMedia(ctx context.Context, m xpost.Media) (string, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("media %q not found", m.Path)}
		}
		return "", fmt.Errorf("read media: %w", err)
	}

	mediaType, category, err := mediaTypeOf(m, data)
	if err != nil {
		return "", err
	}

	initRes, err := upload.Initialize(ctx, c.api, &uploadtypes.InitializeInput{
		MediaType:     mediaType,
		TotalBytes:    len(data),
		MediaCategory: category,
	})
	if err != nil {
		return "", fmt.Errorf("initialize upload: %w", apiError(err))
	}
	if err := partialError(initRes.Errors); err != nil {
		return "", fmt.Errorf("initialize upload: %w", err)
	}
	mediaID := initRes.Data.MediaID
	logutil.Debugf("[twitter] upload started: media_id=%s type=%s bytes=%d", mediaID, mediaType, len(data))

	for segment := 0; segment*segmentSize < len(data); segment++ {
		chunk := data[segment*segmentSize : min((segment+1)*segmentSize, len(data))]
		in := &uploadtypes.AppendInput{
			MediaID:      mediaID,
			Media:        bytes.NewReader(chunk),
			SegmentIndex: segment,
		}
		in.GenerateBoundary()

		res, err := upload.Append(ctx, c.api, in)
		if err != nil {
			return "", fmt.Errorf("append segment %d: %w", segment, apiError(err))
		}
		if err := partialError(res.Errors); err != nil {
			return "", fmt.Errorf("append segment %d: %w", segment, err)
		}
	}

	finalRes, err := upload.Finalize(ctx, c.api, &uploadtypes.FinalizeInput{MediaID: mediaID})
	if err != nil {
		return "", fmt.Errorf("finalize upload: %w", apiError(err))
	}
	if err := partialError(finalRes.Errors); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	// one check_after_secs wait is enough for images and short clips
	switch info := finalRes.Data.ProcessingInfo; info.State {
	case "", resources.ProcessingInfoStateSucceeded:
	case resources.ProcessingInfoStateInProgress, resources.ProcessingInfoStatePending:
		if err := sleepCtx(ctx, time.Duration(info.CheckAfterSecs)*time.Second); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("media processing failed: state=%s", info.State)
	}

	if alt := strings.TrimSpace(m.AltText); alt != "" {
		if err := c.setAltText(ctx, mediaID, alt); err != nil {
			return "", err
		}
	}
	return mediaID, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// mediaTypeOf trusts the staged content type first and sniffs the bytes
// when staging could not tell.
func mediaTypeOf(m xpost.Media, data []byte) (uploadtypes.MediaType, uploadtypes.MediaCategory, error) {
	contentType := m.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	contentType, _, _ = strings.Cut(contentType, ";")

	switch strings.TrimSpace(contentType) {
	case "image/jpeg":
		return uploadtypes.MediaTypeJPEG, uploadtypes.MediaCategoryTweetImage, nil
	case "image/png":
		return uploadtypes.MediaTypePNG, uploadtypes.MediaCategoryTweetImage, nil
	case "image/webp":
		return uploadtypes.MediaTypeWebP, uploadtypes.MediaCategoryTweetImage, nil
	case "image/gif":
		return uploadtypes.MediaTypeGIF, uploadtypes.MediaCategoryTweetGIF, nil
	case "video/mp4":
		if m.Kind == xpost.MediaGIF {
			return uploadtypes.MediaTypeMP4, uploadtypes.MediaCategoryTweetGIF, nil
		}
		return uploadtypes.MediaTypeMP4, uploadtypes.MediaCategoryTweetVideo, nil
	}
	return "", "", xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("unsupported media type %q for %s", contentType, m.Path)}
}

func (c *Client) setAltText(ctx context.Context, mediaID, altText string) error {
	params := &metadataParameters{mediaID: mediaID, altText: altText}
	ctx = context.WithValue(ctx, "Content-Type", "application/json;charset=UTF-8")

	if err := c.api.CallAPI(ctx, metadataEndpoint, http.MethodPost, params, &metadataResponse{}); err != nil {
		return fmt.Errorf("set alt text: %w", apiError(err))
	}
	return nil
}

// metadataParameters implements gotwi's util.Parameters for the v1.1
// metadata endpoint, which gotwi has no typed wrapper for.
type metadataParameters struct {
	mediaID     string
	altText     string
	accessToken string
}

func (p *metadataParameters) SetAccessToken(token string) { p.accessToken = token }

func (p *metadataParameters) AccessToken() string { return p.accessToken }

func (p *metadataParameters) ResolveEndpoint(endpointBase string) string { return endpointBase }

func (p *metadataParameters) ParameterMap() map[string]string { return map[string]string{} }

func (p *metadataParameters) Body() (io.Reader, error) {
	type altText struct {
		Text string `json:"text"`
	}
	buf, err := json.Marshal(struct {
		MediaID string  `json:"media_id"`
		AltText altText `json:"alt_text"`
	}{p.mediaID, altText{p.altText}})
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}

type metadataResponse struct{}

func (metadataResponse) HasPartialError() bool { return false }
