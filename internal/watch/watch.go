// Package watch follows the operator's Mastodon timeline and relays new
// statuses as they are published.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattn/go-mastodon"

	"github.com/blacktop/xrelay/internal/fanout"
	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

const (
	streamPath     = "/api/v1/streaming"
	reconnectDelay = 5 * time.Second
)

// CrossPoster runs one cross-post request.
type CrossPoster interface {
	CrossPost(ctx context.Context, src xpost.PostRef, destinations []xpost.Network) fanout.Result
}

// Origins reports whether a post was itself created by the relay.
type Origins interface {
	Origin(destination xpost.PostRef) (xpost.PostRef, bool)
}

type Config struct {
	Server       string
	AccessToken  string
	Operator     string
	Destinations []xpost.Network
	// ReconnectDelay defaults to five seconds.
	ReconnectDelay time.Duration
}

// Watcher subscribes to the user stream. Events are handled one at a time
// so a reply is never relayed before its parent.
type Watcher struct {
	cfg     Config
	relay   CrossPoster
	origins Origins
	dialer  *websocket.Dialer
}

func New(cfg Config, relay CrossPoster, origins Origins) *Watcher {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = reconnectDelay
	}
	cfg.Operator = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.Operator), "@"))
	return &Watcher{cfg: cfg, relay: relay, origins: origins, dialer: websocket.DefaultDialer}
}

// Start processes events until ctx is cancelled, reconnecting after errors.
func (w *Watcher) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := w.subscribe(ctx); err != nil && ctx.Err() == nil {
			logutil.Errorf("stream connection error, reconnecting in %s: %v", w.cfg.ReconnectDelay, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.ReconnectDelay):
		}
	}
}

func (w *Watcher) streamURL() (string, error) {
	u, err := url.Parse(w.cfg.Server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + streamPath
	q := u.Query()
	q.Set("stream", "user")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (w *Watcher) subscribe(ctx context.Context) error {
	wsURL, err := w.streamURL()
	if err != nil {
		return err
	}
	header := http.Header{}
	if w.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+w.cfg.AccessToken)
	}

	conn, _, err := w.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()
	logutil.Infof("watching %s", wsURL)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		status, err := parseUpdate(message)
		if err != nil {
			logutil.Warnf("skipping stream message: %v", err)
			continue
		}
		if status != nil {
			w.handle(ctx, status)
		}
	}
}

type event struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

// parseUpdate returns the status carried by an update event, or nil for any
// other event type.
func parseUpdate(message []byte) (*mastodon.Status, error) {
	var ev event
	if err := json.Unmarshal(message, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if ev.Event != "update" {
		return nil, nil
	}
	var status mastodon.Status
	if err := json.Unmarshal([]byte(ev.Payload), &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

func (w *Watcher) handle(ctx context.Context, status *mastodon.Status) {
	ref := xpost.PostRef{Network: xpost.Mastodon, ID: string(status.ID)}

	switch {
	case status.Reblog != nil:
		logutil.Debugf("%s: reblog, skipping", ref)
		return
	case strings.ToLower(status.Account.Username) != w.cfg.Operator:
		logutil.Debugf("%s: authored by %q, skipping", ref, status.Account.Username)
		return
	}
	if origin, ok := w.origins.Origin(ref); ok {
		logutil.Debugf("%s: cross-post of %s, skipping", ref, origin)
		return
	}

	result := w.relay.CrossPost(ctx, ref, w.cfg.Destinations)
	if !result.Accepted() {
		logutil.Warnf("%s: not relayed (%s): %v", ref, result.State, result.Err)
		return
	}
	if failed := result.Failed(); len(failed) > 0 {
		logutil.Warnf("%s: relayed with failures: %v", ref, failed)
		return
	}
	logutil.Infof("%s: relayed to %v", ref, w.cfg.Destinations)
}
