// Package server exposes the relay over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/blacktop/xrelay/internal/fanout"
	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

const serviceName = "xrelay"

// CrossPoster runs one cross-post request.
type CrossPoster interface {
	CrossPost(ctx context.Context, src xpost.PostRef, destinations []xpost.Network) fanout.Result
}

// Mappings answers which cross-posts exist for a source post.
type Mappings interface {
	Destinations(source xpost.PostRef) map[xpost.Network]string
}

// Handler serves the relay's HTTP routes.
type Handler struct {
	relay    CrossPoster
	mappings Mappings
	secret   string
}

// NewHandler returns a Handler. An empty secret rejects every request.
func NewHandler(relay CrossPoster, mappings Mappings, secret string) *Handler {
	return &Handler{relay: relay, mappings: mappings, secret: secret}
}

// New builds the echo instance with middleware and routes registered.
func New(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())
	e.Use(otelecho.Middleware(serviceName))
	e.Use(h.requireSecret)
	h.RegisterRoutes(e)
	return e
}

// RegisterRoutes mounts the relay routes on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.handleRoot)
	e.GET("/fromTwitter", h.handleFromTwitter)
	e.GET("/fromMastodon", h.handleFromMastodon)
	e.GET("/mappings", h.handleMappings)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		logutil.Infof("listening on %s", addr)
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// requireSecret rejects every request whose ?secret= does not match. An
// unset secret rejects everything.
func (h *Handler) requireSecret(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		got := c.QueryParam("secret")
		if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			return c.NoContent(http.StatusForbidden)
		}
		return next(c)
	}
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				logutil.Warnf("%s %s -> %d (%s): %v", v.Method, v.URIPath, v.Status, v.Latency, v.Error)
				return nil
			}
			logutil.Infof("%s %s -> %d (%s)", v.Method, v.URIPath, v.Status, v.Latency)
			return nil
		},
	})
}

func (h *Handler) handleRoot(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (h *Handler) handleFromTwitter(c echo.Context) error {
	u, destinations, err := parseQuery(c, xpost.Twitter)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	id := path.Base(strings.TrimRight(u.Path, "/"))
	if id == "" || id == "." || id == "/" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "url has no status id"})
	}
	return h.crossPost(c, xpost.PostRef{Network: xpost.Twitter, ID: id}, destinations)
}

// handleFromMastodon passes the whole status URL on; the fetcher resolves
// it through the operator's own server.
func (h *Handler) handleFromMastodon(c echo.Context) error {
	u, destinations, err := parseQuery(c, xpost.Mastodon)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return h.crossPost(c, xpost.PostRef{Network: xpost.Mastodon, ID: u.String()}, destinations)
}

func (h *Handler) handleMappings(c echo.Context) error {
	network, err := xpost.ParseNetwork(c.QueryParam("network"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	ref := xpost.PostRef{Network: network, ID: strings.TrimSpace(c.QueryParam("id"))}
	if !ref.Valid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "id is required"})
	}

	found := h.mappings.Destinations(ref)
	if len(found) == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no cross-posts recorded"})
	}
	return c.JSON(http.StatusOK, echo.Map{"source": ref.String(), "destinations": found})
}

// crossPost runs the relay detached from the client connection: a caller
// that hangs up must not abort publishes already in flight.
func (h *Handler) crossPost(c echo.Context, src xpost.PostRef, destinations []xpost.Network) error {
	result := h.relay.CrossPost(context.WithoutCancel(c.Request().Context()), src, destinations)
	return c.JSON(StatusCode(result.State), result)
}

// StatusCode maps a terminal request state to an HTTP status.
func StatusCode(state fanout.State) int {
	switch state {
	case fanout.StateDone:
		return http.StatusOK
	case fanout.StateRejectedValidation:
		return http.StatusBadRequest
	case fanout.StateRejectedAuthorization:
		return http.StatusForbidden
	case fanout.StateUpstreamFetchFailed:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func parseQuery(c echo.Context, source xpost.Network) (*url.URL, []xpost.Network, error) {
	raw := strings.Trim(strings.TrimSpace(c.QueryParam("url")), `"`)
	if raw == "" {
		return nil, nil, errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, nil, errors.New("url is not absolute")
	}
	destinations, err := xpost.ParseDestinations([]string{c.QueryParam("services")}, source)
	if err != nil {
		return nil, nil, err
	}
	if len(destinations) == 0 {
		return nil, nil, errors.New("no services selected, pass services=mastodon,bsky,cohost")
	}
	return u, destinations, nil
}
