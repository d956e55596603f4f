// Package fanout relays one source post to many networks at once.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

var tracer = otel.Tracer("fanout")

// Store is the part of the identifier map the orchestrator needs.
type Store interface {
	Lookup
	Put(source xpost.PostRef, destination xpost.Network, id string)
	Persist(ctx context.Context) error
}

// Stager downloads attachments before publishing and removes them after.
type Stager interface {
	Stage(ctx context.Context, attachments []xpost.Attachment) ([]xpost.Media, error)
	Cleanup(media []xpost.Media) error
}

// Request is one source post and the networks it should be relayed to.
type Request struct {
	Post         *xpost.SourcePost
	Destinations []xpost.Network
}

// Options configures an Orchestrator.
type Options struct {
	Posters  []xpost.Poster
	Fetchers []xpost.Fetcher
	Store    Store
	Stager   Stager
	Operator string
	// PublishTimeout bounds each destination's publish. Zero means no limit.
	PublishTimeout time.Duration
}

// Orchestrator validates, authorizes and publishes cross-posts.
type Orchestrator struct {
	posters        map[xpost.Network]xpost.Poster
	fetchers       map[xpost.Network]xpost.Fetcher
	store          Store
	stager         Stager
	gate           *Gate
	resolver       *Resolver
	publishTimeout time.Duration
}

// New returns an Orchestrator. Store and Stager are required.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		posters:        make(map[xpost.Network]xpost.Poster, len(opts.Posters)),
		fetchers:       make(map[xpost.Network]xpost.Fetcher, len(opts.Fetchers)),
		store:          opts.Store,
		stager:         opts.Stager,
		gate:           NewGate(opts.Operator),
		resolver:       NewResolver(opts.Store),
		publishTimeout: opts.PublishTimeout,
	}
	for _, p := range opts.Posters {
		o.posters[p.Network()] = p
	}
	for _, f := range opts.Fetchers {
		o.fetchers[f.Network()] = f
	}
	return o
}

// Destinations returns the networks that have a configured poster.
func (o *Orchestrator) Destinations() []xpost.Network {
	var out []xpost.Network
	for _, n := range xpost.Networks {
		if _, ok := o.posters[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// CrossPost fetches the post identified by src from its origin network and
// relays it to destinations.
func (o *Orchestrator) CrossPost(ctx context.Context, src xpost.PostRef, destinations []xpost.Network) Result {
	ctx, span := tracer.Start(ctx, "Fanout.CrossPost")
	defer span.End()
	span.SetAttributes(attribute.String("source", src.String()))

	state := StateReceived
	if err := validate(src, destinations); err != nil {
		span.RecordError(err)
		return Result{Source: src, State: transition(src, state, StateRejectedValidation), Err: err}
	}

	fetcher, ok := o.fetchers[src.Network]
	if !ok {
		err := xpost.ValidationError{Provider: "xrelay", Reason: fmt.Sprintf("cannot read posts from %s", src.Network)}
		span.RecordError(err)
		return Result{Source: src, State: transition(src, state, StateRejectedValidation), Err: err}
	}

	post, err := fetcher.Fetch(ctx, src.ID)
	if err == nil && post == nil {
		err = xpost.NotFoundError{Ref: src}
	}
	if err != nil {
		logutil.Errorf("fetch %s: %v", src, err)
		span.RecordError(pkgerrors.Wrap(err, "Fanout.CrossPost: fetcher.Fetch failed"))
		span.SetStatus(codes.Error, "upstream fetch failed")
		return Result{Source: src, State: transition(src, state, StateUpstreamFetchFailed), Err: err}
	}
	if post.Ref.ID == "" {
		post.Ref = src
	}

	return o.Execute(ctx, Request{Post: post, Destinations: destinations})
}

// Execute relays an already fetched post. Destination failures never abort
// the request; they are reported per destination in the Result.
func (o *Orchestrator) Execute(ctx context.Context, req Request) Result {
	ctx, span := tracer.Start(ctx, "Fanout.Execute")
	defer span.End()

	if req.Post == nil {
		err := xpost.ValidationError{Provider: "xrelay", Reason: "no source post"}
		return Result{State: StateRejectedValidation, Err: err}
	}
	post := req.Post
	src := post.Ref
	state := StateReceived

	if err := validate(src, req.Destinations); err != nil {
		span.RecordError(err)
		return Result{Source: src, State: transition(src, state, StateRejectedValidation), Err: err}
	}
	destinations := dedupe(req.Destinations)
	state = transition(src, state, StateValidated)

	if err := o.gate.Authorize(post); err != nil {
		logutil.Warnf("refusing to relay %s: %v", src, err)
		span.RecordError(err)
		return Result{Source: src, State: transition(src, state, StateRejectedAuthorization), Err: err}
	}
	state = transition(src, state, StateAuthorized)

	state = transition(src, state, StateResolvingParents)
	parents := o.resolver.Resolve(post, destinations)

	state = transition(src, state, StateStaging)
	staged, err := o.stager.Stage(ctx, post.Attachments)
	if err != nil {
		logutil.Errorf("stage media for %s: %v", src, err)
		span.RecordError(pkgerrors.Wrap(err, "Fanout.Execute: stager.Stage failed"))
		return Result{Source: src, State: transition(src, state, StateUpstreamFetchFailed), Err: err}
	}

	state = transition(src, state, StatePublishing)
	outcomes := o.publishAll(ctx, post, destinations, parents, staged)

	state = transition(src, state, StateRecording)
	for _, dst := range destinations {
		if out := outcomes[dst]; out.Status == StatusFailed {
			logutil.Errorf("%s -> %s: %v", src, dst, out.Err)
		} else {
			logutil.Infof("%s -> %s: %s", src, dst, out.DestinationID)
		}
	}

	state = transition(src, state, StateCleaningUp)
	if err := o.stager.Cleanup(staged); err != nil {
		logutil.Warnf("cleanup staged media for %s: %v", src, err)
	}
	if err := o.store.Persist(ctx); err != nil {
		logutil.Warnf("persist identifier map: %v", err)
	}

	for _, n := range xpost.Networks {
		if n == src.Network {
			continue
		}
		if _, ok := outcomes[n]; !ok {
			outcomes[n] = Skipped(ReasonNotRequested)
		}
	}

	return Result{Source: src, State: transition(src, state, StateDone), Outcomes: outcomes}
}

func (o *Orchestrator) publishAll(ctx context.Context, post *xpost.SourcePost, destinations []xpost.Network, parents map[xpost.Network]Resolution, staged []xpost.Media) map[xpost.Network]Outcome {
	var (
		mu       sync.Mutex
		g        errgroup.Group
		outcomes = make(map[xpost.Network]Outcome, len(xpost.Networks))
	)
	for _, dst := range destinations {
		g.Go(func() error {
			out := o.publish(ctx, post, dst, parents[dst], staged)
			mu.Lock()
			outcomes[dst] = out
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return outcomes
}

func (o *Orchestrator) publish(ctx context.Context, post *xpost.SourcePost, dst xpost.Network, parent Resolution, staged []xpost.Media) (out Outcome) {
	ctx, span := tracer.Start(ctx, "Fanout.Publish")
	defer span.End()
	span.SetAttributes(attribute.String("destination", string(dst)))

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s poster panicked: %v", dst, r)
			span.RecordError(err)
			out = Failed(err, parent.Threading)
		}
	}()

	poster, ok := o.posters[dst]
	if !ok {
		return Failed(fmt.Errorf("%s: %w", dst, xpost.ErrNoPoster), parent.Threading)
	}

	if o.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.publishTimeout)
		defer cancel()
	}

	id, err := poster.Post(ctx, xpost.Request{
		Message:     post.Text,
		Link:        post.QuoteURL,
		SpoilerText: post.SpoilerText,
		SourceURL:   post.URL,
		Source:      post.Ref.Network,
		Media:       staged,
		InReplyTo:   parent.ParentID,
	})
	if err == nil && id == "" {
		err = errors.New("poster returned no post id")
	}
	if err != nil {
		span.RecordError(pkgerrors.Wrap(err, "Fanout.Publish: poster.Post failed"))
		span.SetStatus(codes.Error, "publish failed")
		return Failed(err, parent.Threading)
	}

	o.store.Put(post.Ref, dst, id)
	return Succeeded(id, parent.Threading)
}

func validate(src xpost.PostRef, destinations []xpost.Network) error {
	if !src.Valid() {
		return xpost.ValidationError{Provider: "xrelay", Reason: fmt.Sprintf("invalid source post %q", src)}
	}
	if len(destinations) == 0 {
		return xpost.ValidationError{Provider: "xrelay", Reason: "no destinations requested"}
	}
	for _, dst := range destinations {
		if !dst.Valid() {
			return xpost.ValidationError{Provider: "xrelay", Reason: fmt.Sprintf("unsupported destination %q", dst)}
		}
		if dst == src.Network {
			return xpost.ValidationError{Provider: "xrelay", Reason: fmt.Sprintf("cannot relay a %s post to %s", src.Network, dst)}
		}
	}
	return nil
}

func dedupe(networks []xpost.Network) []xpost.Network {
	seen := make(map[xpost.Network]struct{}, len(networks))
	out := make([]xpost.Network, 0, len(networks))
	for _, n := range networks {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
