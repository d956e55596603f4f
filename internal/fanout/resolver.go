package fanout

import (
	"github.com/blacktop/xrelay/internal/xpost"
)

// Lookup is the read side of the identifier map.
type Lookup interface {
	Get(source xpost.PostRef, destination xpost.Network) (string, bool)
}

// Resolution is the reply parent to use at one destination.
type Resolution struct {
	ParentID  string
	Threading Threading
}

// Resolver maps a source post's reply parent onto each destination.
type Resolver struct {
	ids Lookup
}

// NewResolver returns a Resolver reading from ids.
func NewResolver(ids Lookup) *Resolver {
	return &Resolver{ids: ids}
}

// Parent returns the source-network parent id of post, preferring ReplyTo
// over ReplyToFallback.
func Parent(post *xpost.SourcePost) string {
	if post.ReplyTo != "" {
		return post.ReplyTo
	}
	return post.ReplyToFallback
}

// Resolve returns a Resolution for every destination. A parent that was never
// cross-posted to a destination leaves that destination unthreaded.
func (r *Resolver) Resolve(post *xpost.SourcePost, destinations []xpost.Network) map[xpost.Network]Resolution {
	out := make(map[xpost.Network]Resolution, len(destinations))
	parent := Parent(post)
	for _, dst := range destinations {
		if parent == "" {
			out[dst] = Resolution{Threading: ThreadingNone}
			continue
		}
		ref := xpost.PostRef{Network: post.Ref.Network, ID: parent}
		if id, ok := r.ids.Get(ref, dst); ok {
			out[dst] = Resolution{ParentID: id, Threading: ThreadingThreaded}
		} else {
			out[dst] = Resolution{Threading: ThreadingParentNotCrossPosted}
		}
	}
	return out
}
