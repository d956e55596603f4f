package fanout

import (
	"strings"

	"github.com/blacktop/xrelay/internal/xpost"
)

// Gate only lets the operator's own posts through.
type Gate struct {
	operator string
}

// NewGate returns a Gate for the given operator handle. An empty handle
// rejects every post.
func NewGate(operator string) *Gate {
	return &Gate{operator: normalizeHandle(operator)}
}

// Authorize returns an xpost.AuthorizationError unless post was written by
// the operator.
func (g *Gate) Authorize(post *xpost.SourcePost) error {
	author := normalizeHandle(post.Author)
	if g.operator == "" || author == "" || author != g.operator {
		return xpost.AuthorizationError{Author: post.Author, Operator: g.operator}
	}
	return nil
}

func normalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}
