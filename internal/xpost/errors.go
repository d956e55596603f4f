package xpost

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoPoster is returned for a destination that has no configured poster.
var ErrNoPoster = errors.New("no poster configured")

// MissingEnvError is returned when required configuration is missing.
type MissingEnvError struct {
	Provider  string
	Variables []string
}

func (e MissingEnvError) Error() string {
	if len(e.Variables) == 0 {
		return fmt.Sprintf("%s credentials not configured", e.Provider)
	}
	return fmt.Sprintf("%s credentials not configured (missing %s)", e.Provider, strings.Join(e.Variables, ", "))
}

// ValidationError captures provider-specific validation issues.
type ValidationError struct {
	Provider string
	Reason   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Provider, e.Reason)
}

// AuthorizationError is returned when a post is not authored by the operator.
type AuthorizationError struct {
	Author   string
	Operator string
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("post by %q cannot be relayed for operator %q", e.Author, e.Operator)
}

// NotFoundError is returned by fetchers when the origin network has no such post.
type NotFoundError struct {
	Ref PostRef
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s post %q not found", e.Ref.Network, e.Ref.ID)
}
