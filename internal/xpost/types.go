package xpost

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Network identifies a social platform the relay reads from or writes to.
type Network string

const (
	Twitter  Network = "twitter"
	Mastodon Network = "mastodon"
	Bluesky  Network = "bluesky"
	Cohost   Network = "cohost"
)

// Networks lists every supported network in a stable order.
var Networks = []Network{Bluesky, Cohost, Mastodon, Twitter}

var networkAliases = map[string]Network{
	"twitter":  Twitter,
	"x":        Twitter,
	"mastodon": Mastodon,
	"bluesky":  Bluesky,
	"bsky":     Bluesky,
	"cohost":   Cohost,
}

func (n Network) String() string { return string(n) }

// Valid reports whether n is one of the supported networks.
func (n Network) Valid() bool {
	for _, known := range Networks {
		if n == known {
			return true
		}
	}
	return false
}

// ParseNetwork resolves a user supplied network name, accepting the short
// aliases used in query strings ("bsky", "x").
func ParseNetwork(raw string) (Network, error) {
	name := strings.TrimSpace(strings.ToLower(raw))
	if n, ok := networkAliases[name]; ok {
		return n, nil
	}
	return "", ValidationError{Provider: "xrelay", Reason: fmt.Sprintf("unsupported network %q", raw)}
}

// ParseNetworks parses a list of network names, dropping blanks and
// duplicates. "all" expands to every supported network.
func ParseNetworks(values []string) ([]Network, error) {
	return parseNetworks(values, "")
}

// ParseDestinations is ParseNetworks for relay targets of a post written on
// source: "all" expands to every network except source. Naming source
// explicitly is left for the relay to reject.
func ParseDestinations(values []string, source Network) ([]Network, error) {
	return parseNetworks(values, source)
}

func parseNetworks(values []string, exclude Network) ([]Network, error) {
	seen := map[Network]struct{}{}
	result := make([]Network, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(strings.ToLower(part))
			if part == "" {
				continue
			}
			if part == "all" {
				all := make([]Network, 0, len(Networks))
				for _, n := range Networks {
					if n != exclude {
						all = append(all, n)
					}
				}
				return all, nil
			}
			n, err := ParseNetwork(part)
			if err != nil {
				return nil, err
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			result = append(result, n)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

// PostRef identifies a post on a specific network. The ID is opaque.
type PostRef struct {
	Network Network
	ID      string
}

func (r PostRef) String() string { return fmt.Sprintf("%s:%s", r.Network, r.ID) }

// Valid reports whether the reference names a known network and an id.
func (r PostRef) Valid() bool {
	return r.Network.Valid() && strings.TrimSpace(r.ID) != ""
}

// MediaKind distinguishes attachment types that adapters treat differently.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaGIF   MediaKind = "gif"
)

// MaxAttachments is the number of attachments processed per post.
const MaxAttachments = 4

// Attachment references remote media on the source network.
type Attachment struct {
	URL     string
	AltText string
	Kind    MediaKind
}

// SourcePost is a post fetched from its origin network, ready to be relayed.
type SourcePost struct {
	Ref    PostRef
	Author string
	Text   string
	// URL is the public link to the original post.
	URL         string
	SpoilerText string
	// ReplyTo is the id of the parent post on the source network.
	ReplyTo string
	// ReplyToFallback is used only when ReplyTo is empty.
	ReplyToFallback string
	QuoteURL        string
	Attachments     []Attachment
}

// Media is an attachment staged on local disk.
type Media struct {
	Path        string
	AltText     string
	Kind        MediaKind
	ContentType string
}

// Request defines the message payload shared across all providers.
type Request struct {
	Message string
	// Link is appended to the message (quoted post URL).
	Link        string
	SpoilerText string
	// SourceURL points back at the original post for adapters that truncate.
	SourceURL string
	Source    Network
	Media     []Media
	// InReplyTo is the destination-native id of the parent post, if any.
	InReplyTo string
}

// Poster abstracts a social network that can publish content.
type Poster interface {
	Network() Network
	Post(ctx context.Context, req Request) (string, error)
}

// Fetcher loads posts from the network they were written on.
type Fetcher interface {
	Network() Network
	Fetch(ctx context.Context, id string) (*SourcePost, error)
}
