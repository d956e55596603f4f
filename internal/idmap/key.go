package idmap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blacktop/xrelay/internal/xpost"
)

// Key addresses one cross-post: a source post and the network it was
// relayed to.
type Key struct {
	Source      xpost.PostRef
	Destination xpost.Network
}

// Entry is a single mapping from a Key to the destination-native post id.
type Entry struct {
	Key           Key
	DestinationID string
}

// String encodes the key as "<srcNetwork>:<len(srcID)>:<srcID>:<dstNetwork>".
// The length prefix keeps ids containing ':' or '-' unambiguous.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%s:%s", k.Source.Network, len(k.Source.ID), k.Source.ID, k.Destination)
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKey decodes the text form produced by Key.String.
func ParseKey(s string) (Key, error) {
	src, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("parse key %q: missing source network", s)
	}
	lenStr, rest, ok := strings.Cut(rest, ":")
	if !ok {
		return Key{}, fmt.Errorf("parse key %q: missing id length", s)
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil || n < 0 || n > len(rest) {
		return Key{}, fmt.Errorf("parse key %q: bad id length %q", s, lenStr)
	}
	id, rest := rest[:n], rest[n:]
	dst, ok := strings.CutPrefix(rest, ":")
	if !ok {
		return Key{}, fmt.Errorf("parse key %q: missing destination network", s)
	}

	key := Key{
		Source:      xpost.PostRef{Network: xpost.Network(src), ID: id},
		Destination: xpost.Network(dst),
	}
	if !key.Source.Valid() || !key.Destination.Valid() {
		return Key{}, fmt.Errorf("parse key %q: unknown network or empty id", s)
	}
	return key, nil
}
