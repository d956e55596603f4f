package idmap

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/blacktop/xrelay/internal/xpost"
)

// ImportLegacy reads the older cache format, a JSON array of
// ["<tweetId>-<service>", "<id>"] pairs, and returns Twitter-sourced
// entries. Keys are split at the last hyphen since service names have none.
func ImportLegacy(r io.Reader) ([]Entry, error) {
	var pairs [][2]string
	if err := json.NewDecoder(r).Decode(&pairs); err != nil {
		return nil, fmt.Errorf("decode legacy cache: %w", err)
	}

	entries := make([]Entry, 0, len(pairs))
	for _, p := range pairs {
		i := strings.LastIndex(p[0], "-")
		if i <= 0 || i == len(p[0])-1 {
			return nil, fmt.Errorf("legacy key %q: missing service suffix", p[0])
		}
		dst, err := xpost.ParseNetwork(p[0][i+1:])
		if err != nil {
			return nil, fmt.Errorf("legacy key %q: %w", p[0], err)
		}
		entries = append(entries, Entry{
			Key: Key{
				Source:      xpost.PostRef{Network: xpost.Twitter, ID: p[0][:i]},
				Destination: dst,
			},
			DestinationID: p[1],
		})
	}
	return entries, nil
}

// Merge upserts entries into the map.
func (m *Map) Merge(entries []Entry) {
	for _, e := range entries {
		m.Put(e.Key.Source, e.Key.Destination, e.DestinationID)
	}
}
