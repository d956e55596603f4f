package idmap

import (
	"encoding/json"
	"fmt"

	"github.com/blacktop/xrelay/internal/logutil"
)

// encodeEntries serializes entries as an ordered JSON array of
// [compositeKey, destinationID] pairs.
func encodeEntries(entries []Entry) ([]byte, error) {
	pairs := make([][2]string, 0, len(entries))
	for _, e := range entries {
		pairs = append(pairs, [2]string{e.Key.String(), e.DestinationID})
	}
	return json.Marshal(pairs)
}

// decodeEntries skips pairs whose key no longer parses, such as entries for
// a network that was removed, so the rest of the snapshot survives.
func decodeEntries(data []byte) ([]Entry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var pairs [][2]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	entries := make([]Entry, 0, len(pairs))
	for _, p := range pairs {
		key, err := ParseKey(p[0])
		if err != nil {
			logutil.Warnf("skipping unreadable mapping %q: %v", p[0], err)
			continue
		}
		entries = append(entries, Entry{Key: key, DestinationID: p[1]})
	}
	return entries, nil
}
