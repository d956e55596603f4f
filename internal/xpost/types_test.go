package xpost

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseNetwork(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Network
	}{
		{"twitter", Twitter},
		{"X", Twitter},
		{" Mastodon ", Mastodon},
		{"bsky", Bluesky},
		{"bluesky", Bluesky},
		{"cohost", Cohost},
	}
	for _, tt := range tests {
		got, err := ParseNetwork(tt.in)
		if err != nil {
			t.Fatalf("ParseNetwork(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseNetwork(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseNetworkUnknown(t *testing.T) {
	t.Parallel()
	_, err := ParseNetwork("myspace")
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestParseNetworksDedupesAndSplits(t *testing.T) {
	t.Parallel()
	got, err := ParseNetworks([]string{"mastodon,bsky", "bluesky", "", "cohost"})
	if err != nil {
		t.Fatalf("ParseNetworks: %v", err)
	}
	want := []Network{Bluesky, Cohost, Mastodon}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseNetworksAll(t *testing.T) {
	t.Parallel()
	got, err := ParseNetworks([]string{"all"})
	if err != nil {
		t.Fatalf("ParseNetworks: %v", err)
	}
	if len(got) != len(Networks) {
		t.Errorf("all should expand to %d networks, got %v", len(Networks), got)
	}
}

func TestParseDestinationsAllSkipsSource(t *testing.T) {
	t.Parallel()
	tests := []struct {
		values []string
		source Network
		want   []Network
	}{
		{[]string{"all"}, Twitter, []Network{Bluesky, Cohost, Mastodon}},
		{[]string{"all"}, Mastodon, []Network{Bluesky, Cohost, Twitter}},
		{[]string{"bsky,all"}, Twitter, []Network{Bluesky, Cohost, Mastodon}},
		{[]string{"twitter,bsky"}, Twitter, []Network{Bluesky, Twitter}},
	}
	for _, tt := range tests {
		got, err := ParseDestinations(tt.values, tt.source)
		if err != nil {
			t.Fatalf("ParseDestinations(%v, %s): %v", tt.values, tt.source, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseDestinations(%v, %s) = %v, want %v", tt.values, tt.source, got, tt.want)
		}
	}
}

func TestPostRefValid(t *testing.T) {
	t.Parallel()
	if !(PostRef{Network: Twitter, ID: "123"}).Valid() {
		t.Error("twitter:123 should be valid")
	}
	if (PostRef{Network: Twitter, ID: "  "}).Valid() {
		t.Error("blank id should be invalid")
	}
	if (PostRef{Network: "friendster", ID: "1"}).Valid() {
		t.Error("unknown network should be invalid")
	}
}
