package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blacktop/xrelay/internal/fanout"
	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

func TestMain(m *testing.M) {
	logutil.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestSourceRef(t *testing.T) {
	tests := []struct {
		arg, from string
		want      xpost.PostRef
		wantErr   bool
	}{
		{arg: "https://twitter.com/operator/status/123", want: xpost.PostRef{Network: xpost.Twitter, ID: "123"}},
		{arg: `"https://x.com/operator/status/456/"`, want: xpost.PostRef{Network: xpost.Twitter, ID: "456"}},
		{arg: "https://mastodon.example/@operator/110", want: xpost.PostRef{Network: xpost.Mastodon, ID: "https://mastodon.example/@operator/110"}},
		{arg: "110", from: "mastodon", want: xpost.PostRef{Network: xpost.Mastodon, ID: "110"}},
		{arg: "123", from: "x", want: xpost.PostRef{Network: xpost.Twitter, ID: "123"}},
		{arg: "123", wantErr: true},
		{arg: "123", from: "bsky", wantErr: true},
		{arg: "", from: "twitter", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.arg+"/"+tt.from, func(t *testing.T) {
			got, err := sourceRef(tt.arg, tt.from)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func clearCredentials(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"XRELAY_MASTODON_SERVER", "XRELAY_MASTODON_ACCESS_TOKEN",
		"XRELAY_BLUESKY_HANDLE", "XRELAY_BLUESKY_APP_PASSWORD",
		"XRELAY_TWITTER_CONSUMER_KEY", "XRELAY_TWITTER_CONSUMER_SECRET",
		"XRELAY_TWITTER_ACCESS_TOKEN", "XRELAY_TWITTER_ACCESS_TOKEN_SECRET",
		"XRELAY_COHOST_COOKIE", "XRELAY_COHOST_PAGE",
	} {
		t.Setenv(k, "")
	}
}

func TestBuildPostersMissingCredentials(t *testing.T) {
	clearCredentials(t)
	ctx := context.Background()

	_, err := buildPosters(ctx, []xpost.Network{xpost.Cohost, xpost.Mastodon}, true)
	var missing xpost.MissingEnvError
	if !errors.As(err, &missing) {
		t.Fatalf("strict: err = %v", err)
	}
	if !strings.Contains(err.Error(), "cohost") || !strings.Contains(err.Error(), "mastodon") {
		t.Errorf("both failures should be reported: %v", err)
	}

	if _, err := buildPosters(ctx, []xpost.Network{xpost.Cohost}, false); err == nil || errors.As(err, &missing) {
		t.Errorf("lenient: err = %v", err)
	}

	t.Setenv("XRELAY_COHOST_COOKIE", "sid")
	t.Setenv("XRELAY_COHOST_PAGE", "page")
	posters, err := buildPosters(ctx, []xpost.Network{xpost.Cohost, xpost.Mastodon}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(posters) != 1 || posters[0].Network() != xpost.Cohost {
		t.Errorf("posters = %v", posters)
	}
}

func TestBuildFetchersWithoutMastodon(t *testing.T) {
	clearCredentials(t)
	fetchers := buildFetchers()
	if len(fetchers) != 1 || fetchers[0].Network() != xpost.Twitter {
		t.Errorf("fetchers = %v", fetchers)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestMappingsImportAndGet(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XRELAY_STORE", "")

	legacy := filepath.Join(dir, "old.json")
	if err := os.WriteFile(legacy, []byte(`[["123-mastodon","m1"],["123-bsky","at://b1"]]`), 0o600); err != nil {
		t.Fatal(err)
	}
	store := "file://" + filepath.Join(dir, "ids.json")

	out, err := run(t, "--store", store, "mappings", "import-legacy", legacy)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "imported 2 mapping(s)") {
		t.Errorf("import output = %q", out)
	}

	out, err = run(t, "--store", store, "mappings", "get", "twitter", "123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out != "bluesky\tat://b1\nmastodon\tm1\n" {
		t.Errorf("get output = %q", out)
	}

	if _, err := run(t, "--store", store, "mappings", "get", "twitter", "999"); err == nil {
		t.Error("unknown source should fail")
	}

	out, err = run(t, "--store", store, "mappings", "list")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(out, "\n") != 2 {
		t.Errorf("list output = %q", out)
	}
}

func TestPrintResultPlain(t *testing.T) {
	var buf bytes.Buffer
	result := fanout.Result{
		Source: xpost.PostRef{Network: xpost.Twitter, ID: "1"},
		State:  fanout.StateDone,
		Outcomes: map[xpost.Network]fanout.Outcome{
			xpost.Mastodon: fanout.Succeeded("m1", fanout.ThreadingThreaded),
			xpost.Bluesky:  fanout.Failed(errors.New("boom"), fanout.ThreadingNone),
			xpost.Cohost:   fanout.Skipped(fanout.ReasonNotRequested),
		},
	}
	if err := printResult(&buf, result, false); err != nil {
		t.Fatal(err)
	}
	want := "twitter:1: done\n" +
		"bluesky\tfailed\tboom\tnone\n" +
		"cohost\tskipped\tnot requested\tnone\n" +
		"mastodon\tsucceeded\tm1\tthreaded\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}
