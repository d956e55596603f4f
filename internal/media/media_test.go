package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

func TestMain(m *testing.M) {
	logutil.SetOutput(io.Discard)
	os.Exit(m.Run())
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeDownloader struct {
	failOn string
	calls  []string
}

func (f *fakeDownloader) Download(ctx context.Context, rawURL string, dst io.Writer) (string, error) {
	f.calls = append(f.calls, rawURL)
	if rawURL == f.failOn {
		return "", errors.New("connection reset")
	}
	_, err := dst.Write(pngHeader)
	return "", err
}

func attachments(n int) []xpost.Attachment {
	out := make([]xpost.Attachment, n)
	for i := range out {
		out[i] = xpost.Attachment{URL: fmt.Sprintf("https://pbs.example.com/media/%d.png", i), AltText: fmt.Sprintf("alt %d", i)}
	}
	return out
}

func TestStageCapsAtFourAndKeepsOrder(t *testing.T) {
	t.Parallel()
	dl := &fakeDownloader{}
	s := NewStager(t.TempDir(), dl)

	staged, err := s.Stage(context.Background(), attachments(6))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if len(staged) != xpost.MaxAttachments {
		t.Fatalf("staged %d attachments, want %d", len(staged), xpost.MaxAttachments)
	}
	if len(dl.calls) != xpost.MaxAttachments {
		t.Errorf("extra attachments should not be downloaded, calls=%d", len(dl.calls))
	}
	for i, m := range staged {
		if m.AltText != fmt.Sprintf("alt %d", i) {
			t.Errorf("position %d has alt %q", i, m.AltText)
		}
		if m.ContentType != "image/png" {
			t.Errorf("position %d sniffed %q", i, m.ContentType)
		}
		if m.Kind != xpost.MediaImage {
			t.Errorf("position %d kind %q", i, m.Kind)
		}
		if _, err := os.Stat(m.Path); err != nil {
			t.Errorf("staged file missing: %v", err)
		}
	}

	if err := s.Cleanup(staged); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	for _, m := range staged {
		if _, err := os.Stat(m.Path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("file %s should be removed", m.Path)
		}
		if _, err := os.Stat(filepath.Dir(m.Path)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("staging dir %s should be removed", filepath.Dir(m.Path))
		}
	}
}

func TestStageNoAttachments(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := NewStager(dir, &fakeDownloader{})
	staged, err := s.Stage(context.Background(), nil)
	if err != nil || len(staged) != 0 {
		t.Fatalf("Stage(nil) = %v, %v", staged, err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("no staging dir should be created, found %d entries", len(entries))
	}
	if err := s.Cleanup(nil); err != nil {
		t.Errorf("Cleanup(nil): %v", err)
	}
}

func TestStageFailureRemovesPartialFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	atts := attachments(3)
	s := NewStager(dir, &fakeDownloader{failOn: atts[2].URL})

	if _, err := s.Stage(context.Background(), atts); err == nil {
		t.Fatal("expected error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("failed stage should leave nothing behind, found %d entries", len(entries))
	}
}

func TestConcurrentStagesUseSeparateDirs(t *testing.T) {
	t.Parallel()
	s := NewStager(t.TempDir(), &fakeDownloader{})
	a, err := s.Stage(context.Background(), attachments(1))
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Stage(context.Background(), attachments(1))
	if err != nil {
		t.Fatal(err)
	}
	if a[0].Path == b[0].Path {
		t.Fatal("two requests staging the same attachment must not share a file")
	}
	if filepath.Base(a[0].Path) != filepath.Base(b[0].Path) {
		t.Error("same attachment should get the same file name")
	}
	if err := s.Cleanup(a); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(b[0].Path); err != nil {
		t.Error("cleaning one request must not touch another")
	}
	s.Cleanup(b)
}

func TestFileNameIsDeterministic(t *testing.T) {
	t.Parallel()
	a := FileName("https://pbs.twimg.com/media/abc.JPG?name=orig")
	b := FileName("https://pbs.twimg.com/media/abc.JPG?name=orig")
	c := FileName("https://pbs.twimg.com/media/abd.JPG?name=orig")
	if a != b {
		t.Errorf("same url gave %q and %q", a, b)
	}
	if a == c {
		t.Error("different urls should differ")
	}
	if !strings.HasSuffix(a, ".jpg") {
		t.Errorf("extension should be kept and lowercased: %q", a)
	}
}

func TestHTTPDownloader(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngHeader)
	}))
	defer server.Close()

	s := NewStager(t.TempDir(), NewHTTPDownloader())
	staged, err := s.Stage(context.Background(), []xpost.Attachment{{URL: server.URL + "/ok.png"}})
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	defer s.Cleanup(staged)
	data, err := os.ReadFile(staged[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(pngHeader) {
		t.Error("downloaded bytes differ")
	}

	if _, err := s.Stage(context.Background(), []xpost.Attachment{{URL: server.URL + "/missing.png"}}); err == nil {
		t.Error("404 should fail staging")
	}
}
