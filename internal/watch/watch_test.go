package watch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blacktop/xrelay/internal/fanout"
	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

func TestMain(m *testing.M) {
	logutil.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fakeRelay struct {
	calls chan xpost.PostRef
}

func (f *fakeRelay) CrossPost(ctx context.Context, src xpost.PostRef, destinations []xpost.Network) fanout.Result {
	f.calls <- src
	return fanout.Result{Source: src, State: fanout.StateDone}
}

type fakeOrigins map[xpost.PostRef]xpost.PostRef

func (f fakeOrigins) Origin(destination xpost.PostRef) (xpost.PostRef, bool) {
	src, ok := f[destination]
	return src, ok
}

func update(t *testing.T, status map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(status)
	if err != nil {
		t.Fatal(err)
	}
	msg, _ := json.Marshal(map[string]any{"stream": []string{"user"}, "event": "update", "payload": string(payload)})
	return msg
}

func TestWatcherRelaysOnlyOperatorOriginals(t *testing.T) {
	var (
		mu         sync.Mutex
		connects   int
		authHeader string
	)
	messages := [][]byte{
		update(t, map[string]any{"id": "1", "account": map[string]any{"username": "someoneElse"}}),
		update(t, map[string]any{"id": "2", "account": map[string]any{"username": "operator"}, "reblog": map[string]any{"id": "0"}}),
		update(t, map[string]any{"id": "3", "account": map[string]any{"username": "operator"}}),
		[]byte(`{"event":"notification","payload":"{}"}`),
		[]byte(`not json`),
		update(t, map[string]any{"id": "4", "account": map[string]any{"username": "Operator"}}),
	}

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/streaming" || r.URL.Query().Get("stream") != "user" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		mu.Lock()
		connects++
		first := connects == 1
		authHeader = r.Header.Get("Authorization")
		mu.Unlock()

		if first {
			for _, m := range messages {
				conn.WriteMessage(websocket.TextMessage, m)
			}
			return
		}
		conn.ReadMessage()
	}))
	defer server.Close()

	relay := &fakeRelay{calls: make(chan xpost.PostRef, 8)}
	origins := fakeOrigins{
		{Network: xpost.Mastodon, ID: "3"}: {Network: xpost.Twitter, ID: "99"},
	}
	w := New(Config{
		Server:         server.URL,
		AccessToken:    "tok",
		Operator:       "@operator",
		Destinations:   []xpost.Network{xpost.Bluesky},
		ReconnectDelay: 10 * time.Millisecond,
	}, relay, origins)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	select {
	case got := <-relay.calls:
		if got != (xpost.PostRef{Network: xpost.Mastodon, ID: "4"}) {
			t.Errorf("relayed %v, want mastodon:4", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no status relayed")
	}

	// the stream drops after the first batch; wait for a reconnect
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := connects
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if connects < 2 {
		t.Errorf("connects = %d, want a reconnect", connects)
	}
	if authHeader != "Bearer tok" {
		t.Errorf("authorization = %q", authHeader)
	}
	if len(relay.calls) != 0 {
		t.Errorf("unexpected extra relays: %d", len(relay.calls))
	}
}

func TestStreamURL(t *testing.T) {
	w := New(Config{Server: "https://mastodon.example/"}, nil, nil)
	got, err := w.streamURL()
	if err != nil {
		t.Fatal(err)
	}
	if got != "wss://mastodon.example/api/v1/streaming?stream=user" {
		t.Errorf("url = %q", got)
	}
}
