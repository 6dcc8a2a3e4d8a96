package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/chriopter/sandboxer/internal/port/terminal"
)

// fakeSub is a scriptable terminal.Subscription. Tests pre-fill the output
// channel to simulate a host with buffered backlog.
type fakeSub struct {
	out  chan []byte
	once sync.Once
}

var _ terminal.Subscription = (*fakeSub)(nil)

func newFakeSub() *fakeSub {
	return &fakeSub{out: make(chan []byte, 16)}
}

func (f *fakeSub) Output() <-chan []byte    { return f.out }
func (f *fakeSub) Write([]byte) error       { return nil }
func (f *fakeSub) Resize(_, _ uint16) error { return nil }
func (f *fakeSub) Close()                   { f.once.Do(func() { close(f.out) }) }

// wsPair dials a throwaway server and returns both ends of one socket.
func wsPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		accepted <- c
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })

	select {
	case s := <-accepted:
		t.Cleanup(func() { _ = s.Close(websocket.StatusNormalClosure, "") })
		return s, c
	case <-ctx.Done():
		t.Fatal("timed out waiting for accept")
	}
	return nil, nil
}

func readFrame(t *testing.T, c *websocket.Conn) (websocket.MessageType, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	typ, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return typ, data
}

func TestPumpForwardsOutputThenEOF(t *testing.T) {
	server, client := wsPair(t)

	sub := newFakeSub()
	sub.out <- []byte("$ ls\n")

	c := &termClient{id: "test", ws: server}
	at := &attachment{name: "app-claude-1", sub: sub}
	c.attached = at

	done := make(chan struct{})
	go func() {
		c.pump(context.Background(), at)
		close(done)
	}()

	typ, data := readFrame(t, client)
	if typ != websocket.MessageBinary || string(data) != "$ ls\n" {
		t.Fatalf("unexpected frame %v %q", typ, data)
	}

	// Pane death closes the subscription without a client detach; the
	// client must learn about it.
	sub.Close()
	<-done
	typ, data = readFrame(t, client)
	var a ack
	if typ != websocket.MessageText || json.Unmarshal(data, &a) != nil {
		t.Fatalf("unexpected frame %v %q", typ, data)
	}
	if a.Status != "eof" || a.Session != "app-claude-1" {
		t.Errorf("unexpected ack %+v", a)
	}
}

func TestPumpDropsBacklogAfterDetach(t *testing.T) {
	server, client := wsPair(t)
	ctx := context.Background()

	sub := newFakeSub()
	for _, chunk := range []string{"OLD1", "OLD2", "OLD3"} {
		sub.out <- []byte(chunk)
	}

	c := &termClient{id: "test", ws: server}
	at := &attachment{name: "app-claude-1", sub: sub}
	c.attached = at

	c.detach()

	done := make(chan struct{})
	go func() {
		c.pump(ctx, at)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not finish draining")
	}

	// The marker sent after the drain must be the first frame the client
	// sees; any earlier binary frame is old-session output leaking into
	// the new attachment.
	c.send(ctx, ack{Status: "detached"})

	typ, data := readFrame(t, client)
	if typ == websocket.MessageBinary {
		t.Fatalf("stale pane bytes %q delivered after detach", data)
	}
	var a ack
	if err := json.Unmarshal(data, &a); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	if a.Status != "detached" {
		t.Errorf("unexpected ack %+v", a)
	}
}
