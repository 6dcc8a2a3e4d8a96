package tmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeConn is a scriptable ptyConn. Reads drain a channel so tests control
// exactly when output arrives; writes and resizes are recorded.
type fakeConn struct {
	reads chan []byte

	mu      sync.Mutex
	written bytes.Buffer
	rows    uint16
	cols    uint16
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 16)}
}

func (c *fakeConn) Read(b []byte) (int, error) {
	chunk, ok := <-c.reads
	if !ok {
		return 0, io.EOF
	}
	return copy(b, chunk), nil
}

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.Write(b)
}

func (c *fakeConn) Resize(rows, cols uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows, c.cols = rows, cols
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.reads)
	}
	return nil
}

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case b, ok := <-ch:
		if !ok {
			t.Fatal("output channel closed")
		}
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for output")
	}
	return nil
}

func TestSubscribeStartsHostAndResizes(t *testing.T) {
	conn := newFakeConn()
	m := newHostManagerWithAttach(func(string) (ptyConn, error) { return conn, nil })
	defer m.Close()

	sub, err := m.Subscribe("work", 40, 120)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	conn.mu.Lock()
	rows, cols := conn.rows, conn.cols
	conn.mu.Unlock()
	if rows != 40 || cols != 120 {
		t.Errorf("expected resize to 40x120, got %dx%d", rows, cols)
	}

	conn.reads <- []byte("hello")
	if got := recv(t, sub.Output()); string(got) != "hello" {
		t.Errorf("expected hello, got %q", got)
	}
}

func TestFanoutOrdering(t *testing.T) {
	conn := newFakeConn()
	m := newHostManagerWithAttach(func(string) (ptyConn, error) { return conn, nil })
	defer m.Close()

	a, err := m.Subscribe("work", 24, 80)
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	defer a.Close()
	b, err := m.Subscribe("work", 24, 80)
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	defer b.Close()

	for _, chunk := range []string{"one", "two", "three"} {
		conn.reads <- []byte(chunk)
	}
	for _, sub := range []interface{ Output() <-chan []byte }{a, b} {
		for _, want := range []string{"one", "two", "three"} {
			if got := recv(t, sub.Output()); string(got) != want {
				t.Fatalf("expected %q, got %q", want, got)
			}
		}
	}
}

func TestSharedAttachSingleConn(t *testing.T) {
	conn := newFakeConn()
	var attaches int
	m := newHostManagerWithAttach(func(string) (ptyConn, error) {
		attaches++
		return conn, nil
	})
	defer m.Close()

	a, _ := m.Subscribe("work", 24, 80)
	b, _ := m.Subscribe("work", 24, 80)
	a.Close()
	b.Close()
	if attaches != 1 {
		t.Errorf("expected a single attach, got %d", attaches)
	}
}

func TestHostSurvivesLastSubscriber(t *testing.T) {
	conn := newFakeConn()
	var attaches int
	m := newHostManagerWithAttach(func(string) (ptyConn, error) {
		attaches++
		return conn, nil
	})
	defer m.Close()

	sub, _ := m.Subscribe("work", 24, 80)
	sub.Close()

	// Reattaching must reuse the still-running host.
	again, err := m.Subscribe("work", 24, 80)
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	defer again.Close()
	if attaches != 1 {
		t.Errorf("expected host to survive zero subscribers, got %d attaches", attaches)
	}

	conn.reads <- []byte("still here")
	if got := recv(t, again.Output()); string(got) != "still here" {
		t.Errorf("expected output after reattach, got %q", got)
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	conn := newFakeConn()
	m := newHostManagerWithAttach(func(string) (ptyConn, error) { return conn, nil })
	defer m.Close()

	slow, _ := m.Subscribe("work", 24, 80)
	fast, _ := m.Subscribe("work", 24, 80)
	defer fast.Close()

	// Overfill the slow subscriber's buffer without draining it.
	for i := 0; i <= subBufferLen; i++ {
		conn.reads <- []byte{byte(i)}
		recv(t, fast.Output())
	}

	// The slow channel must be closed after draining its backlog.
	n := 0
	for range slow.Output() {
		n++
	}
	if n != subBufferLen {
		t.Errorf("expected %d buffered chunks before close, got %d", subBufferLen, n)
	}
}

func TestWriteReachesConn(t *testing.T) {
	conn := newFakeConn()
	m := newHostManagerWithAttach(func(string) (ptyConn, error) { return conn, nil })
	defer m.Close()

	sub, _ := m.Subscribe("work", 24, 80)
	defer sub.Close()
	if err := sub.Write([]byte("ls\r")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.mu.Lock()
	got := conn.written.String()
	conn.mu.Unlock()
	if got != "ls\r" {
		t.Errorf("expected input forwarded, got %q", got)
	}
}

func TestShutdownClosesSubscribers(t *testing.T) {
	conn := newFakeConn()
	m := newHostManagerWithAttach(func(string) (ptyConn, error) { return conn, nil })

	sub, _ := m.Subscribe("work", 24, 80)
	m.Shutdown("work")

	select {
	case _, ok := <-sub.Output():
		if ok {
			t.Error("expected closed channel after shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("expected conn closed on shutdown")
	}
}

func TestEOFClosesHost(t *testing.T) {
	conn := newFakeConn()
	m := newHostManagerWithAttach(func(string) (ptyConn, error) { return conn, nil })
	defer m.Close()

	sub, _ := m.Subscribe("work", 24, 80)
	conn.Close()

	select {
	case _, ok := <-sub.Output():
		if ok {
			t.Error("expected closed channel after EOF")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func TestSubscribeAttachError(t *testing.T) {
	wantErr := errors.New("no such session")
	m := newHostManagerWithAttach(func(string) (ptyConn, error) { return nil, wantErr })
	defer m.Close()

	if _, err := m.Subscribe("gone", 24, 80); !errors.Is(err, wantErr) {
		t.Errorf("expected attach error, got %v", err)
	}
}

func TestSubscribeUnrelatedSessionsDoNotSerialize(t *testing.T) {
	m := newHostManagerWithAttach(func(name string) (ptyConn, error) {
		if name == "slow" {
			time.Sleep(300 * time.Millisecond)
		}
		return newFakeConn(), nil
	})
	defer m.Close()

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		if _, err := m.Subscribe("slow", 24, 80); err != nil {
			t.Errorf("subscribe slow: %v", err)
		}
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	if _, err := m.Subscribe("fast", 24, 80); err != nil {
		t.Fatalf("subscribe fast: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("subscribe on fast blocked %v behind slow's attach", elapsed)
	}
	<-slowDone
}

func TestConcurrentSubscribeSameSessionSharesConn(t *testing.T) {
	var attaches int32
	m := newHostManagerWithAttach(func(string) (ptyConn, error) {
		atomic.AddInt32(&attaches, 1)
		time.Sleep(50 * time.Millisecond)
		return newFakeConn(), nil
	})
	defer m.Close()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Subscribe("work", 24, 80); err != nil {
				t.Errorf("subscribe: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&attaches); n != 1 {
		t.Errorf("expected a single shared attach, got %d", n)
	}
}
