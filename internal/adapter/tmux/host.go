package tmux

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/chriopter/sandboxer/internal/keylock"
	"github.com/chriopter/sandboxer/internal/port/terminal"
)

// subBufferLen is the per-subscriber output channel capacity. A subscriber
// that falls this far behind is disconnected rather than allowed to stall
// the fan-out for everyone else.
const subBufferLen = 256

// ptyConn is a live pseudo-terminal bound to one tmux client.
type ptyConn interface {
	io.ReadWriteCloser
	Resize(rows, cols uint16) error
}

// attachFunc opens a PTY running a tmux client attached to the named
// session. Swapped out in tests.
type attachFunc func(name string) (ptyConn, error)

// HostManager owns one host per live session: a shared attach PTY plus a
// background reader pumping output to every subscriber in production order.
// The reader keeps running when the last subscriber leaves; only Shutdown
// (kill, mode toggle) or pane death stops it.
type HostManager struct {
	mu     sync.Mutex
	hosts  map[string]*host
	attach attachFunc

	// names serializes first-attach per session so starting one host
	// never blocks subscribers of other sessions behind the fork/exec.
	names *keylock.KeyLock
}

var _ terminal.HostManager = (*HostManager)(nil)

// NewHostManager creates a HostManager spawning real tmux clients.
// killGrace bounds how long a terminating client gets before SIGKILL.
func NewHostManager(killGrace time.Duration) *HostManager {
	return &HostManager{
		hosts: make(map[string]*host),
		attach: func(name string) (ptyConn, error) {
			return attachPane(name, killGrace)
		},
		names: keylock.New(),
	}
}

// newHostManagerWithAttach is the test constructor.
func newHostManagerWithAttach(attach attachFunc) *HostManager {
	return &HostManager{hosts: make(map[string]*host), attach: attach, names: keylock.New()}
}

// Subscribe attaches to the named session, starting its host on first use.
// The pane is resized to the subscriber's geometry before any further
// output is forwarded so the program inside reflows correctly.
func (m *HostManager) Subscribe(name string, rows, cols uint16) (terminal.Subscription, error) {
	unlock := m.names.Lock(name)
	defer unlock()

	m.mu.Lock()
	h, ok := m.hosts[name]
	m.mu.Unlock()
	if !ok {
		// The attach runs outside m.mu; the per-name lock keeps a
		// concurrent Subscribe for the same session from spawning a
		// second client.
		conn, err := m.attach(name)
		if err != nil {
			return nil, fmt.Errorf("attach %s: %w", name, err)
		}
		h = newHost(name, conn, func() {
			m.mu.Lock()
			if m.hosts[name] == h {
				delete(m.hosts, name)
			}
			m.mu.Unlock()
		})
		m.mu.Lock()
		m.hosts[name] = h
		m.mu.Unlock()
		go h.pump()
	}

	sub := h.subscribe()
	if err := sub.Resize(rows, cols); err != nil {
		sub.Close()
		return nil, fmt.Errorf("resize %s: %w", name, err)
	}
	return sub, nil
}

// Shutdown stops the named session's host and closes all subscriptions.
// The pane itself is untouched.
func (m *HostManager) Shutdown(name string) {
	m.mu.Lock()
	h := m.hosts[name]
	delete(m.hosts, name)
	m.mu.Unlock()
	if h != nil {
		h.close()
	}
}

// Close shuts down every host.
func (m *HostManager) Close() {
	m.mu.Lock()
	hosts := make([]*host, 0, len(m.hosts))
	for _, h := range m.hosts {
		hosts = append(hosts, h)
	}
	m.hosts = make(map[string]*host)
	m.mu.Unlock()
	for _, h := range hosts {
		h.close()
	}
}

// host is the runtime of one attached session: the shared PTY, the reader
// task, and the ordered subscriber set.
type host struct {
	name string
	conn ptyConn

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool

	// writeMu serializes client input so bytes reach the pane in the
	// order Write was called.
	writeMu sync.Mutex

	onExit func()
}

func newHost(name string, conn ptyConn, onExit func()) *host {
	return &host{
		name:   name,
		conn:   conn,
		subs:   make(map[*subscription]struct{}),
		onExit: onExit,
	}
}

// pump is the host's background reader task. It forwards every chunk to all
// subscribers in production order and closes the host when the PTY reports
// EOF (pane died or client was terminated).
func (h *host) pump() {
	buf := make([]byte, 32*1024)
	for {
		n, err := h.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.fanout(chunk)
		}
		if err != nil {
			h.close()
			return
		}
	}
}

func (h *host) fanout(chunk []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.out <- chunk:
		default:
			// Subscriber is too far behind; cut it loose so it cannot
			// reorder or stall delivery for the others.
			delete(h.subs, sub)
			close(sub.out)
		}
	}
}

func (h *host) subscribe() *subscription {
	sub := &subscription{host: h, out: make(chan []byte, subBufferLen)}
	h.mu.Lock()
	if h.closed {
		close(sub.out)
	} else {
		h.subs[sub] = struct{}{}
	}
	h.mu.Unlock()
	return sub
}

func (h *host) unsubscribe(sub *subscription) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.out)
	}
	h.mu.Unlock()
}

func (h *host) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.out)
	}
	h.mu.Unlock()

	_ = h.conn.Close()
	if h.onExit != nil {
		h.onExit()
	}
}

// subscription is one client's attachment to a host.
type subscription struct {
	host *host
	out  chan []byte
}

var _ terminal.Subscription = (*subscription)(nil)

func (s *subscription) Output() <-chan []byte { return s.out }

func (s *subscription) Write(p []byte) error {
	s.host.writeMu.Lock()
	defer s.host.writeMu.Unlock()
	_, err := s.host.conn.Write(p)
	return err
}

func (s *subscription) Resize(rows, cols uint16) error {
	return s.host.conn.Resize(rows, cols)
}

func (s *subscription) Close() {
	s.host.unsubscribe(s)
}

// ptyClient wraps a tmux client process on a PTY.
type ptyClient struct {
	f     *os.File
	cmd   *exec.Cmd
	grace time.Duration

	closeOnce sync.Once
	closeErr  error
}

// attachPane spawns `tmux attach-session` on a fresh PTY.
func attachPane(name string, grace time.Duration) (ptyConn, error) {
	cmd := exec.Command("tmux", "attach-session", "-t", name)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("pty start: %w", err)
	}
	return &ptyClient{f: f, cmd: cmd, grace: grace}, nil
}

func (p *ptyClient) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *ptyClient) Write(b []byte) (int, error) { return p.f.Write(b) }

func (p *ptyClient) Resize(rows, cols uint16) error {
	return pty.Setsize(p.f, &pty.Winsize{Rows: rows, Cols: cols})
}

// Close terminates the tmux client: SIGTERM, a grace period, then SIGKILL.
// The pane it was attached to keeps running.
func (p *ptyClient) Close() error {
	p.closeOnce.Do(func() {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
		done := make(chan error, 1)
		go func() { done <- p.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(p.grace):
			_ = p.cmd.Process.Kill()
			<-done
		}
		p.closeErr = p.f.Close()
	})
	return p.closeErr
}
