package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chriopter/sandboxer/internal/domain"
	"github.com/chriopter/sandboxer/internal/domain/chat"
	"github.com/chriopter/sandboxer/internal/domain/session"
	"github.com/chriopter/sandboxer/internal/port/agentrunner"
	"github.com/chriopter/sandboxer/internal/port/broadcast"
	"github.com/chriopter/sandboxer/internal/port/database"
	"github.com/chriopter/sandboxer/internal/port/terminal"
)

// Ensure mock types implement their interfaces at compile time.
var (
	_ database.Store        = (*mockStore)(nil)
	_ terminal.Backend      = (*mockBackend)(nil)
	_ terminal.HostManager  = (*mockHosts)(nil)
	_ broadcast.Broadcaster = (*mockBroadcaster)(nil)
	_ agentrunner.Runner    = (*mockRunner)(nil)
)

// mockStore is an in-memory database.Store.
type mockStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	messages []chat.Message
	settings map[string]string
	nextID   int64
	orderSeq int
}

func newMockStore() *mockStore {
	return &mockStore{
		sessions: make(map[string]*session.Session),
		settings: make(map[string]string),
	}
}

func (m *mockStore) ListSessions(context.Context) ([]session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *mockStore) GetSession(_ context.Context, name string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	if !ok {
		return nil, fmt.Errorf("get session %s: %w", name, domain.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *mockStore) UpsertSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.Name]; !ok {
		s.OrderIndex = m.orderSeq
		m.orderSeq++
	}
	cp := *s
	m.sessions[s.Name] = &cp
	return nil
}

func (m *mockStore) RenameSession(_ context.Context, oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[oldName]
	if !ok {
		return fmt.Errorf("rename %s: %w", oldName, domain.ErrNotFound)
	}
	if _, taken := m.sessions[newName]; taken {
		return fmt.Errorf("rename %s: %w", newName, domain.ErrConflict)
	}
	s.Name = newName
	m.sessions[newName] = s
	delete(m.sessions, oldName)
	for i := range m.messages {
		if m.messages[i].SessionName == oldName {
			m.messages[i].SessionName = newName
		}
	}
	return nil
}

func (m *mockStore) SetSessionMode(_ context.Context, name string, mode session.Mode) error {
	return m.mutate(name, func(s *session.Session) { s.Mode = mode })
}

func (m *mockStore) SetSessionTitle(_ context.Context, name, title string) error {
	return m.mutate(name, func(s *session.Session) { s.Title = title })
}

func (m *mockStore) SetSessionResumeToken(_ context.Context, name, token string) error {
	return m.mutate(name, func(s *session.Session) { s.ResumeToken = token })
}

func (m *mockStore) SetSessionOrder(_ context.Context, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, name := range names {
		if s, ok := m.sessions[name]; ok {
			s.OrderIndex = i
		}
	}
	return nil
}

func (m *mockStore) DeleteSession(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[name]; !ok {
		return fmt.Errorf("delete %s: %w", name, domain.ErrNotFound)
	}
	delete(m.sessions, name)
	return nil
}

func (m *mockStore) mutate(name string, fn func(*session.Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	if !ok {
		return fmt.Errorf("session %s: %w", name, domain.ErrNotFound)
	}
	fn(s)
	return nil
}

func (m *mockStore) CreateMessage(_ context.Context, msg *chat.Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg.ID = m.nextID
	m.messages = append(m.messages, *msg)
	return msg.ID, nil
}

func (m *mockStore) UpdateMessage(_ context.Context, id int64, content string, status chat.Status, meta *chat.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].ID == id {
			m.messages[i].Content = content
			m.messages[i].Status = status
			m.messages[i].Metadata = meta
			return nil
		}
	}
	return fmt.Errorf("message %d: %w", id, domain.ErrNotFound)
}

func (m *mockStore) ListMessages(_ context.Context, name string, limit int) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chat.Message
	for _, msg := range m.messages {
		if msg.SessionName == name {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *mockStore) ListMessagesSince(_ context.Context, name string, sinceID int64) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chat.Message
	for _, msg := range m.messages {
		if msg.SessionName == name && (msg.ID >= sinceID || !msg.Status.Terminal()) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockStore) LatestMessageID(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest int64
	for _, msg := range m.messages {
		if msg.SessionName == name && msg.ID > latest {
			latest = msg.ID
		}
	}
	return latest, nil
}

func (m *mockStore) ClearMessages(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.SessionName != name {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

func (m *mockStore) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	if !ok {
		return "", fmt.Errorf("setting %s: %w", key, domain.ErrNotFound)
	}
	return v, nil
}

func (m *mockStore) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *mockStore) message(id int64) *chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].ID == id {
			cp := m.messages[i]
			return &cp
		}
	}
	return nil
}

// mockBackend is an in-memory terminal.Backend tracking live panes.
type mockBackend struct {
	mu     sync.Mutex
	panes  map[string]bool
	sent   map[string][]string
	titles map[string]string
	killed []string
}

func newMockBackend(names ...string) *mockBackend {
	b := &mockBackend{
		panes:  make(map[string]bool),
		sent:   make(map[string][]string),
		titles: make(map[string]string),
	}
	for _, n := range names {
		b.panes[n] = true
	}
	return b
}

func (b *mockBackend) Create(_ context.Context, name, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.panes[name] = true
	return nil
}

func (b *mockBackend) SendKeys(_ context.Context, name, keys string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent[name] = append(b.sent[name], keys)
	return nil
}

func (b *mockBackend) Kill(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.panes[name] {
		return fmt.Errorf("no pane %s", name)
	}
	delete(b.panes, name)
	b.killed = append(b.killed, name)
	return nil
}

func (b *mockBackend) Rename(_ context.Context, oldName, newName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.panes[oldName] {
		return fmt.Errorf("no pane %s", oldName)
	}
	delete(b.panes, oldName)
	b.panes[newName] = true
	return nil
}

func (b *mockBackend) List(context.Context) ([]terminal.Pane, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.panes))
	for n := range b.panes {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]terminal.Pane, len(names))
	for i, n := range names {
		out[i] = terminal.Pane{Name: n, Windows: 1}
	}
	return out, nil
}

func (b *mockBackend) Has(_ context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.panes[name], nil
}

func (b *mockBackend) PaneTitle(_ context.Context, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.titles[name], nil
}

func (b *mockBackend) Resize(_ context.Context, _ string, _, _ uint16) error { return nil }

func (b *mockBackend) Capture(_ context.Context, name string) (string, error) {
	return "capture of " + name, nil
}

func (b *mockBackend) sentKeys(name string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent[name]...)
}

// mockHosts records host shutdowns.
type mockHosts struct {
	mu       sync.Mutex
	shutdown []string
}

func (h *mockHosts) Subscribe(string, uint16, uint16) (terminal.Subscription, error) {
	return nil, fmt.Errorf("not implemented")
}

func (h *mockHosts) Shutdown(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdown = append(h.shutdown, name)
}

func (h *mockHosts) Close() {}

// mockBroadcaster records broadcast events.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcastCall
}

type broadcastCall struct {
	eventType string
	payload   any
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, broadcastCall{eventType, payload})
}

func (m *mockBroadcaster) typesSeen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.eventType
	}
	return out
}

// mockRunner replays a scripted event sequence.
type mockRunner struct {
	mu     sync.Mutex
	events []agentrunner.Event
	runErr error
	reqs   []agentrunner.Request
	// block, when set, delays the stream until the context is cancelled.
	block bool
}

func (r *mockRunner) Name() string { return "mock" }

func (r *mockRunner) Run(ctx context.Context, req agentrunner.Request) (<-chan agentrunner.Event, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	events, runErr, block := r.events, r.runErr, r.block
	r.mu.Unlock()

	if runErr != nil {
		return nil, runErr
	}
	out := make(chan agentrunner.Event)
	go func() {
		defer close(out)
		if block {
			<-ctx.Done()
			out <- agentrunner.Event{Type: agentrunner.EventFailed, Err: ctx.Err()}
			return
		}
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				out <- agentrunner.Event{Type: agentrunner.EventFailed, Err: ctx.Err()}
				return
			}
		}
	}()
	return out, nil
}

func (r *mockRunner) requests() []agentrunner.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agentrunner.Request(nil), r.reqs...)
}
