package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chriopter/sandboxer/internal/adapter/otel"
	"github.com/chriopter/sandboxer/internal/adapter/ws"
	"github.com/chriopter/sandboxer/internal/domain"
	"github.com/chriopter/sandboxer/internal/domain/chat"
	"github.com/chriopter/sandboxer/internal/domain/session"
	"github.com/chriopter/sandboxer/internal/port/agentrunner"
	"github.com/chriopter/sandboxer/internal/port/broadcast"
	"github.com/chriopter/sandboxer/internal/port/database"
)

// chatTitleMax bounds titles derived from the first user message.
const chatTitleMax = 60

// ChatService drives structured agent turns: it persists the transcript,
// streams turn events to the Send caller, and fans the same events out to
// every open tab. One turn per session at a time; a second prompt while one
// runs is rejected, not queued.
type ChatService struct {
	store   database.Store
	runner  agentrunner.Runner
	hub     broadcast.Broadcaster
	metrics *otel.Metrics
	log     *slog.Logger

	mu     sync.Mutex
	active map[string]*turn
}

// turn is one in-flight agent invocation.
type turn struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewChatService creates the chat bridge service.
func NewChatService(store database.Store, runner agentrunner.Runner, hub broadcast.Broadcaster,
	metrics *otel.Metrics, log *slog.Logger) *ChatService {
	return &ChatService{
		store:   store,
		runner:  runner,
		hub:     hub,
		metrics: metrics,
		log:     log,
		active:  make(map[string]*turn),
	}
}

// Poll is the result of one transcript poll.
type Poll struct {
	Messages []chat.Message `json:"messages"`
	LatestID int64          `json:"latest_id"`
}

// Send starts one turn: it persists the user message and a pending
// assistant message, then streams events on the returned channel until the
// turn reaches a terminal status. The turn runs detached from ctx; closing
// the tab does not abort it.
func (s *ChatService) Send(ctx context.Context, name, prompt string) (<-chan chat.Event, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("empty prompt: %w", domain.ErrConflict)
	}

	sess, err := s.store.GetSession(ctx, name)
	if err != nil {
		return nil, err
	}
	if sess.Mode != session.ModeChat {
		return nil, fmt.Errorf("session %s is not in chat mode: %w", name, domain.ErrConflict)
	}

	// Claim the in-flight slot before touching the store so concurrent
	// sends on other sessions never queue behind these inserts.
	turnCtx, cancel := context.WithCancel(context.Background())
	t := &turn{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	if _, running := s.active[name]; running {
		s.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("turn already running for %s: %w", name, domain.ErrBusy)
	}
	s.active[name] = t
	s.mu.Unlock()

	userMsg := &chat.Message{
		SessionName: name,
		Role:        chat.RoleUser,
		Content:     prompt,
		Status:      chat.StatusComplete,
	}
	if _, err := s.store.CreateMessage(ctx, userMsg); err != nil {
		s.releaseTurn(name, t)
		return nil, err
	}
	asstMsg := &chat.Message{
		SessionName: name,
		Role:        chat.RoleAssistant,
		Status:      chat.StatusPending,
	}
	if _, err := s.store.CreateMessage(ctx, asstMsg); err != nil {
		s.releaseTurn(name, t)
		return nil, err
	}

	events := make(chan chat.Event, 64)

	if sess.Title == "" {
		s.setTitle(ctx, name, titleFromPrompt(prompt), events)
	}
	s.emit(events, chat.Event{
		Type: chat.EventStatus, SessionName: name,
		MessageID: asstMsg.ID, Status: chat.StatusPending,
	})

	go s.runTurn(turnCtx, t, sess, asstMsg.ID, prompt, events)
	return events, nil
}

// releaseTurn frees a claimed slot whose turn never started.
func (s *ChatService) releaseTurn(name string, t *turn) {
	s.mu.Lock()
	delete(s.active, name)
	s.mu.Unlock()
	t.cancel()
	close(t.done)
}

// runTurn consumes the runner's event stream and applies each event in
// order: store first, then the Send caller, then the broadcast hub.
func (s *ChatService) runTurn(ctx context.Context, t *turn, sess *session.Session, msgID int64, prompt string, events chan<- chat.Event) {
	name := sess.Name
	defer func() {
		close(events)
		s.mu.Lock()
		delete(s.active, name)
		s.mu.Unlock()
		t.cancel()
		close(t.done)
	}()

	ctx, span := otel.StartTurnSpan(ctx, name, sess.ResumeToken != "")
	defer span.End()
	s.metrics.TurnsStarted.Add(ctx, 1)
	started := time.Now()

	stream, err := s.runner.Run(ctx, agentrunner.Request{
		SessionName: name,
		Workdir:     sess.Workdir,
		Prompt:      prompt,
		ResumeToken: sess.ResumeToken,
	})
	if err != nil {
		s.finishTurn(ctx, name, msgID, "", nil, chat.StatusError, err.Error(), events)
		s.metrics.TurnsFailed.Add(ctx, 1)
		return
	}

	var (
		content string
		meta    chat.Metadata
		status  = chat.StatusPending
	)

	for ev := range stream {
		switch ev.Type {
		case agentrunner.EventInit:
			if err := s.store.SetSessionResumeToken(ctx, name, ev.ResumeToken); err != nil {
				s.log.Warn("persist resume token failed", "name", name, "error", err)
			}

		case agentrunner.EventDelta:
			content += ev.Delta
			if status == chat.StatusPending {
				status = chat.StatusStreaming
				s.updateMessage(ctx, msgID, content, status, &meta)
				s.emit(events, chat.Event{
					Type: chat.EventStatus, SessionName: name,
					MessageID: msgID, Status: status,
				})
			} else {
				s.updateMessage(ctx, msgID, content, status, &meta)
			}
			s.emit(events, chat.Event{
				Type: chat.EventDelta, SessionName: name,
				MessageID: msgID, Delta: ev.Delta,
			})

		case agentrunner.EventBlock:
			meta.Blocks = append(meta.Blocks, *ev.Block)
			if status == chat.StatusPending {
				status = chat.StatusStreaming
				s.emit(events, chat.Event{
					Type: chat.EventStatus, SessionName: name,
					MessageID: msgID, Status: status,
				})
			}
			s.updateMessage(ctx, msgID, content, status, &meta)
			s.emit(events, chat.Event{
				Type: chat.EventDelta, SessionName: name,
				MessageID: msgID, Block: ev.Block,
			})

		case agentrunner.EventResult:
			if content == "" {
				content = ev.Result.Text
			}
			meta.CostUSD = ev.Result.CostUSD
			meta.DurationMS = ev.Result.DurationMS
			meta.NumTurns = ev.Result.NumTurns
			final := chat.StatusComplete
			if ev.Result.IsError {
				final = chat.StatusError
			}
			s.finishTurn(ctx, name, msgID, content, &meta, final, "", events)
			s.metrics.TurnsCompleted.Add(ctx, 1)
			s.metrics.TurnDuration.Record(ctx, time.Since(started).Seconds())
			s.metrics.TurnCost.Record(ctx, ev.Result.CostUSD)
			return

		case agentrunner.EventFailed:
			// Partial content survives; the status records the failure.
			s.finishTurn(ctx, name, msgID, content, &meta, chat.StatusError, ev.Err.Error(), events)
			s.metrics.TurnsFailed.Add(ctx, 1)
			return
		}
	}

	s.finishTurn(ctx, name, msgID, content, &meta, chat.StatusError, "agent stream ended early", events)
	s.metrics.TurnsFailed.Add(ctx, 1)
}

// finishTurn writes the terminal state and emits the closing status and
// done events.
func (s *ChatService) finishTurn(ctx context.Context, name string, msgID int64, content string,
	meta *chat.Metadata, status chat.Status, errText string, events chan<- chat.Event) {
	// The terminal state must land even when the turn was cancelled.
	ctx = context.WithoutCancel(ctx)
	if errText != "" {
		s.log.Warn("turn failed", "name", name, "error", errText)
		if content != "" {
			content += "\n"
		}
		content += "Error: " + errText
	}
	s.updateMessage(ctx, msgID, content, status, meta)

	final := &chat.Message{
		ID:          msgID,
		SessionName: name,
		Role:        chat.RoleAssistant,
		Content:     content,
		Status:      status,
		Metadata:    meta,
	}
	s.emit(events, chat.Event{
		Type: chat.EventStatus, SessionName: name,
		MessageID: msgID, Status: status,
	})
	s.emit(events, chat.Event{
		Type: chat.EventDone, SessionName: name,
		MessageID: msgID, Status: status, Message: final,
	})
}

// updateMessage persists the assistant row's current state.
func (s *ChatService) updateMessage(ctx context.Context, id int64, content string, status chat.Status, meta *chat.Metadata) {
	if meta != nil && meta.Blocks == nil && meta.CostUSD == 0 && meta.DurationMS == 0 && meta.NumTurns == 0 {
		meta = nil
	}
	if err := s.store.UpdateMessage(ctx, id, content, status, meta); err != nil {
		s.log.Warn("persist message failed", "id", id, "error", err)
	}
}

// emit delivers one event to the Send caller, then to every open tab.
func (s *ChatService) emit(events chan<- chat.Event, ev chat.Event) {
	events <- ev
	s.hub.BroadcastEvent(context.Background(), ws.EventChatMessage, ev)
}

func (s *ChatService) setTitle(ctx context.Context, name, title string, events chan<- chat.Event) {
	if title == "" {
		return
	}
	if err := s.store.SetSessionTitle(ctx, name, title); err != nil {
		s.log.Warn("set chat title failed", "name", name, "error", err)
		return
	}
	s.emit(events, chat.Event{Type: chat.EventTitle, SessionName: name, Title: title})
	s.hub.BroadcastEvent(ctx, ws.EventSessionTitle, ws.SessionTitleEvent{Name: name, Title: title})
}

// titleFromPrompt derives a session title from the first user message.
func titleFromPrompt(prompt string) string {
	title := strings.Join(strings.Fields(prompt), " ")
	runes := []rune(title)
	if len(runes) > chatTitleMax {
		title = string(runes[:chatTitleMax])
	}
	return title
}

// History returns the most recent limit messages in chronological order.
func (s *ChatService) History(ctx context.Context, name string, limit int) ([]chat.Message, error) {
	if _, err := s.store.GetSession(ctx, name); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, name, limit)
}

// PollMessages returns messages at or after sinceID plus any message still
// streaming, so reconnecting tabs catch up on live content.
func (s *ChatService) PollMessages(ctx context.Context, name string, sinceID int64) (*Poll, error) {
	if _, err := s.store.GetSession(ctx, name); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessagesSince(ctx, name, sinceID)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.LatestMessageID(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Poll{Messages: msgs, LatestID: latest}, nil
}

// Clear wipes a session's transcript. Refused while a turn is running.
func (s *ChatService) Clear(ctx context.Context, name string) error {
	s.mu.Lock()
	_, running := s.active[name]
	s.mu.Unlock()
	if running {
		return fmt.Errorf("turn running for %s: %w", name, domain.ErrBusy)
	}
	if _, err := s.store.GetSession(ctx, name); err != nil {
		return err
	}
	return s.store.ClearMessages(ctx, name)
}

// CancelTurn aborts the session's in-flight turn, if any, and waits for its
// terminal events to be written.
func (s *ChatService) CancelTurn(name string) {
	s.mu.Lock()
	t := s.active[name]
	s.mu.Unlock()
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}
