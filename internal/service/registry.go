// Package service implements the business logic between the HTTP/WS
// adapters and the storage, terminal and agent ports.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/chriopter/sandboxer/internal/adapter/claudecli"
	"github.com/chriopter/sandboxer/internal/adapter/otel"
	"github.com/chriopter/sandboxer/internal/adapter/ristretto"
	"github.com/chriopter/sandboxer/internal/adapter/ws"
	"github.com/chriopter/sandboxer/internal/config"
	"github.com/chriopter/sandboxer/internal/domain"
	"github.com/chriopter/sandboxer/internal/domain/session"
	"github.com/chriopter/sandboxer/internal/keylock"
	"github.com/chriopter/sandboxer/internal/port/broadcast"
	"github.com/chriopter/sandboxer/internal/port/database"
	"github.com/chriopter/sandboxer/internal/port/terminal"
)

const selectedFolderKey = "selected_folder"

// SessionService owns the session registry: creation, reconciliation with
// the live multiplexer state, renames, ordering, mode toggles and teardown.
type SessionService struct {
	store   database.Store
	term    terminal.Backend
	hosts   terminal.HostManager
	hub     broadcast.Broadcaster
	cache   *ristretto.SnapshotCache
	metrics *otel.Metrics
	log     *slog.Logger

	termCfg  config.Terminal
	agentCfg config.Agent

	locks    *keylock.KeyLock
	captures singleflight.Group

	// cancelTurn aborts a session's in-flight chat turn before teardown.
	// Wired to ChatService.CancelTurn at startup.
	cancelTurn func(name string)

	// resumables lists past agent conversations for a workdir. Swapped
	// out in tests.
	resumables func(workdir string) ([]session.Resumable, error)
}

// NewSessionService creates the session registry service.
func NewSessionService(store database.Store, term terminal.Backend, hosts terminal.HostManager,
	hub broadcast.Broadcaster, cache *ristretto.SnapshotCache, metrics *otel.Metrics,
	termCfg config.Terminal, agentCfg config.Agent, log *slog.Logger) *SessionService {
	return &SessionService{
		store:      store,
		term:       term,
		hosts:      hosts,
		hub:        hub,
		cache:      cache,
		metrics:    metrics,
		log:        log,
		termCfg:    termCfg,
		agentCfg:   agentCfg,
		locks:      keylock.New(),
		cancelTurn: func(string) {},
		resumables: claudecli.ListResumable,
	}
}

// SetTurnCanceler wires the chat turn canceler called before Kill and
// ToggleMode tear a session down.
func (s *SessionService) SetTurnCanceler(cancel func(name string)) {
	s.cancelTurn = cancel
}

// Create registers a new session and, for terminal-driven sessions, starts
// its pane with the type's command. The session count is capped; a taken
// name is a conflict.
func (s *SessionService) Create(ctx context.Context, req session.CreateRequest) (*session.Session, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("session type %q: %w", req.Type, domain.ErrNotFound)
	}
	workdir := req.Workdir
	if workdir == "" {
		workdir = s.termCfg.DefaultWorkdir
	}

	existing, err := s.reconcile(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) >= s.termCfg.MaxSessions {
		return nil, fmt.Errorf("session ceiling %d reached: %w", s.termCfg.MaxSessions, domain.ErrResourceExhausted)
	}

	name := req.Name
	if name == "" {
		names := make([]string, len(existing))
		for i, e := range existing {
			names[i] = e.Name
		}
		name = session.GenerateName(req.Type, workdir, names)
	}

	unlock := s.locks.Lock(name)
	defer unlock()

	if _, err := s.store.GetSession(ctx, name); err == nil {
		return nil, fmt.Errorf("session %s exists: %w", name, domain.ErrConflict)
	}
	if has, _ := s.term.Has(ctx, name); has {
		return nil, fmt.Errorf("pane %s exists: %w", name, domain.ErrConflict)
	}

	mode := session.ModeCLI
	if req.Type == session.TypeChat {
		mode = session.ModeChat
	}

	sess := &session.Session{
		Name:        name,
		Workdir:     workdir,
		Type:        req.Type,
		Mode:        mode,
		ResumeToken: req.ResumeToken,
	}

	// Chat sessions have no pane; the agent runs per turn.
	if mode == session.ModeCLI {
		if err := s.startPane(ctx, name, workdir, req.Type, req.ResumeToken); err != nil {
			return nil, err
		}
	}

	if err := s.store.UpsertSession(ctx, sess); err != nil {
		if mode == session.ModeCLI {
			_ = s.term.Kill(ctx, name)
		}
		return nil, err
	}

	s.metrics.SessionsCreated.Add(ctx, 1)
	s.log.Info("session created", "name", name, "type", req.Type, "workdir", workdir)
	s.hub.BroadcastEvent(ctx, ws.EventSessionCreated, ws.SessionEvent{
		Name: name, Workdir: workdir, Type: string(req.Type), Mode: string(mode),
	})
	return sess, nil
}

// startPane creates the pane and types the session type's start command.
func (s *SessionService) startPane(ctx context.Context, name, workdir string, t session.Type, resumeToken string) error {
	if err := s.term.Create(ctx, name, workdir); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProcessFailure, err)
	}
	cmd := s.startCommand(t, resumeToken)
	if cmd == "" {
		return nil
	}
	if err := s.term.SendKeys(ctx, name, cmd); err != nil {
		_ = s.term.Kill(ctx, name)
		return fmt.Errorf("%w: %v", domain.ErrProcessFailure, err)
	}
	return nil
}

// startCommand returns the shell command a freshly created pane runs.
// Bash and cron panes stay at the prompt.
func (s *SessionService) startCommand(t session.Type, resumeToken string) string {
	switch t {
	case session.TypeClaude:
		parts := []string{"IS_SANDBOX=1", s.agentCfg.Command, "--dangerously-skip-permissions"}
		if resumeToken != "" {
			parts = append(parts, "--resume", resumeToken)
		}
		if s.agentCfg.SystemPrompt != "" {
			parts = append(parts, "--system-prompt", s.agentCfg.SystemPrompt)
		}
		return strings.Join(parts, " ")
	case session.TypeLazygit:
		return "lazygit"
	default:
		return ""
	}
}

// List reconciles the registry with the live multiplexer state and returns
// the sessions visible under folder, in tab order. An empty folder falls
// back to the persisted selected folder.
func (s *SessionService) List(ctx context.Context, folder string) ([]session.Session, error) {
	all, err := s.reconcile(ctx)
	if err != nil {
		return nil, err
	}

	scope := folder
	if scope == "" {
		scope, err = s.SelectedFolder(ctx)
		if err != nil {
			return nil, err
		}
	}

	visible := make([]session.Session, 0, len(all))
	for _, sess := range all {
		if session.InScope(sess.Workdir, scope) {
			visible = append(visible, sess)
		}
	}
	return visible, nil
}

// ReconcileOnStartup aligns the registry with tmux once at boot, before the
// server accepts traffic.
func (s *SessionService) ReconcileOnStartup(ctx context.Context) error {
	_, err := s.reconcile(ctx)
	return err
}

// reconcile prunes terminal-driven rows whose pane is gone, adopts panes
// nobody tracks, and refreshes pane titles. Chat rows have no pane and are
// never pruned.
func (s *SessionService) reconcile(ctx context.Context) ([]session.Session, error) {
	panes, err := s.term.List(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(panes))
	for _, p := range panes {
		live[p.Name] = true
	}

	rows, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	tracked := make(map[string]bool, len(rows))
	kept := rows[:0]
	for _, sess := range rows {
		tracked[sess.Name] = true
		if sess.Mode == session.ModeCLI && !live[sess.Name] {
			if err := s.store.DeleteSession(ctx, sess.Name); err != nil {
				s.log.Warn("prune failed", "name", sess.Name, "error", err)
				kept = append(kept, sess)
				continue
			}
			s.log.Info("session pruned", "name", sess.Name)
			s.hub.BroadcastEvent(ctx, ws.EventSessionRemoved, ws.SessionEvent{Name: sess.Name})
			continue
		}
		kept = append(kept, sess)
	}

	for _, p := range panes {
		if tracked[p.Name] {
			continue
		}
		adopted := &session.Session{
			Name: p.Name,
			Type: session.TypeBash,
			Mode: session.ModeCLI,
		}
		if err := s.store.UpsertSession(ctx, adopted); err != nil {
			s.log.Warn("adopt failed", "name", p.Name, "error", err)
			continue
		}
		s.metrics.SessionsAdopted.Add(ctx, 1)
		s.log.Info("session adopted", "name", p.Name)
		s.hub.BroadcastEvent(ctx, ws.EventSessionCreated, ws.SessionEvent{
			Name: p.Name, Type: string(session.TypeBash), Mode: string(session.ModeCLI),
		})
		kept = append(kept, *adopted)
	}

	for i := range kept {
		s.refreshTitle(ctx, &kept[i])
	}
	return kept, nil
}

// refreshTitle pulls the pane title for terminal-driven sessions. Chat
// titles come from the first user message instead.
func (s *SessionService) refreshTitle(ctx context.Context, sess *session.Session) {
	if sess.Mode != session.ModeCLI {
		return
	}
	title, err := s.term.PaneTitle(ctx, sess.Name)
	if err != nil || title == "" || title == sess.Title {
		return
	}
	if err := s.store.SetSessionTitle(ctx, sess.Name, title); err != nil {
		return
	}
	sess.Title = title
	s.hub.BroadcastEvent(ctx, ws.EventSessionTitle, ws.SessionTitleEvent{Name: sess.Name, Title: title})
}

// Rename changes a session's name in the registry and, for terminal-driven
// sessions, in the multiplexer.
func (s *SessionService) Rename(ctx context.Context, oldName, newName string) error {
	if newName == "" || newName == oldName {
		return fmt.Errorf("invalid new name %q: %w", newName, domain.ErrConflict)
	}
	unlock := s.locks.Lock(oldName)
	defer unlock()

	sess, err := s.store.GetSession(ctx, oldName)
	if err != nil {
		return err
	}
	if sess.Mode == session.ModeCLI {
		if err := s.term.Rename(ctx, oldName, newName); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrProcessFailure, err)
		}
	}
	if err := s.store.RenameSession(ctx, oldName, newName); err != nil {
		if sess.Mode == session.ModeCLI {
			_ = s.term.Rename(ctx, newName, oldName)
		}
		return err
	}

	s.hosts.Shutdown(oldName)
	s.cache.Invalidate(oldName)
	s.log.Info("session renamed", "old", oldName, "new", newName)
	s.hub.BroadcastEvent(ctx, ws.EventSessionRenamed, ws.SessionRenamedEvent{OldName: oldName, NewName: newName})
	return nil
}

// Reorder persists the dashboard tab order.
func (s *SessionService) Reorder(ctx context.Context, names []string) error {
	if err := s.store.SetSessionOrder(ctx, names); err != nil {
		return err
	}
	s.hub.BroadcastEvent(ctx, ws.EventSessionOrder, ws.SessionOrderEvent{Names: names})
	return nil
}

// ToggleMode switches a session between terminal and chat driving. The
// resume token carries the conversation across the switch: leaving cli mode
// kills the pane, entering it respawns the agent with --resume.
func (s *SessionService) ToggleMode(ctx context.Context, name string) (*session.Session, error) {
	unlock := s.locks.Lock(name)
	defer unlock()

	sess, err := s.store.GetSession(ctx, name)
	if err != nil {
		return nil, err
	}

	s.cancelTurn(name)

	switch sess.Mode {
	case session.ModeCLI:
		s.hosts.Shutdown(name)
		if has, _ := s.term.Has(ctx, name); has {
			if err := s.term.Kill(ctx, name); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrProcessFailure, err)
			}
		}
		s.cache.Invalidate(name)
		sess.Mode = session.ModeChat

	case session.ModeChat:
		if err := s.startPane(ctx, name, sess.Workdir, session.TypeClaude, sess.ResumeToken); err != nil {
			return nil, err
		}
		sess.Mode = session.ModeCLI
	}

	if err := s.store.SetSessionMode(ctx, name, sess.Mode); err != nil {
		return nil, err
	}
	s.log.Info("session mode toggled", "name", name, "mode", sess.Mode)
	s.hub.BroadcastEvent(ctx, ws.EventSessionMode, ws.SessionModeEvent{Name: name, Mode: string(sess.Mode)})
	return sess, nil
}

// Kill tears a session down completely: the in-flight turn, the attach
// host, the pane and the registry row.
func (s *SessionService) Kill(ctx context.Context, name string) error {
	unlock := s.locks.Lock(name)
	defer unlock()

	sess, err := s.store.GetSession(ctx, name)
	if err != nil {
		return err
	}

	s.cancelTurn(name)
	s.hosts.Shutdown(name)

	if sess.Mode == session.ModeCLI {
		if has, _ := s.term.Has(ctx, name); has {
			if err := s.term.Kill(ctx, name); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrProcessFailure, err)
			}
		}
	}
	if err := s.store.DeleteSession(ctx, name); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	s.cache.Invalidate(name)

	s.metrics.SessionsKilled.Add(ctx, 1)
	s.log.Info("session killed", "name", name)
	s.hub.BroadcastEvent(ctx, ws.EventSessionRemoved, ws.SessionEvent{Name: name})
	return nil
}

// Snapshot returns the pane's rendered buffer at the given geometry for
// unattached previews. Captures are cached briefly since every tab polls.
func (s *SessionService) Snapshot(ctx context.Context, name string, rows, cols uint16) (string, error) {
	if content, ok := s.cache.Get(name, rows, cols); ok {
		return content, nil
	}

	// Concurrent polls for the same pane at the same geometry collapse
	// into a single capture.
	key := fmt.Sprintf("%s/%dx%d", name, rows, cols)
	content, err, _ := s.captures.Do(key, func() (any, error) {
		return s.capture(ctx, name, rows, cols)
	})
	if err != nil {
		return "", err
	}
	return content.(string), nil
}

func (s *SessionService) capture(ctx context.Context, name string, rows, cols uint16) (string, error) {
	has, err := s.term.Has(ctx, name)
	if err != nil {
		return "", err
	}
	if !has {
		return "", fmt.Errorf("pane %s: %w", name, domain.ErrNotFound)
	}

	if err := s.term.Resize(ctx, name, rows, cols); err != nil {
		s.log.Debug("snapshot resize failed", "name", name, "error", err)
	}
	content, err := s.term.Capture(ctx, name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrProcessFailure, err)
	}

	s.cache.Set(name, rows, cols, content)
	return content, nil
}

// Directories lists the folders offered by the directory picker: a fixed
// set of roots plus the non-hidden children of the git root.
func (s *SessionService) Directories(ctx context.Context) []string {
	dirs := []string{"/", "/home", s.termCfg.DefaultWorkdir}
	entries, err := os.ReadDir(s.termCfg.GitRoot)
	if err != nil {
		return dirs
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, filepath.Join(s.termCfg.GitRoot, e.Name()))
		}
	}
	return dirs
}

// Resumable lists past agent conversations startable in workdir.
func (s *SessionService) Resumable(ctx context.Context, workdir string) ([]session.Resumable, error) {
	if workdir == "" {
		workdir = s.termCfg.DefaultWorkdir
	}
	return s.resumables(workdir)
}

// SelectedFolder returns the persisted dashboard folder scope.
func (s *SessionService) SelectedFolder(ctx context.Context) (string, error) {
	scope, err := s.store.GetSetting(ctx, selectedFolderKey)
	if errors.Is(err, domain.ErrNotFound) {
		return "/", nil
	}
	if err != nil {
		return "", err
	}
	if scope == "" {
		return "/", nil
	}
	return scope, nil
}

// SetSelectedFolder persists the dashboard folder scope.
func (s *SessionService) SetSelectedFolder(ctx context.Context, folder string) error {
	if folder == "" {
		folder = "/"
	}
	return s.store.SetSetting(ctx, selectedFolderKey, folder)
}
