package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/chriopter/sandboxer/internal/adapter/claudecli"
	sbhttp "github.com/chriopter/sandboxer/internal/adapter/http"
	sbnats "github.com/chriopter/sandboxer/internal/adapter/nats"
	"github.com/chriopter/sandboxer/internal/adapter/otel"
	"github.com/chriopter/sandboxer/internal/adapter/postgres"
	"github.com/chriopter/sandboxer/internal/adapter/ristretto"
	"github.com/chriopter/sandboxer/internal/adapter/tmux"
	"github.com/chriopter/sandboxer/internal/adapter/ws"
	"github.com/chriopter/sandboxer/internal/config"
	"github.com/chriopter/sandboxer/internal/domain/session"
	"github.com/chriopter/sandboxer/internal/logger"
	"github.com/chriopter/sandboxer/internal/port/agentrunner"
	"github.com/chriopter/sandboxer/internal/port/messagequeue"
	"github.com/chriopter/sandboxer/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"max_sessions", cfg.Terminal.MaxSessions,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownTel, err := otel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTel(sctx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	store := postgres.NewStore(pool)

	cache, err := ristretto.New(cfg.Snapshot.MaxEntries, cfg.Snapshot.TTL)
	if err != nil {
		return fmt.Errorf("snapshot cache: %w", err)
	}
	defer cache.Close()

	term := tmux.NewBackend()
	hosts := tmux.NewHostManager(cfg.Terminal.KillGrace)
	defer hosts.Close()

	// --- Agent runner ---
	claudecli.Register()
	runner, err := agentrunner.New(cfg.Agent.Runner, map[string]string{
		"command":       cfg.Agent.Command,
		"system_prompt": cfg.Agent.SystemPrompt,
	})
	if err != nil {
		return fmt.Errorf("agent runner: %w", err)
	}

	// --- Services ---
	hub := ws.NewHub(log)
	sessionSvc := service.NewSessionService(store, term, hosts, hub, cache, metrics,
		cfg.Terminal, cfg.Agent, log)
	chatSvc := service.NewChatService(store, runner, hub, metrics, log)
	sessionSvc.SetTurnCanceler(chatSvc.CancelTurn)

	if err := sessionSvc.ReconcileOnStartup(ctx); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	// --- Scheduler ingress (optional) ---
	if cfg.NATS.URL != "" {
		queue, err := sbnats.Connect(ctx, cfg.NATS.URL, log)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()

		unsub, err := queue.Subscribe(ctx, messagequeue.SubjectSessionCreate,
			createHandler(ctx, sessionSvc, queue, log))
		if err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		defer unsub()
		log.Info("scheduler ingress connected", "url", cfg.NATS.URL)
	}

	// --- HTTP ---
	termHandler := ws.NewTerminalHandler(hosts, log)
	handlers := sbhttp.NewHandlers(sessionSvc, chatSvc)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(sbhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(sbhttp.Logger(log))
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))

	r.Get("/ws/terminal", termHandler.HandleWS)
	r.Get("/ws/events", hub.HandleWS)
	sbhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-done:
		case <-gctx.Done():
			return nil
		}
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// createHandler processes session-create requests arriving from schedulers
// and announces the resulting session back on the queue.
func createHandler(ctx context.Context, sessions *service.SessionService,
	queue *sbnats.Queue, log *slog.Logger) messagequeue.Handler {
	return func(_ string, data []byte) error {
		var req session.CreateRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Warn("dropping malformed create request", "error", err)
			return nil
		}
		sess, err := sessions.Create(ctx, req)
		if err != nil {
			log.Error("queued session create failed", "type", req.Type, "error", err)
			return err
		}
		payload, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		return queue.Publish(ctx, messagequeue.SubjectSessionCreated, payload)
	}
}
