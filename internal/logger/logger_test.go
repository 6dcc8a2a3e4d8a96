package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/chriopter/sandboxer/internal/config"
)

func TestNew(t *testing.T) {
	l, closer := New(config.Logging{Level: "debug", Service: "test-svc"})
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	l, closer := New(config.Logging{Level: "debug", Service: "test-svc", Async: true})
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	closer.Close()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestAsyncHandlerDrains(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	h := NewAsyncHandler(inner, 16)

	l := slog.New(h)
	l.Info("hello", "k", "v")
	h.Close()

	if !bytes.Contains(buf.Bytes(), []byte("hello")) {
		t.Errorf("expected drained record, got %q", buf.String())
	}
}

func TestAsyncHandlerKeepsDerivedAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	h := NewAsyncHandler(inner, 16)

	// New attaches "service" after wrapping; the drained record must
	// still carry it.
	l := slog.New(h).With("service", "sandboxer")
	l.Info("hello")
	h.Close()

	if !bytes.Contains(buf.Bytes(), []byte(`"service":"sandboxer"`)) {
		t.Errorf("expected service attr on drained record, got %q", buf.String())
	}
}

func TestAsyncHandlerDropsWhenFull(t *testing.T) {
	// A blocked inner handler with a tiny channel forces drops.
	block := make(chan struct{})
	inner := blockingHandler{release: block}
	h := NewAsyncHandler(inner, 1)

	l := slog.New(h)
	for range 64 {
		l.Info("spam")
	}

	// The drain goroutine can hold one record and the queue one more.
	if h.DroppedCount() == 0 {
		t.Error("expected dropped records")
	}
	close(block)
	h.Close()
}

type blockingHandler struct {
	release chan struct{}
}

func (b blockingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (b blockingHandler) Handle(_ context.Context, _ slog.Record) error {
	<-b.release
	return nil
}

func (b blockingHandler) WithAttrs([]slog.Attr) slog.Handler { return b }
func (b blockingHandler) WithGroup(string) slog.Handler      { return b }
