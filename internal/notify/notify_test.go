package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubSender struct {
	name  string
	err   error
	calls []string
}

func (s *stubSender) Send(_ context.Context, title, message string) error {
	s.calls = append(s.calls, title+"|"+message)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{"stop_updated", " trailing_activated "}, discard())

	ctx := context.Background()
	_ = n.Notify(ctx, "stop_updated", "t", "m")
	_ = n.Notify(ctx, "trailing_activated", "t", "m")
	_ = n.Notify(ctx, "position_tracked", "t", "m")
	_ = n.NotifyAll(ctx, "started", "m")

	if len(s.calls) != 3 {
		t.Errorf("calls = %v, want 3", s.calls)
	}
}

func TestNotifier_EmptyFilterForwardsAll(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, nil, discard())
	_ = n.Notify(context.Background(), "anything", "t", "m")
	if len(s.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(s.calls))
	}
}

func TestNotifier_OneFailingSender(t *testing.T) {
	boom := errors.New("boom")
	bad := &stubSender{name: "bad", err: boom}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), "stop_updated", "t", "m")
	if !errors.Is(err, boom) {
		t.Errorf("Notify() error = %v, want wrapped boom", err)
	}
	if len(good.calls) != 1 {
		t.Error("good sender skipped after a failure")
	}
	if n.Enabled() != true {
		t.Error("Enabled() = false with senders")
	}
}

func TestDiscordSender_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).Send(context.Background(), "Trailing stop updated", "BTCUSDT Long"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !strings.Contains(got["content"], "**Trailing stop updated**") || !strings.Contains(got["content"], "BTCUSDT Long") {
		t.Errorf("content = %q", got["content"])
	}
}

func TestTelegramSender_Send(t *testing.T) {
	var path string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42").WithBaseURL(srv.URL + "/")
	if err := s.Send(context.Background(), "Title", "body"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if path != "/bottok/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if got["chat_id"] != "42" || got["text"] != "Title\nbody" {
		t.Errorf("payload = %v", got)
	}
}

func TestTelegramSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewTelegramSender("tok", "1").WithBaseURL(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("Send() error = %v", err)
	}
}
