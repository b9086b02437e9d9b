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

type fakeSender struct {
	name   string
	err    error
	titles []string
}

func (f *fakeSender) Send(ctx context.Context, title, message string) error {
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"risk_state"}, testLogger())

	if err := n.Notify(context.Background(), "snapshot", "Snapshot", "ignored"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := n.Notify(context.Background(), "risk_state", "Risk", "delivered"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(s.titles) != 1 || s.titles[0] != "Risk" {
		t.Errorf("delivered titles = %v, want [Risk]", s.titles)
	}
}

func TestNotifyEmptyEventListAllowsAll(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	if err := n.Notify(context.Background(), "anything", "T", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.titles) != 1 {
		t.Errorf("delivered = %d, want 1", len(s.titles))
	}
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"risk_state"}, testLogger())

	if err := n.NotifyAll(context.Background(), "Urgent", "m"); err != nil {
		t.Fatalf("NotifyAll: %v", err)
	}
	if len(s.titles) != 1 {
		t.Errorf("delivered = %d, want 1", len(s.titles))
	}
}

func TestDispatchCollectsSenderErrors(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "T", "m")
	if err == nil {
		t.Fatal("expected combined error")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error should name the failed sender: %v", err)
	}
	if len(good.titles) != 1 {
		t.Error("failure of one sender should not block the others")
	}
}

func TestDiscordSenderPayload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	if err := d.Send(context.Background(), "Risk state: WARNING", "drawdown 12%"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got["username"] != "whalecopy" {
		t.Errorf("username = %q", got["username"])
	}
	if !strings.Contains(got["content"], "**Risk state: WARNING**") {
		t.Errorf("content = %q", got["content"])
	}
}

func TestDiscordSenderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	if err := d.Send(context.Background(), "T", "m"); err == nil {
		t.Error("expected error for non-2xx status")
	}
}
