package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stencil/internal/notifications"
	"stencil/internal/testsupport"
)

type captured struct {
	body     string
	title    string
	tags     string
	priority string
	ua       string
}

func newCapturingService(t *testing.T, status int) (notifications.Service, *[]captured) {
	t.Helper()

	var seen []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		seen = append(seen, captured{
			body:     string(body),
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			ua:       r.Header.Get("User-Agent"),
		})
		if status >= 300 {
			http.Error(w, "topic limit exceeded", status)
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL + "/stencil-tests"
	return notifications.NewService(cfg), &seen
}

func TestNotifyRunCompletedSendsHeaders(t *testing.T) {
	svc, seen := newCapturingService(t, http.StatusOK)

	err := svc.NotifyRunCompleted(context.Background(), "run-42", "converged", 17, 0.987)
	if err != nil {
		t.Fatalf("NotifyRunCompleted: %v", err)
	}
	if len(*seen) != 1 {
		t.Fatalf("expected 1 request, got %d", len(*seen))
	}
	got := (*seen)[0]
	if got.title != "Stencil - Training Complete" {
		t.Errorf("unexpected title %q", got.title)
	}
	if !strings.Contains(got.body, "run-42") || !strings.Contains(got.body, "converged") {
		t.Errorf("message missing run details: %q", got.body)
	}
	if !strings.Contains(got.body, "17 epochs") {
		t.Errorf("message missing epoch count: %q", got.body)
	}
	if !strings.Contains(got.body, "98.7%") {
		t.Errorf("message missing accuracy: %q", got.body)
	}
	if !strings.Contains(got.tags, "white_check_mark") {
		t.Errorf("unexpected tags %q", got.tags)
	}
	if got.priority != "" {
		t.Errorf("default priority should omit header, got %q", got.priority)
	}
	if got.ua != "Stencil/dev" {
		t.Errorf("unexpected user agent %q", got.ua)
	}
}

func TestNotifyRunFailedUsesHighPriority(t *testing.T) {
	svc, seen := newCapturingService(t, http.StatusOK)

	err := svc.NotifyRunFailed(context.Background(), "run-7", errors.New("training diverged"))
	if err != nil {
		t.Fatalf("NotifyRunFailed: %v", err)
	}
	got := (*seen)[0]
	if got.priority != "high" {
		t.Errorf("expected high priority, got %q", got.priority)
	}
	if !strings.Contains(got.body, "training diverged") {
		t.Errorf("message missing cause: %q", got.body)
	}
}

func TestNotifyDatasetBuilt(t *testing.T) {
	svc, seen := newCapturingService(t, http.StatusOK)

	if err := svc.NotifyDatasetBuilt(context.Background(), "squares-v1", 2000); err != nil {
		t.Fatalf("NotifyDatasetBuilt: %v", err)
	}
	got := (*seen)[0]
	if !strings.Contains(got.body, "squares-v1") || !strings.Contains(got.body, "2000") {
		t.Errorf("message missing dataset details: %q", got.body)
	}
}

func TestSendReportsServerRejection(t *testing.T) {
	svc, _ := newCapturingService(t, http.StatusTooManyRequests)

	err := svc.TestNotification(context.Background())
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if !strings.Contains(err.Error(), "topic limit exceeded") {
		t.Errorf("expected body excerpt in error, got %v", err)
	}
}

func TestNewServiceWithoutTopicIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = "   "

	svc := notifications.NewService(cfg)
	if err := svc.NotifyRunStarted(context.Background(), "run-1", "squares-v1"); err != nil {
		t.Fatalf("noop NotifyRunStarted: %v", err)
	}
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop TestNotification: %v", err)
	}

	if svc := notifications.NewService(nil); svc == nil {
		t.Fatal("nil config should still produce a service")
	}
}

func TestSendHonorsContext(t *testing.T) {
	svc, _ := newCapturingService(t, http.StatusOK)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := svc.TestNotification(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
