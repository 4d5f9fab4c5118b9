package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stencil/internal/config"
)

const (
	userAgent       = "Stencil/dev"
	defaultTimeout  = 10 * time.Second
	maxErrorExcerpt = 2048
	priorityDefault = "default"
	priorityHigh    = "high"
)

// Service publishes experiment lifecycle notifications.
type Service interface {
	NotifyRunStarted(ctx context.Context, runID, dataset string) error
	NotifyRunCompleted(ctx context.Context, runID, outcome string, epochs int, valAccuracy float64) error
	NotifyRunFailed(ctx context.Context, runID string, cause error) error
	NotifyDatasetBuilt(ctx context.Context, name string, examples int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service from configuration. An empty
// ntfy topic yields a no-op service.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return &noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return &noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ntfyService{
		topic:  topic,
		client: &http.Client{Timeout: timeout},
	}
}

type ntfyService struct {
	topic  string
	client *http.Client
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

func (s *ntfyService) NotifyRunStarted(ctx context.Context, runID, dataset string) error {
	return s.send(ctx, payload{
		title:   "Stencil - Training Started",
		message: fmt.Sprintf("Run %s training on dataset %s", runID, dataset),
		tags:    []string{"stencil", "hourglass_flowing_sand"},
	})
}

func (s *ntfyService) NotifyRunCompleted(ctx context.Context, runID, outcome string, epochs int, valAccuracy float64) error {
	return s.send(ctx, payload{
		title: "Stencil - Training Complete",
		message: fmt.Sprintf("Run %s finished (%s) after %d epochs, validation accuracy %.1f%%",
			runID, outcome, epochs, valAccuracy*100),
		tags: []string{"stencil", "white_check_mark"},
	})
}

func (s *ntfyService) NotifyRunFailed(ctx context.Context, runID string, cause error) error {
	return s.send(ctx, payload{
		title:    "Stencil - Training Failed",
		message:  fmt.Sprintf("Run %s failed: %v", runID, cause),
		tags:     []string{"stencil", "rotating_light"},
		priority: priorityHigh,
	})
}

func (s *ntfyService) NotifyDatasetBuilt(ctx context.Context, name string, examples int) error {
	return s.send(ctx, payload{
		title:   "Stencil - Dataset Ready",
		message: fmt.Sprintf("Dataset %s built with %d examples", name, examples),
		tags:    []string{"stencil", "package"},
	})
}

func (s *ntfyService) TestNotification(ctx context.Context) error {
	return s.send(ctx, payload{
		title:   "Stencil - Test",
		message: "Test notification from stencil",
		tags:    []string{"stencil"},
	})
}

func (s *ntfyService) send(ctx context.Context, p payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.topic, strings.NewReader(p.message))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if p.title != "" {
		req.Header.Set("Title", p.title)
	}
	if len(p.tags) > 0 {
		req.Header.Set("Tags", strings.Join(p.tags, ","))
	}
	if p.priority != "" && p.priority != priorityDefault {
		req.Header.Set("Priority", p.priority)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
		excerpt := strings.TrimSpace(string(body))
		if excerpt == "" {
			return fmt.Errorf("notification rejected: %s", resp.Status)
		}
		return fmt.Errorf("notification rejected: %s: %s", resp.Status, excerpt)
	}
	return nil
}

type noopService struct{}

func (*noopService) NotifyRunStarted(context.Context, string, string) error {
	return nil
}

func (*noopService) NotifyRunCompleted(context.Context, string, string, int, float64) error {
	return nil
}

func (*noopService) NotifyRunFailed(context.Context, string, error) error {
	return nil
}

func (*noopService) NotifyDatasetBuilt(context.Context, string, int) error {
	return nil
}

func (*noopService) TestNotification(context.Context) error {
	return nil
}
