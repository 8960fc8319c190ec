// Package notify posts operational alerts to Slack when the job queue or
// outbox shows signs of trouble: a dead-lettered webhook, or a job kind
// backlogged past a configured threshold. This is visibility for the
// engineer running the service, not a feature the work-item/agent domain
// itself needs.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/codeready-toolchain/agentbackend/pkg/slack"
)

// Config holds the parameters needed to construct a Service.
type Config struct {
	Token              string
	Channel            string
	BacklogThreshold   int
}

// Service posts ops alerts to Slack. Nil-safe: every method is a no-op
// when the service itself is nil, so non-critical notification paths never
// need a nil check at the call site.
type Service struct {
	client           *slack.Client
	backlogThreshold int
	logger           *slog.Logger
}

// NewService builds a Service, or returns nil if Token or Channel is empty
// (ops alerting is optional — its absence must never block the pipeline it
// watches).
func NewService(cfg Config) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	threshold := cfg.BacklogThreshold
	if threshold <= 0 {
		threshold = 100
	}
	return &Service{
		client:           slack.NewClient(cfg.Token, cfg.Channel),
		backlogThreshold: threshold,
		logger:           slog.Default().With("component", "notify-service"),
	}
}

// NewServiceWithClient builds a Service backed by a pre-built slack.Client,
// for tests that point the client at a mock API server.
func NewServiceWithClient(client *slack.Client, backlogThreshold int) *Service {
	if backlogThreshold <= 0 {
		backlogThreshold = 100
	}
	return &Service{
		client:           client,
		backlogThreshold: backlogThreshold,
		logger:           slog.Default().With("component", "notify-service"),
	}
}

// NotifyDeadLetter posts an alert when an outbox row exhausts its retry
// budget and is dead-lettered. Repeated dead-letters for the same
// (kind, destination) thread under the first alert instead of each posting
// a new top-level message.
func (s *Service) NotifyDeadLetter(ctx context.Context, outboxID, kind, destination, lastErr string) {
	if s == nil {
		return
	}
	text := fmt.Sprintf(":rotating_light: webhook dead-lettered\nkind: %s\ndestination: %s\nid: %s\nerror: %s",
		kind, destination, outboxID, lastErr)
	fingerprint := fmt.Sprintf("webhook dead-lettered kind:%s destination:%s", kind, destination)
	s.post(ctx, text, fingerprint)
}

// NotifyBacklog posts an alert when a job kind's pending count reaches or
// exceeds the configured backlog threshold. Repeated backlog alerts for the same kind
// thread under the first alert rather than each posting a new top-level
// message, so a channel doesn't fill up with one message per poll tick
// while a single backlog persists.
func (s *Service) NotifyBacklog(ctx context.Context, kind string, pending int) {
	if s == nil {
		return
	}
	if pending < s.backlogThreshold {
		return
	}
	text := fmt.Sprintf(":warning: job backlog\nkind: %s\npending: %d (threshold %d)", kind, pending, s.backlogThreshold)
	fingerprint := fmt.Sprintf("job backlog kind:%s", kind)
	s.post(ctx, text, fingerprint)
}

// post sends text as a new top-level message, unless a prior alert matching
// fingerprint was posted within the last 24 hours, in which case text is
// posted as a threaded reply to it. The fingerprint lookup is best-effort:
// a lookup failure degrades to a top-level post rather than dropping the
// alert.
func (s *Service) post(ctx context.Context, text, fingerprint string) {
	threadTS, err := s.client.FindMessageByFingerprint(ctx, fingerprint)
	if err != nil {
		s.logger.Warn("failed to search for existing alert thread, posting new message", "error", err)
		threadTS = ""
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil),
	}
	if err := s.client.PostMessage(ctx, blocks, threadTS, 5*time.Second); err != nil {
		s.logger.Error("failed to post ops alert", "error", err)
	}
}
