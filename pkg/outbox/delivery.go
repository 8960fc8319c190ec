package outbox

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/agentbackend/pkg/metrics"
	"github.com/codeready-toolchain/agentbackend/pkg/models"
)

// DeadLetterNotifier is notified when an outbox row is dead-lettered.
// Satisfied by *pkg/notify.Service; scoped to an interface here so outbox
// has no compile-time dependency on the notify package's Slack client.
type DeadLetterNotifier interface {
	NotifyDeadLetter(ctx context.Context, outboxID, kind, destination, lastErr string)
}

// Delivery drains the outbox and performs signed HTTP POST deliveries,
// grounded on the mycelian-memory worker's lease-then-mark poll loop,
// adapted from vector-index operations to signed webhook HTTP calls.
type Delivery struct {
	store    *Store
	config   Config
	client   *http.Client
	notifier DeadLetterNotifier

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewDelivery builds a Delivery worker. cfg is defaulted in place. notifier
// may be nil (ops alerting is optional).
func NewDelivery(store *Store, cfg Config, notifier DeadLetterNotifier) *Delivery {
	cfg.applyDefaults()
	return &Delivery{
		store:    store,
		config:   cfg,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		notifier: notifier,
		stopCh:   make(chan struct{}),
	}
}

// Run polls Drain every interval until ctx is cancelled.
func (d *Delivery) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			if err := d.DrainOnce(ctx); err != nil {
				slog.Error("outbox drain cycle failed", "error", err)
			}
		}
	}
}

// Stop signals Run to exit. Safe to call multiple times.
func (d *Delivery) Stop() { d.stopOnce.Do(func() { close(d.stopCh) }) }

// DrainOnce leases one batch, delivers each row, and commits the
// resulting status transitions in the same transaction the batch was
// leased in.
func (d *Delivery) DrainOnce(ctx context.Context) error {
	tx, err := d.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := d.store.Drain(ctx, tx, d.config.BatchSize)
	if err != nil {
		return err
	}

	for _, row := range rows {
		d.deliverOne(ctx, tx, row)
	}

	return tx.Commit()
}

func (d *Delivery) deliverOne(ctx context.Context, tx *sqlx.Tx, msg *models.OutboxMessage) {
	log := slog.With("outbox_id", msg.ID, "kind", msg.Kind)

	target := d.config.BaseURL + msg.Destination
	if err := checkSSRF(target, d.config.SSRF); err != nil {
		log.Error("blocked destination", "destination", target)
		d.markDeadLetter(ctx, tx, msg, nil, ErrBlockedDestination.Error())
		return
	}

	start := time.Now()
	status, err := d.send(ctx, target, msg)
	metrics.OutboxDeliveryDurationSeconds.WithLabelValues(msg.Kind).Observe(time.Since(start).Seconds())

	switch {
	case err == nil && status >= 200 && status < 300:
		if mErr := d.store.MarkDelivered(ctx, tx, msg.ID, status); mErr != nil {
			log.Error("failed to mark delivered", "error", mErr)
		}
		metrics.OutboxDeliveredTotal.WithLabelValues(msg.Kind).Inc()
	case err == nil && status >= 400 && status < 500 && status != 408 && status != 429:
		// Terminal client error: retrying won't help.
		d.markDeadLetter(ctx, tx, msg, &status, fmt.Sprintf("http %d", status))
	default:
		d.retryOrDeadLetter(ctx, tx, msg, status, err, log)
	}
}

// markDeadLetter persists the terminal state, records the metric, and
// fires the optional ops alert in one place so every dead-letter path
// (SSRF block, terminal client error, retry exhaustion) stays consistent.
func (d *Delivery) markDeadLetter(ctx context.Context, tx *sqlx.Tx, msg *models.OutboxMessage, status *int, lastErr string) {
	log := slog.With("outbox_id", msg.ID, "kind", msg.Kind)
	if err := d.store.MarkDeadLetter(ctx, tx, msg.ID, status, lastErr); err != nil {
		log.Error("failed to mark dead letter", "error", err)
	}
	metrics.OutboxDeadLetteredTotal.WithLabelValues(msg.Kind).Inc()
	if d.notifier != nil {
		d.notifier.NotifyDeadLetter(ctx, msg.ID, msg.Kind, d.config.BaseURL+msg.Destination, lastErr)
	}
}

func (d *Delivery) retryOrDeadLetter(ctx context.Context, tx *sqlx.Tx, msg *models.OutboxMessage, status int, sendErr error, log *slog.Logger) {
	var statusPtr *int
	if status != 0 {
		statusPtr = &status
	}

	msgText := "network failure"
	if sendErr != nil {
		msgText = sendErr.Error()
	} else if status != 0 {
		msgText = fmt.Sprintf("http %d", status)
	}

	if msg.Attempts+1 >= d.config.MaxAttempts {
		d.markDeadLetter(ctx, tx, msg, statusPtr, msgText)
		return
	}

	delay := backoffDelay(msg.Attempts+1, d.config.BackoffBase, d.config.BackoffCap)
	if err := d.store.MarkRetry(ctx, tx, msg.ID, statusPtr, msgText, delay); err != nil {
		log.Error("failed to mark retry", "error", err)
	}
}

// send performs the signed HTTP POST. Returns the response status code
// (0 if the request never completed) and any transport-level error.
func (d *Delivery) send(ctx context.Context, target string, msg *models.OutboxMessage) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(msg.Body))
	if err != nil {
		return 0, err
	}

	timestamp := time.Now().Unix()
	signature := sign(d.config.Secret, timestamp, msg.Body)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hook-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-Hook-Signature", signature)
	req.Header.Set("X-Hook-Idempotency", msg.IdempotencyKey)
	if d.config.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.config.BearerToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// sign computes hex HMAC-SHA256 over "timestamp.body", the signature the
// receiving gateway recomputes to authenticate the delivery.
func sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// backoffDelay computes base*2^(n-1) plus uniform jitter in [0, base), with
// the result capped at cap. The job processor's own retry backoff uses the
// same shape.
func backoffDelay(attempts int, base, cap time.Duration) time.Duration {
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= cap {
			d = cap
			break
		}
	}
	jitter := time.Duration(rand.Int64N(int64(base)))
	total := d + jitter
	if total > cap {
		total = cap
	}
	return total
}
