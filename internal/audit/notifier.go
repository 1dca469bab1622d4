package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/recordvault/audittrail/internal/canonical"
)

// NotificationKind distinguishes workflow notifications.
type NotificationKind string

const (
	// NotifyEscalation: an error/critical entry was validated and needs a
	// compliance reviewer.
	NotifyEscalation NotificationKind = "escalation"
	// NotifyReview: an entry was flagged for review.
	NotifyReview NotificationKind = "review_requested"
)

// Notifier delivers workflow notifications to compliance reviewers.
type Notifier interface {
	Notify(ctx context.Context, kind NotificationKind, e *AuditEntry) error
	Close() error
}

// NopNotifier discards notifications; used when no transport is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, kind NotificationKind, e *AuditEntry) error {
	return nil
}

func (NopNotifier) Close() error { return nil }

// KafkaNotifierConfig contains configurable parameters for the Kafka
// notifier.
type KafkaNotifierConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic is the topic notifications are written to.
	Topic string

	// MaxAttempts is how many times a publish is retried on transient
	// error. Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout. Defaults to 10s if zero.
	WriteTimeout time.Duration
}

// KafkaNotifier publishes workflow notifications as canonical JSON
// envelopes. Messages are keyed by tenant id with a hash balancer so all
// notifications for one tenant land on the same partition and preserve
// order.
type KafkaNotifier struct {
	writer      *kafka.Writer
	maxAttempts int
}

// NewKafkaNotifier constructs a KafkaNotifier.
func NewKafkaNotifier(cfg KafkaNotifierConfig) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})

	return &KafkaNotifier{writer: w, maxAttempts: cfg.MaxAttempts}, nil
}

// Notify implements Notifier by producing a canonical notification envelope
// keyed by tenant.
func (n *KafkaNotifier) Notify(ctx context.Context, kind NotificationKind, e *AuditEntry) error {
	envelope := map[string]interface{}{
		"notificationId": NewUUID(),
		"kind":           string(kind),
		"entryId":        e.ID,
		"tenantId":       e.TenantID,
		"eventType":      string(e.EventType),
		"severity":       string(e.Severity),
		"sequenceRef":    e.SequenceRef,
		"contentHash":    e.ContentHash,
		"ts":             time.Now().UTC().Format(time.RFC3339Nano),
	}
	value, err := canonical.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("canonicalize notification: %w", err)
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		msg := kafka.Message{
			Key:   []byte(e.TenantID),
			Value: value,
			Time:  time.Now().UTC(),
		}
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := n.writer.WriteMessages(attemptCtx, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("notify failed after %d attempts: %w", n.maxAttempts, lastErr)
}

// Close shuts down the underlying writer.
func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
