package monitoring

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/malwarebo/paygate/config"
	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/utils"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const (
	KindSecurityEvent = "security_event"
	KindAlert         = "alert"
)

type Notification struct {
	Kind      string      `json:"kind"`
	ID        string      `json:"id"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

type Channel interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Notifier fans notifications out to every channel in the background.
type Notifier struct {
	channels []Channel
	mu       sync.RWMutex
	wg       sync.WaitGroup
	timeout  time.Duration
}

func NewNotifier(channels ...Channel) *Notifier {
	return &Notifier{
		channels: channels,
		timeout:  10 * time.Second,
	}
}

func (n *Notifier) AddChannel(ch Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, ch)
}

func (n *Notifier) NotifySecurityEvent(ctx context.Context, event *models.SecurityEvent) {
	n.publish(ctx, &Notification{Kind: KindSecurityEvent, ID: event.ID, Payload: event, Timestamp: time.Now().UTC()})
}

func (n *Notifier) NotifyAlert(ctx context.Context, alert *models.Alert) {
	n.publish(ctx, &Notification{Kind: KindAlert, ID: alert.ID, Payload: alert, Timestamp: time.Now().UTC()})
}

func (n *Notifier) publish(ctx context.Context, note *Notification) {
	if n == nil {
		return
	}
	n.mu.RLock()
	channels := make([]Channel, len(n.channels))
	copy(channels, n.channels)
	n.mu.RUnlock()

	sendCtx := context.WithoutCancel(ctx)
	for _, ch := range channels {
		n.wg.Add(1)
		go func(ch Channel) {
			defer n.wg.Done()
			c, cancel := context.WithTimeout(sendCtx, n.timeout)
			defer cancel()
			if err := ch.Send(c, note); err != nil {
				utils.Error(c, "Failed to deliver notification", map[string]interface{}{
					"channel": ch.Name(),
					"kind":    note.Kind,
					"id":      note.ID,
					"error":   err,
				})
			}
		}(ch)
	}
}

// Flush blocks until every in-flight delivery has finished.
func (n *Notifier) Flush() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

// Close flushes pending deliveries and closes channels that hold connections.
func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}
	n.Flush()

	n.mu.RLock()
	defer n.mu.RUnlock()
	var firstErr error
	for _, ch := range n.channels {
		closer, ok := ch.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type LogChannel struct{}

func (LogChannel) Name() string { return "log" }

func (LogChannel) Send(ctx context.Context, n *Notification) error {
	utils.Info(ctx, "Notification published", map[string]interface{}{
		"kind": n.Kind,
		"id":   n.ID,
	})
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel writes notifications to a topic keyed by notification kind.
type KafkaChannel struct {
	writer messageWriter
}

func NewKafkaChannel(cfg config.KafkaConfig) *KafkaChannel {
	return &KafkaChannel{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (k *KafkaChannel) Name() string { return "kafka" }

func (k *KafkaChannel) Send(ctx context.Context, n *Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	msg := kafka.Message{
		Key:   []byte(n.Kind),
		Value: value,
		Time:  n.Timestamp,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "source-service", Value: []byte("paygate")},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write %s %s", n.Kind, n.ID)
	}
	return nil
}

func (k *KafkaChannel) Close() error {
	return k.writer.Close()
}
