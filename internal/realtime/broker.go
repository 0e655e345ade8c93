package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-progress-api/internal/models"
)

// RedisBroker distributes record changes between API instances over Redis
// pub/sub. Every instance listens on the same channel and feeds its own Hub,
// including the instance that published the change.
type RedisBroker struct {
	client  *redis.Client
	channel string
	local   func(models.RecordChange)
	logger  *zap.Logger
}

// NewRedisBroker constructs a broker on channel. local, when set, receives a
// change directly whenever it cannot be published, so streams served by this
// instance stay current while Redis is unreachable.
func NewRedisBroker(client *redis.Client, channel string, local func(models.RecordChange), logger *zap.Logger) *RedisBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{client: client, channel: channel, local: local, logger: logger}
}

// Publish sends change to every listening instance.
func (b *RedisBroker) Publish(ctx context.Context, change models.RecordChange) error {
	payload, err := encodeChange(change)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		if b.local != nil {
			b.local(change)
		}
		return fmt.Errorf("redis publish %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe joins the channel and returns once Redis confirmed the
// subscription, so no change published afterwards is missed.
func (b *RedisBroker) Subscribe(ctx context.Context) (*Subscription, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("listening for record changes", zap.String("channel", b.channel))
	return &Subscription{sub: sub, logger: b.logger}, nil
}

// Subscription is an established listener on the change channel.
type Subscription struct {
	sub    *redis.PubSub
	logger *zap.Logger
}

// Forward hands every change to handle until ctx is cancelled, then closes
// the subscription.
func (s *Subscription) Forward(ctx context.Context, handle func(models.RecordChange)) {
	defer s.sub.Close()
	messages := s.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			change, err := decodeChange(msg.Payload)
			if err != nil {
				s.logger.Warn("discarding malformed record change", zap.Error(err))
				continue
			}
			handle(change)
		}
	}
}

func encodeChange(change models.RecordChange) (string, error) {
	payload, err := json.Marshal(change)
	if err != nil {
		return "", fmt.Errorf("marshal record change: %w", err)
	}
	return string(payload), nil
}

func decodeChange(payload string) (models.RecordChange, error) {
	var change models.RecordChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return change, fmt.Errorf("unmarshal record change: %w", err)
	}
	if change.StudentID == "" && change.CourseID == "" {
		return change, fmt.Errorf("record change %q carries no student or course", change.RecordID)
	}
	return change, nil
}
