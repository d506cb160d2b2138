// Package events publishes messaging-domain events to kafka for
// downstream consumers (notifications, analytics). Publishing is
// strictly after-the-fact: persistence never waits on the bus, and an
// unconfigured broker list yields a no-op publisher.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/willpeters615/student-swap-sub000/entity"
)

const (
	EventMessageCreated      = "message.created"
	EventConversationCleared = "conversation.cleared"
)

type envelope struct {
	Event      string      `json:"event"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

type Publisher struct {
	writer *kafkago.Writer
	log    *zap.SugaredLogger
}

// NewPublisher returns a kafka-backed publisher, or nil when no brokers
// are configured. A nil *Publisher is valid: every method is a no-op.
func NewPublisher(brokers []string, topic string, log *zap.SugaredLogger) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		Async:        true,
	}
	return &Publisher{writer: w, log: log}
}

func (p *Publisher) MessageCreated(ctx context.Context, msg *entity.Message) {
	if p == nil {
		return
	}
	p.publish(ctx, msg.ConversationID, envelope{
		Event:      EventMessageCreated,
		OccurredAt: time.Now(),
		Payload:    msg,
	})
}

func (p *Publisher) ConversationCleared(ctx context.Context, conversationID, clearedBy uint) {
	if p == nil {
		return
	}
	p.publish(ctx, conversationID, envelope{
		Event:      EventConversationCleared,
		OccurredAt: time.Now(),
		Payload: map[string]uint{
			"conversation_id": conversationID,
			"cleared_by":      clearedBy,
		},
	})
}

func (p *Publisher) publish(ctx context.Context, conversationID uint, env envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		p.log.Errorw("events: marshal failed", "event", env.Event, "error", err)
		return
	}
	// keyed by conversation so one thread's events stay ordered per partition
	msg := kafkago.Message{
		Key:   []byte(strconv.FormatUint(uint64(conversationID), 10)),
		Value: b,
		Time:  env.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Errorw("events: publish failed", "event", env.Event, "error", err)
	}
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
