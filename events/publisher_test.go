package events

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/willpeters615/student-swap-sub000/entity"
)

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	p.MessageCreated(context.Background(), &entity.Message{ID: 1, ConversationID: 2})
	p.ConversationCleared(context.Background(), 2, 1)
	if err := p.Close(); err != nil {
		t.Fatalf("Close on nil publisher: %v", err)
	}
}

func TestNewPublisherRequiresBrokers(t *testing.T) {
	if p := NewPublisher(nil, "topic", zap.NewNop().Sugar()); p != nil {
		t.Fatalf("expected nil publisher without brokers")
	}
	if p := NewPublisher([]string{"localhost:9092"}, "topic", zap.NewNop().Sugar()); p == nil {
		t.Fatalf("expected publisher with brokers")
	}
}
