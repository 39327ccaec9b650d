package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/spigell/grant-interviewer/internal/interview"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	published []published
	err       error
	closed    bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestInterviewCompletedPublishesExport(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, "grants", zap.NewNop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	result := &interview.Export{
		SessionID:      "s1",
		Answers:        map[string]interview.ExportedAnswer{"problem": {AnswerText: "no internet", QualityScore: 8}},
		AggregateScore: 8,
		QuestionsAsked: 12,
		CompletedAt:    at,
	}

	if err := p.InterviewCompleted(context.Background(), result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ch.published) != 1 {
		t.Fatalf("expected one message, got %d", len(ch.published))
	}
	got := ch.published[0]
	if got.exchange != "grants" || got.key != RoutingCompleted {
		t.Fatalf("unexpected destination %s/%s", got.exchange, got.key)
	}
	if got.msg.DeliveryMode != amqp.Persistent || got.msg.ContentType != "application/json" || got.msg.MessageId == "" {
		t.Fatalf("unexpected message properties: %+v", got.msg)
	}
	if got.msg.Headers["session_id"] != "s1" {
		t.Fatalf("unexpected headers: %v", got.msg.Headers)
	}

	var event Event
	if err := json.Unmarshal(got.msg.Body, &event); err != nil {
		t.Fatalf("body is not json: %v", err)
	}
	if event.Type != RoutingCompleted || event.Payload.Answers["problem"].QualityScore != 8 || !event.OccurredAt.Equal(at) {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestInterviewCompletedWrapsPublishError(t *testing.T) {
	ch := &fakeChannel{err: amqp.ErrClosed}
	p := newPublisher(ch, DefaultExchange, zap.NewNop())

	err := p.InterviewCompleted(context.Background(), &interview.Export{SessionID: "s1"})
	if !errors.Is(err, amqp.ErrClosed) {
		t.Fatalf("expected wrapped ErrClosed, got %v", err)
	}
}

func TestCloseClosesChannel(t *testing.T) {
	ch := &fakeChannel{}
	if err := newPublisher(ch, DefaultExchange, nil).Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ch.closed {
		t.Fatalf("expected channel to be closed")
	}
}
