package interview_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/grant-interviewer/internal/ai"
	"github.com/spigell/grant-interviewer/internal/evaluator"
	"github.com/spigell/grant-interviewer/internal/interview"
	"github.com/spigell/grant-interviewer/internal/question"
	"github.com/spigell/grant-interviewer/internal/store"
	"github.com/spigell/grant-interviewer/internal/topic"
)

// slowScorer times out the first evaluations it is asked for and scores 9 afterwards.
type slowScorer struct {
	mu          sync.Mutex
	timeouts    int
	evaluations int
}

func (s *slowScorer) Complete(ctx context.Context, _ string, schema ai.Schema) (map[string]any, error) {
	if _, ok := schema.Properties["question"]; ok {
		return map[string]any{"question": "Tell me more?"}, nil
	}

	s.mu.Lock()
	s.evaluations++
	timeout := s.evaluations <= s.timeouts
	s.mu.Unlock()

	if timeout {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return map[string]any{"score": 9}, nil
}

func TestEvaluatorTimeoutsFailOpenAndAdvance(t *testing.T) {
	completer := &slowScorer{timeouts: 2}
	policy := ai.Policy{Attempts: 2, Timeout: 10 * time.Millisecond}

	m, err := interview.NewManager(interview.Config{}, interview.Deps{
		Catalog:   topic.Default(),
		Evaluator: evaluator.New(completer, evaluator.Options{Policy: policy}, zap.NewNop()),
		Questions: question.New(completer, question.Options{Policy: policy}, zap.NewNop()),
		Store:     store.NewMemory(),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx := context.Background()
	if _, err := m.StartInterview(ctx, "s1"); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}

	action, err := m.SubmitAnswer(ctx, "s1", "we help rural schools")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	if completer.evaluations != 2 {
		t.Fatalf("expected exactly 2 evaluation attempts, got %d", completer.evaluations)
	}
	if action.Kind != interview.ActionAskQuestion {
		t.Fatalf("expected the next question, got %+v", action)
	}

	report, err := m.Status(ctx, "s1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if report.CurrentTopic != "goal" || report.QuestionsAskedThisTopic != 1 {
		t.Fatalf("expected advance to goal, got %+v", report)
	}
}
