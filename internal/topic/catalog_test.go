package topic

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalogOrderAndThresholds(t *testing.T) {
	c := Default()

	expected := []string{
		"problem", "goal", "target_audience", "methodology", "budget", "team",
		"partners", "risks", "results", "sustainability", "timeline", "uniqueness",
	}

	topics := c.List()
	if len(topics) != len(expected) {
		t.Fatalf("expected %d topics, got %d", len(expected), len(topics))
	}

	for i, id := range expected {
		tp := topics[i]
		if tp.ID != id {
			t.Fatalf("topic %d: expected %q, got %q", i, id, tp.ID)
		}
		if tp.MaxQuestions != DefaultMaxQuestions {
			t.Fatalf("topic %s: expected max questions %d, got %d", id, DefaultMaxQuestions, tp.MaxQuestions)
		}
		want := ImportantThreshold
		if tp.Critical() {
			want = CriticalThreshold
		}
		if tp.MinimumQualityScore != want {
			t.Fatalf("topic %s: expected threshold %d, got %d", id, want, tp.MinimumQualityScore)
		}
		if len(tp.FallbackQuestions) == 0 {
			t.Fatalf("topic %s has no fallback questions", id)
		}
	}

	problem, err := c.Get("problem")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !problem.Critical() || problem.MinimumQualityScore != 7 {
		t.Fatalf("problem must be critical with threshold 7, got %+v", problem)
	}

	if c.OnlyOptionalFrom(0) {
		t.Fatalf("default catalog must contain critical topics")
	}
	if !c.OnlyOptionalFrom(c.Len()) {
		t.Fatalf("empty tail must count as optional")
	}
}

func TestGetUnknownTopic(t *testing.T) {
	_, err := Default().Get("weather")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListReturnsCopy(t *testing.T) {
	c := Default()
	topics := c.List()
	topics[0].ID = "mutated"

	if got := c.List()[0].ID; got != "problem" {
		t.Fatalf("catalog mutated through List: %q", got)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		topics []Topic
	}{
		{name: "empty", topics: nil},
		{name: "missing id", topics: []Topic{{DisplayName: "x"}}},
		{name: "duplicate", topics: []Topic{{ID: "a"}, {ID: "a"}}},
		{name: "bad priority", topics: []Topic{{ID: "a", Priority: "nice-to-have"}}},
		{name: "threshold out of range", topics: []Topic{{ID: "a", MinimumQualityScore: 11}}},
		{name: "negative max", topics: []Topic{{ID: "a", MaxQuestions: -1}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tc.topics); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestFallbackQuestionClampsIndex(t *testing.T) {
	tp := Topic{ID: "a", DisplayName: "Alpha", FallbackQuestions: []string{"first?", "second?"}}

	if got := tp.FallbackQuestion(0); got != "first?" {
		t.Fatalf("unexpected opening question %q", got)
	}
	if got := tp.FallbackQuestion(7); got != "second?" {
		t.Fatalf("expected last question to be reused, got %q", got)
	}

	empty := Topic{ID: "b", DisplayName: "Budget"}
	if got := empty.FallbackQuestion(0); got != "Tell me more about budget." {
		t.Fatalf("unexpected generic question %q", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topics.yaml")
	data := []byte(`topics:
  - id: idea
    priority: critical
    max_questions: 2
    fallback_questions: ["What is the idea?"]
  - id: money
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	idea, _ := c.At(0)
	if idea.MaxQuestions != 2 || idea.MinimumQualityScore != CriticalThreshold {
		t.Fatalf("unexpected idea topic: %+v", idea)
	}

	money, ok := c.At(1)
	if !ok || money.Priority != PriorityImportant || money.DisplayName != "money" {
		t.Fatalf("defaults not applied: %+v", money)
	}

	if _, ok := c.At(2); ok {
		t.Fatalf("expected At past the end to fail")
	}
}
