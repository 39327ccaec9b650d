package interview

import (
	"fmt"
	"strings"
	"time"

	"github.com/spigell/grant-interviewer/internal/topic"
)

// ExportedAnswer is the best answer collected for a topic.
type ExportedAnswer struct {
	AnswerText   string `json:"answer_text" bson:"answer_text"`
	QualityScore int    `json:"quality_score" bson:"quality_score"`
}

// Export is the structured interview result handed to the research and writing agents.
type Export struct {
	SessionID      string                    `json:"session_id" bson:"session_id"`
	Answers        map[string]ExportedAnswer `json:"answers" bson:"answers"`
	AggregateScore float64                   `json:"aggregate_score" bson:"aggregate_score"`
	QuestionsAsked int                       `json:"questions_asked" bson:"questions_asked"`
	CompletedAt    time.Time                 `json:"completed_at" bson:"completed_at"`
}

// TopicScore pairs a topic with the score of its best answer.
type TopicScore struct {
	Topic topic.Topic
	Score int
}

// AggregateFunc reduces per-topic scores to one interview score.
type AggregateFunc func(scores []TopicScore) float64

// Mean is the plain average of the per-topic scores.
func Mean(scores []TopicScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	total := 0
	for _, s := range scores {
		total += s.Score
	}
	return float64(total) / float64(len(scores))
}

// Weighted counts critical topics twice.
func Weighted(scores []TopicScore) float64 {
	var sum, weights float64
	for _, s := range scores {
		w := 1.0
		if s.Topic.Critical() {
			w = 2
		}
		sum += w * float64(s.Score)
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

// AggregateByName resolves the aggregate function named in configuration.
func AggregateByName(name string) (AggregateFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mean":
		return Mean, nil
	case "weighted":
		return Weighted, nil
	default:
		return nil, fmt.Errorf("unknown aggregate function %q", name)
	}
}

func buildExport(c *ConversationContext, catalog *topic.Catalog, aggregate AggregateFunc, now time.Time) *Export {
	answers := make(map[string]ExportedAnswer, len(c.CollectedAnswers))
	scores := make([]TopicScore, 0, len(c.CollectedAnswers))

	// Catalog order keeps the aggregate input deterministic.
	for _, t := range catalog.List() {
		a, ok := c.CollectedAnswers[t.ID]
		if !ok {
			continue
		}
		answers[t.ID] = ExportedAnswer{AnswerText: a.AnswerText, QualityScore: a.score()}
		scores = append(scores, TopicScore{Topic: t, Score: a.score()})
	}

	return &Export{
		SessionID:      c.SessionID,
		Answers:        answers,
		AggregateScore: aggregate(scores),
		QuestionsAsked: c.QuestionsAskedTotal,
		CompletedAt:    now,
	}
}
