package interview

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

func (s Status) canMoveTo(next Status) bool {
	switch s {
	case StatusInProgress:
		return next == StatusFinalizing || next == StatusAbandoned
	case StatusFinalizing:
		return next == StatusCompleted
	default:
		return false
	}
}

type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleUser        Role = "user"
)

// DialogEntry is one line of the append-only conversation transcript.
type DialogEntry struct {
	Role      Role      `json:"role" bson:"role"`
	Text      string    `json:"text" bson:"text"`
	TopicID   string    `json:"topic_id" bson:"topic_id"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Answer is one user reply to one question. Score fields stay nil until evaluated.
type Answer struct {
	TopicID      string    `json:"topic_id" bson:"topic_id"`
	QuestionText string    `json:"question_text" bson:"question_text"`
	AnswerText   string    `json:"answer_text" bson:"answer_text"`
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
	QualityScore *int      `json:"quality_score,omitempty" bson:"quality_score,omitempty"`
	IsSufficient *bool     `json:"is_sufficient,omitempty" bson:"is_sufficient,omitempty"`
	// FailedOpen marks a score defaulted because the evaluator was unavailable.
	FailedOpen bool `json:"failed_open,omitempty" bson:"failed_open,omitempty"`
}

func (a Answer) score() int {
	if a.QualityScore == nil {
		return 0
	}
	return *a.QualityScore
}

// ConversationContext is the state of one interview session.
type ConversationContext struct {
	SessionID               string            `json:"session_id" bson:"_id"`
	CurrentTopicIndex       int               `json:"current_topic_index" bson:"current_topic_index"`
	QuestionsAskedThisTopic int               `json:"questions_asked_this_topic" bson:"questions_asked_this_topic"`
	QuestionsAskedTotal     int               `json:"questions_asked_total" bson:"questions_asked_total"`
	CollectedAnswers        map[string]Answer `json:"collected_answers" bson:"collected_answers"`
	Answers                 []Answer          `json:"answers" bson:"answers"`
	DialogHistory           []DialogEntry     `json:"dialog_history" bson:"dialog_history"`
	Status                  Status            `json:"status" bson:"status"`
	Result                  *Export           `json:"result,omitempty" bson:"result,omitempty"`
	CreatedAt               time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt               time.Time         `json:"updated_at" bson:"updated_at"`
}

// NewSessionID returns a random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// NewContext creates an in-progress context positioned at the first topic.
func NewContext(sessionID string, now time.Time) *ConversationContext {
	return &ConversationContext{
		SessionID:        sessionID,
		CollectedAnswers: make(map[string]Answer),
		Answers:          []Answer{},
		DialogHistory:    []DialogEntry{},
		Status:           StatusInProgress,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (c *ConversationContext) transition(next Status) error {
	if !c.Status.canMoveTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, c.Status, next)
	}
	c.Status = next
	return nil
}

// PendingQuestion returns the last question when it has not been answered yet.
func (c *ConversationContext) PendingQuestion() (string, bool) {
	if len(c.DialogHistory) == 0 {
		return "", false
	}
	last := c.DialogHistory[len(c.DialogHistory)-1]
	if last.Role != RoleInterviewer {
		return "", false
	}
	return last.Text, true
}

// AnswersFor returns the evaluated answers given for a topic, oldest first.
func (c *ConversationContext) AnswersFor(topicID string) []Answer {
	var out []Answer
	for _, a := range c.Answers {
		if a.TopicID == topicID {
			out = append(out, a)
		}
	}
	return out
}

// recordAnswer stores an evaluated answer and keeps the best one per topic.
// Ties keep the earlier answer.
func (c *ConversationContext) recordAnswer(a Answer) {
	c.Answers = append(c.Answers, a)

	if c.CollectedAnswers == nil {
		c.CollectedAnswers = make(map[string]Answer)
	}
	best, ok := c.CollectedAnswers[a.TopicID]
	if !ok || a.score() > best.score() {
		c.CollectedAnswers[a.TopicID] = a
	}
}

func (c *ConversationContext) appendDialog(role Role, text, topicID string, at time.Time) {
	c.DialogHistory = append(c.DialogHistory, DialogEntry{
		Role:      role,
		Text:      text,
		TopicID:   topicID,
		Timestamp: at,
	})
}
