package interview

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/grant-interviewer/internal/logger"
	"github.com/spigell/grant-interviewer/internal/topic"
)

// Evaluation is the verdict on one answer.
type Evaluation struct {
	Score        int
	Sufficient   bool
	FollowUpHint string
	// FailedOpen is set when the score is the topic threshold defaulted after evaluator failures.
	FailedOpen bool
}

// Evaluator scores an answer against a topic. It returns an error only when ctx is done.
type Evaluator interface {
	Evaluate(ctx context.Context, t topic.Topic, answer string, prior []Answer) (Evaluation, error)
}

// Question is the text of the next question to ask.
type Question struct {
	Text string
	// Fallback is set when the text came from the topic's static bank.
	Fallback bool
}

// QuestionGenerator produces the next question for a topic. It returns an error only when ctx is done.
type QuestionGenerator interface {
	Generate(ctx context.Context, t topic.Topic, c *ConversationContext, hint string) (Question, error)
}

// Budget bounds the interview length.
type Budget struct {
	// MinQuestions must be asked before the interview may skip the remaining optional topics.
	MinQuestions int
	// MaxQuestions caps the whole interview.
	MaxQuestions int
}

const (
	DefaultMinQuestions = 8
	DefaultMaxQuestions = 30
)

type ActionKind string

const (
	ActionAskQuestion ActionKind = "ask_question"
	ActionFinalize    ActionKind = "finalize"
)

// NextAction tells the chat transport what to do after an answer.
type NextAction struct {
	Kind     ActionKind `json:"action"`
	Question string     `json:"question,omitempty"`
	Result   *Export    `json:"result,omitempty"`
}

func AskQuestion(text string) NextAction {
	return NextAction{Kind: ActionAskQuestion, Question: text}
}

func Finalize(result *Export) NextAction {
	return NextAction{Kind: ActionFinalize, Result: result}
}

// ask generates a question for t and records it as pending.
func (m *Manager) ask(ctx context.Context, c *ConversationContext, t topic.Topic, hint string) (string, error) {
	q, err := m.questions.Generate(ctx, t, c, hint)
	if err != nil {
		return "", fmt.Errorf("generating question for %s: %w", t.ID, err)
	}
	if q.Fallback {
		m.recorder.Fallback("generation")
	}

	c.QuestionsAskedThisTopic++
	c.QuestionsAskedTotal++
	c.appendDialog(RoleInterviewer, q.Text, t.ID, m.now())
	m.recorder.QuestionAsked(t.ID)

	return q.Text, nil
}

// step consumes one answer and moves the state machine. On error c must be discarded.
func (m *Manager) step(ctx context.Context, c *ConversationContext, text string) (NextAction, error) {
	current, ok := m.catalog.At(c.CurrentTopicIndex)
	if !ok {
		return NextAction{}, fmt.Errorf("%w: topic index %d is past the catalog", ErrInvalidState, c.CurrentTopicIndex)
	}

	log := logger.WithFields(m.logger, logger.SessionFields(c.SessionID, current.ID)...)

	question, _ := c.PendingQuestion()
	answeredAt := m.now()
	c.appendDialog(RoleUser, text, current.ID, answeredAt)

	eval, err := m.evaluator.Evaluate(ctx, current, text, c.AnswersFor(current.ID))
	if err != nil {
		return NextAction{}, fmt.Errorf("evaluating answer: %w", err)
	}
	if eval.FailedOpen {
		m.recorder.Fallback("evaluation")
	}

	score, sufficient := eval.Score, eval.Sufficient
	c.recordAnswer(Answer{
		TopicID:      current.ID,
		QuestionText: question,
		AnswerText:   text,
		Timestamp:    answeredAt,
		QualityScore: &score,
		IsSufficient: &sufficient,
		FailedOpen:   eval.FailedOpen,
	})

	log.Debug("answer evaluated",
		zap.Int("score", score),
		zap.Bool("sufficient", sufficient),
		zap.Int("questions_this_topic", c.QuestionsAskedThisTopic),
		zap.Int("questions_total", c.QuestionsAskedTotal),
	)

	if !sufficient && c.QuestionsAskedThisTopic < current.MaxQuestions && c.QuestionsAskedTotal < m.budget.MaxQuestions {
		q, err := m.ask(ctx, c, current, eval.FollowUpHint)
		if err != nil {
			return NextAction{}, err
		}
		return AskQuestion(q), nil
	}

	if !sufficient {
		log.Info("question budget reached, accepting best answer",
			zap.Int("best_score", c.CollectedAnswers[current.ID].score()),
			zap.Int("threshold", current.MinimumQualityScore),
		)
	}

	c.CurrentTopicIndex++
	c.QuestionsAskedThisTopic = 0

	if m.shouldFinalize(c) {
		if err := c.transition(StatusFinalizing); err != nil {
			return NextAction{}, err
		}
		return NextAction{Kind: ActionFinalize}, nil
	}

	next, _ := m.catalog.At(c.CurrentTopicIndex)
	q, err := m.ask(ctx, c, next, "")
	if err != nil {
		return NextAction{}, err
	}
	return AskQuestion(q), nil
}

func (m *Manager) shouldFinalize(c *ConversationContext) bool {
	if c.CurrentTopicIndex >= m.catalog.Len() {
		return true
	}
	if c.QuestionsAskedTotal >= m.budget.MaxQuestions {
		return true
	}
	return c.QuestionsAskedTotal >= m.budget.MinQuestions && m.catalog.OnlyOptionalFrom(c.CurrentTopicIndex)
}

// complete builds the export and closes the interview. c must be finalizing.
func (m *Manager) complete(c *ConversationContext) (*Export, error) {
	export := buildExport(c, m.catalog, m.aggregate, m.now())
	if err := c.transition(StatusCompleted); err != nil {
		return nil, err
	}
	c.Result = export
	return export, nil
}
