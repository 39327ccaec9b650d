// Package question writes interview questions with a language model and falls
// back to the topic's static question bank when the model fails.
package question

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/grant-interviewer/internal/ai"
	"github.com/spigell/grant-interviewer/internal/interview"
	"github.com/spigell/grant-interviewer/internal/logger"
	"github.com/spigell/grant-interviewer/internal/topic"
	"github.com/spigell/grant-interviewer/internal/utils"
)

// ErrGeneration wraps the cause when no question could be produced at all.
var ErrGeneration = errors.New("generation failure")

//go:embed prompt.md
var promptTemplate string

const (
	defaultHistoryEntries = 6
	defaultMaxAnswerRunes = 1000
	defaultMaxLogLength   = 200
	maxQuestionRunes      = 500
)

var responseSchema = ai.Schema{
	Properties: map[string]ai.Property{
		"question": {Type: ai.TypeString, Description: "the next interview question"},
	},
	Required: []string{"question"},
}

type Options struct {
	Policy ai.Policy
	// HistoryEntries is how many of the latest dialog lines go into the prompt.
	HistoryEntries int
	MaxAnswerRunes int
	MaxLogLength   int
}

type Generator struct {
	completer ai.Completer
	policy    ai.Policy
	history   int
	maxRunes  int
	maxLogLen int
	logger    *zap.Logger
}

func New(completer ai.Completer, opts Options, log *zap.Logger) *Generator {
	if opts.HistoryEntries <= 0 {
		opts.HistoryEntries = defaultHistoryEntries
	}
	if opts.MaxAnswerRunes <= 0 {
		opts.MaxAnswerRunes = defaultMaxAnswerRunes
	}
	if opts.MaxLogLength <= 0 {
		opts.MaxLogLength = defaultMaxLogLength
	}

	return &Generator{
		completer: completer,
		policy:    opts.Policy.WithDefaults(),
		history:   opts.HistoryEntries,
		maxRunes:  opts.MaxAnswerRunes,
		maxLogLen: opts.MaxLogLength,
		logger:    logger.WithFields(log, zap.String("component", "question")),
	}
}

type generated struct {
	Question string `mapstructure:"question"`
}

// Generate returns the next question for t. A non-empty hint steers a follow-up.
// The error is non-nil only when ctx ends.
func (g *Generator) Generate(ctx context.Context, t topic.Topic, c *interview.ConversationContext, hint string) (interview.Question, error) {
	if err := ctx.Err(); err != nil {
		return interview.Question{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	log := logger.WithFields(g.logger, logger.SessionFields(c.SessionID, t.ID)...)
	prompt := g.buildPrompt(t, c, hint)

	log.Debug("question request",
		zap.Int("prompt_length", len([]rune(prompt))),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, g.maxLogLen)),
	)

	var text string
	attempts := 0
	err := g.policy.Retry(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt

		data, err := g.completer.Complete(ctx, prompt, responseSchema)
		if err != nil {
			log.Debug("question attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}

		q, err := decodeQuestion(data)
		if err != nil {
			log.Debug("question response rejected", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		text = q
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			return interview.Question{}, fmt.Errorf("%w: %w", ErrGeneration, err)
		}

		fallback := t.FallbackQuestion(c.QuestionsAskedThisTopic)
		log.Warn("question generation failed, using fallback question",
			zap.Int("attempts", attempts),
			zap.Int("question_number", c.QuestionsAskedThisTopic+1),
			zap.Error(err),
		)
		return interview.Question{Text: fallback, Fallback: true}, nil
	}

	return interview.Question{Text: text}, nil
}

func (g *Generator) buildPrompt(t topic.Topic, c *interview.ConversationContext, hint string) string {
	focus := "- none listed"
	if len(t.FocusAreas) > 0 {
		focus = "- " + strings.Join(t.FocusAreas, "\n- ")
	}

	followUp := "This is the opening question of the topic."
	if hint = utils.SanitizeForPrompt(hint, g.maxRunes); hint != "" {
		followUp = "The last answer on this topic was incomplete. The new question must ask about: " + hint
	}

	return strings.NewReplacer(
		"{{TOPIC}}", t.DisplayName,
		"{{DESCRIPTION}}", t.Description,
		"{{FOCUS_AREAS}}", focus,
		"{{EARLIER_ANSWERS}}", g.earlierAnswers(t, c),
		"{{HISTORY}}", g.recentHistory(c),
		"{{FOLLOW_UP}}", followUp,
	).Replace(promptTemplate)
}

// earlierAnswers lists the best answer of every other topic in the order the topics were discussed.
func (g *Generator) earlierAnswers(t topic.Topic, c *interview.ConversationContext) string {
	var b strings.Builder
	seen := make(map[string]bool)

	for _, a := range c.Answers {
		if a.TopicID == t.ID || seen[a.TopicID] {
			continue
		}
		seen[a.TopicID] = true

		best, ok := c.CollectedAnswers[a.TopicID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", a.TopicID, utils.SanitizeForPrompt(best.AnswerText, g.maxRunes))
	}

	if b.Len() == 0 {
		return "nothing yet"
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (g *Generator) recentHistory(c *interview.ConversationContext) string {
	entries := c.DialogHistory
	if len(entries) > g.history {
		entries = entries[len(entries)-g.history:]
	}
	if len(entries) == 0 {
		return "the interview has just started"
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s: %s", e.Role, utils.SanitizeForPrompt(e.Text, g.maxRunes)))
	}
	return strings.Join(lines, "\n")
}

func decodeQuestion(data map[string]any) (string, error) {
	var q generated
	if err := mapstructure.WeakDecode(data, &q); err != nil {
		return "", fmt.Errorf("%w: %v", ai.ErrMalformedResponse, err)
	}

	text := utils.SanitizeForPrompt(q.Question, maxQuestionRunes)
	if text == "" {
		return "", fmt.Errorf("%w: empty question", ai.ErrMalformedResponse)
	}
	return text, nil
}
