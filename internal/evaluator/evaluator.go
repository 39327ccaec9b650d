// Package evaluator scores interview answers with a language model.
package evaluator

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/grant-interviewer/internal/ai"
	"github.com/spigell/grant-interviewer/internal/interview"
	"github.com/spigell/grant-interviewer/internal/logger"
	"github.com/spigell/grant-interviewer/internal/topic"
	"github.com/spigell/grant-interviewer/internal/utils"
)

// ErrEvaluation wraps the cause when an answer could not be evaluated at all.
var ErrEvaluation = errors.New("evaluation failure")

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxAnswerRunes = 4000
	defaultMaxLogLength   = 200

	minScore = 1
	maxScore = 10
)

var responseSchema = ai.Schema{
	Properties: map[string]ai.Property{
		"score":          {Type: ai.TypeInteger, Description: "answer quality from 1 to 10"},
		"follow_up_hint": {Type: ai.TypeString, Description: "the missing detail to ask about next, empty when the answer is sufficient"},
	},
	Required: []string{"score"},
}

type Options struct {
	Policy ai.Policy
	// MaxAnswerRunes limits every answer embedded in the prompt.
	MaxAnswerRunes int
	MaxLogLength   int
}

// Evaluator scores answers and fails open: when the model cannot produce a
// verdict the answer is accepted at the topic threshold.
type Evaluator struct {
	completer ai.Completer
	policy    ai.Policy
	maxRunes  int
	maxLogLen int
	logger    *zap.Logger
}

func New(completer ai.Completer, opts Options, log *zap.Logger) *Evaluator {
	if opts.MaxAnswerRunes <= 0 {
		opts.MaxAnswerRunes = defaultMaxAnswerRunes
	}
	if opts.MaxLogLength <= 0 {
		opts.MaxLogLength = defaultMaxLogLength
	}

	return &Evaluator{
		completer: completer,
		policy:    opts.Policy.WithDefaults(),
		maxRunes:  opts.MaxAnswerRunes,
		maxLogLen: opts.MaxLogLength,
		logger:    logger.WithFields(log, zap.String("component", "evaluator")),
	}
}

type verdict struct {
	Score        float64 `mapstructure:"score"`
	FollowUpHint string  `mapstructure:"follow_up_hint"`
}

// Evaluate scores answer against t. The error is non-nil only when ctx ends.
func (e *Evaluator) Evaluate(ctx context.Context, t topic.Topic, answer string, prior []interview.Answer) (interview.Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return interview.Evaluation{}, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}

	log := logger.WithFields(e.logger, zap.String(logger.FieldTopic, t.ID))
	prompt := e.buildPrompt(t, answer, prior)

	log.Debug("evaluation request",
		zap.Int("prompt_length", len([]rune(prompt))),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, e.maxLogLen)),
	)

	var result verdict
	attempts := 0
	err := e.policy.Retry(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt

		data, err := e.completer.Complete(ctx, prompt, responseSchema)
		if err != nil {
			log.Debug("evaluation attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}

		v, err := decodeVerdict(data)
		if err != nil {
			log.Debug("evaluation response rejected", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		result = v
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			return interview.Evaluation{}, fmt.Errorf("%w: %w", ErrEvaluation, err)
		}

		log.Warn("answer evaluation failed, accepting answer at topic threshold",
			zap.Int("attempts", attempts),
			zap.Int("threshold", t.MinimumQualityScore),
			zap.Error(err),
		)
		return interview.Evaluation{
			Score:      t.MinimumQualityScore,
			Sufficient: true,
			FailedOpen: true,
		}, nil
	}

	score := clamp(int(math.Round(result.Score)))
	eval := interview.Evaluation{
		Score:      score,
		Sufficient: score >= t.MinimumQualityScore,
	}
	if !eval.Sufficient {
		eval.FollowUpHint = utils.SanitizeForPrompt(result.FollowUpHint, 300)
	}

	log.Debug("answer evaluated",
		zap.Int("score", eval.Score),
		zap.Bool("sufficient", eval.Sufficient),
		zap.String("follow_up_hint", eval.FollowUpHint),
	)

	return eval, nil
}

func (e *Evaluator) buildPrompt(t topic.Topic, answer string, prior []interview.Answer) string {
	focus := "- none listed"
	if len(t.FocusAreas) > 0 {
		focus = "- " + strings.Join(t.FocusAreas, "\n- ")
	}

	previous := "none"
	if len(prior) > 0 {
		var b strings.Builder
		for i, a := range prior {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%d. %s", i+1, utils.SanitizeForPrompt(a.AnswerText, e.maxRunes))
		}
		previous = b.String()
	}

	return strings.NewReplacer(
		"{{TOPIC}}", t.DisplayName,
		"{{DESCRIPTION}}", t.Description,
		"{{FOCUS_AREAS}}", focus,
		"{{PRIOR_ANSWERS}}", previous,
		"{{ANSWER}}", utils.SanitizeForPrompt(answer, e.maxRunes),
		"{{THRESHOLD}}", strconv.Itoa(t.MinimumQualityScore),
	).Replace(promptTemplate)
}

func decodeVerdict(data map[string]any) (verdict, error) {
	var v verdict
	switch score := data["score"].(type) {
	case nil:
		return v, fmt.Errorf("%w: missing score", ai.ErrMalformedResponse)
	case float64, float32, int, int64, json.Number:
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(score), 64)
		if err != nil {
			return v, fmt.Errorf("%w: score %q is not a number", ai.ErrMalformedResponse, score)
		}
		data = maps.Clone(data)
		data["score"] = parsed
	default:
		return v, fmt.Errorf("%w: score has type %T", ai.ErrMalformedResponse, score)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &v,
	})
	if err != nil {
		return v, err
	}
	if err := decoder.Decode(data); err != nil {
		return v, fmt.Errorf("%w: %v", ai.ErrMalformedResponse, err)
	}
	if math.IsNaN(v.Score) || math.IsInf(v.Score, 0) {
		return v, fmt.Errorf("%w: score is not a number", ai.ErrMalformedResponse)
	}

	return v, nil
}

func clamp(score int) int {
	return min(max(score, minScore), maxScore)
}
