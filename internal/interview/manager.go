package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/grant-interviewer/internal/logger"
	"github.com/spigell/grant-interviewer/internal/topic"
)

// Store persists conversation contexts. Save is an idempotent overwrite and
// Load returns ErrNotFound for unknown sessions.
type Store interface {
	Load(ctx context.Context, sessionID string) (*ConversationContext, error)
	Save(ctx context.Context, c *ConversationContext) error
}

// Archiver keeps finished interviews for analytics.
type Archiver interface {
	Archive(ctx context.Context, c *ConversationContext) error
}

// Notifier hands the final export to downstream consumers.
type Notifier interface {
	InterviewCompleted(ctx context.Context, result *Export) error
}

// Recorder receives interview counters.
type Recorder interface {
	InterviewStarted()
	QuestionAsked(topicID string)
	Fallback(kind string)
	InterviewFinished(status Status, aggregate float64)
}

// Config holds the tunables of the flow.
type Config struct {
	Budget Budget
	// IdleTimeout abandons in-progress interviews left unanswered for longer. Zero disables it.
	IdleTimeout time.Duration
	Aggregate   AggregateFunc
}

// Deps are the collaborators of the Manager. Archiver, Notifier, Recorder, Logger and Now are optional.
type Deps struct {
	Catalog   *topic.Catalog
	Evaluator Evaluator
	Questions QuestionGenerator
	Store     Store
	Archiver  Archiver
	Notifier  Notifier
	Recorder  Recorder
	Logger    *zap.Logger
	Now       func() time.Time
}

// StatusReport is a read-only view of a session.
type StatusReport struct {
	SessionID               string  `json:"session_id"`
	Status                  Status  `json:"status"`
	QuestionsAskedTotal     int     `json:"questions_asked_total"`
	QuestionsAskedThisTopic int     `json:"questions_asked_this_topic"`
	CurrentTopic            string  `json:"current_topic,omitempty"`
	PendingQuestion         string  `json:"pending_question,omitempty"`
	Result                  *Export `json:"result,omitempty"`
}

// Manager runs the adaptive interview for any number of independent sessions.
// Calls for the same session are serialized.
type Manager struct {
	catalog     *topic.Catalog
	evaluator   Evaluator
	questions   QuestionGenerator
	store       Store
	archiver    Archiver
	notifier    Notifier
	recorder    Recorder
	logger      *zap.Logger
	now         func() time.Time
	budget      Budget
	idleTimeout time.Duration
	aggregate   AggregateFunc

	locks sessionLocks
}

func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Catalog == nil || deps.Evaluator == nil || deps.Questions == nil || deps.Store == nil {
		return nil, errors.New("catalog, evaluator, question generator and store are required")
	}

	budget := cfg.Budget
	if budget.MinQuestions <= 0 {
		budget.MinQuestions = DefaultMinQuestions
	}
	if budget.MaxQuestions <= 0 {
		budget.MaxQuestions = DefaultMaxQuestions
	}
	if budget.MinQuestions > budget.MaxQuestions {
		return nil, fmt.Errorf("min questions (%d) exceeds max questions (%d)", budget.MinQuestions, budget.MaxQuestions)
	}
	if deps.Catalog.Len() < budget.MinQuestions {
		return nil, fmt.Errorf("catalog has %d topics, at least %d (min questions) are required", deps.Catalog.Len(), budget.MinQuestions)
	}

	aggregate := cfg.Aggregate
	if aggregate == nil {
		aggregate = Mean
	}

	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Manager{
		catalog:     deps.Catalog,
		evaluator:   deps.Evaluator,
		questions:   deps.Questions,
		store:       deps.Store,
		archiver:    deps.Archiver,
		notifier:    deps.Notifier,
		recorder:    recorder,
		logger:      logger.WithFields(deps.Logger, zap.String("component", "interview")),
		now:         now,
		budget:      budget,
		idleTimeout: cfg.IdleTimeout,
		aggregate:   aggregate,
		locks:       sessionLocks{locks: make(map[string]*sessionLock)},
	}, nil
}

// StartInterview opens a new interview and returns its first question.
// For an interview already in progress the pending question is returned again.
func (m *Manager) StartInterview(ctx context.Context, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", errors.New("session id is required")
	}

	unlock := m.locks.lock(sessionID)
	defer unlock()

	existing, err := m.load(ctx, sessionID)
	switch {
	case err == nil:
		if existing.Status != StatusInProgress {
			return "", fmt.Errorf("%w: session %s is %s", ErrInvalidState, sessionID, existing.Status)
		}
		if q, ok := existing.PendingQuestion(); ok {
			return q, nil
		}
		return "", fmt.Errorf("%w: session %s has no pending question", ErrInvalidState, sessionID)
	case !errors.Is(err, ErrNotFound):
		return "", err
	}

	c := NewContext(sessionID, m.now())
	first, _ := m.catalog.At(0)

	q, err := m.ask(ctx, c, first, "")
	if err != nil {
		return "", err
	}

	if err := m.save(ctx, c); err != nil {
		return "", err
	}

	m.recorder.InterviewStarted()
	m.logger.Info("interview started", logger.SessionFields(sessionID, first.ID)...)

	return q, nil
}

// SubmitAnswer feeds the user's reply to the pending question into the flow.
// Nothing is recorded unless the resulting state was persisted.
func (m *Manager) SubmitAnswer(ctx context.Context, sessionID, answer string) (NextAction, error) {
	unlock := m.locks.lock(sessionID)
	defer unlock()

	c, err := m.load(ctx, sessionID)
	if err != nil {
		return NextAction{}, err
	}

	switch c.Status {
	case StatusInProgress:
	case StatusFinalizing:
		// A crash between the two finalization writes left the session here.
		return m.finish(ctx, c)
	default:
		return NextAction{}, fmt.Errorf("%w: session %s is %s", ErrInvalidState, sessionID, c.Status)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return NextAction{}, ErrEmptyAnswer
	}

	if m.idleTimeout > 0 && m.now().Sub(c.UpdatedAt) > m.idleTimeout {
		if err := m.abandon(ctx, c, "idle timeout"); err != nil {
			return NextAction{}, err
		}
		return NextAction{}, fmt.Errorf("%w: session %s abandoned after %s of inactivity", ErrInvalidState, sessionID, m.idleTimeout)
	}

	action, err := m.step(ctx, c, answer)
	if err != nil {
		return NextAction{}, err
	}

	if action.Kind == ActionFinalize {
		return m.finish(ctx, c)
	}

	c.UpdatedAt = m.now()
	if err := m.save(ctx, c); err != nil {
		return NextAction{}, err
	}

	return action, nil
}

// AbandonInterview stops an in-progress interview. Recorded answers are kept.
func (m *Manager) AbandonInterview(ctx context.Context, sessionID string) error {
	unlock := m.locks.lock(sessionID)
	defer unlock()

	c, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}

	switch c.Status {
	case StatusAbandoned:
		return nil
	case StatusInProgress:
		return m.abandon(ctx, c, "cancelled")
	default:
		return fmt.Errorf("%w: session %s is %s", ErrInvalidState, sessionID, c.Status)
	}
}

// Status reports the progress of a session without changing it.
func (m *Manager) Status(ctx context.Context, sessionID string) (StatusReport, error) {
	c, err := m.load(ctx, sessionID)
	if err != nil {
		return StatusReport{}, err
	}

	report := StatusReport{
		SessionID:               c.SessionID,
		Status:                  c.Status,
		QuestionsAskedTotal:     c.QuestionsAskedTotal,
		QuestionsAskedThisTopic: c.QuestionsAskedThisTopic,
		Result:                  c.Result,
	}
	if t, ok := m.catalog.At(c.CurrentTopicIndex); ok {
		report.CurrentTopic = t.ID
	}
	if c.Status == StatusInProgress {
		report.PendingQuestion, _ = c.PendingQuestion()
	}

	return report, nil
}

// finish persists the finalizing state, completes the interview and persists again.
func (m *Manager) finish(ctx context.Context, c *ConversationContext) (NextAction, error) {
	c.UpdatedAt = m.now()
	if err := m.save(ctx, c); err != nil {
		return NextAction{}, err
	}

	result, err := m.complete(c)
	if err != nil {
		return NextAction{}, err
	}

	c.UpdatedAt = m.now()
	if err := m.save(ctx, c); err != nil {
		return NextAction{}, err
	}

	m.recorder.InterviewFinished(StatusCompleted, result.AggregateScore)

	log := logger.WithFields(m.logger, logger.SessionFields(c.SessionID, "")...)
	log.Info("interview completed",
		zap.Int("questions_total", c.QuestionsAskedTotal),
		zap.Int("topics_answered", len(result.Answers)),
		zap.Float64("aggregate_score", result.AggregateScore),
	)

	m.handOff(ctx, c, log)

	return Finalize(result), nil
}

// handOff archives and publishes a completed interview. Failures are logged only,
// the result is already durable in the session store.
func (m *Manager) handOff(ctx context.Context, c *ConversationContext, log *zap.Logger) {
	if m.archiver != nil {
		if err := m.archiver.Archive(ctx, c); err != nil {
			log.Warn("archiving interview failed", zap.Error(err))
		}
	}

	if m.notifier != nil && c.Result != nil {
		if err := m.notifier.InterviewCompleted(ctx, c.Result); err != nil {
			log.Warn("publishing interview result failed", zap.Error(err))
		}
	}
}

func (m *Manager) abandon(ctx context.Context, c *ConversationContext, reason string) error {
	if err := c.transition(StatusAbandoned); err != nil {
		return err
	}
	c.UpdatedAt = m.now()

	if err := m.save(ctx, c); err != nil {
		return err
	}

	m.recorder.InterviewFinished(StatusAbandoned, 0)

	log := logger.WithFields(m.logger, logger.SessionFields(c.SessionID, "")...)
	log.Info("interview abandoned",
		zap.String("reason", reason),
		zap.Int("questions_total", c.QuestionsAskedTotal),
	)

	if m.archiver != nil {
		if err := m.archiver.Archive(ctx, c); err != nil {
			log.Warn("archiving interview failed", zap.Error(err))
		}
	}

	return nil
}

func (m *Manager) load(ctx context.Context, sessionID string) (*ConversationContext, error) {
	c, err := m.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("%w: loading session %s: %w", ErrPersistence, sessionID, err)
	}
	return c, nil
}

func (m *Manager) save(ctx context.Context, c *ConversationContext) error {
	if err := m.store.Save(ctx, c); err != nil {
		m.logger.Error("saving interview failed",
			append(logger.SessionFields(c.SessionID, ""), zap.String("status", string(c.Status)), zap.Error(err))...,
		)
		return fmt.Errorf("%w: saving session %s: %w", ErrPersistence, c.SessionID, err)
	}
	return nil
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()

	return func() {
		sl.mu.Unlock()

		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

type nopRecorder struct{}

func (nopRecorder) InterviewStarted()                  {}
func (nopRecorder) QuestionAsked(string)               {}
func (nopRecorder) Fallback(string)                    {}
func (nopRecorder) InterviewFinished(Status, float64) {}
