package topic

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Priority string

const (
	PriorityCritical  Priority = "critical"
	PriorityImportant Priority = "important"
)

const (
	CriticalThreshold   = 7
	ImportantThreshold  = 6
	DefaultMaxQuestions = 5
)

// ErrNotFound is returned when an unknown topic id is requested.
var ErrNotFound = errors.New("topic not found")

//go:embed topics.yaml
var defaultCatalog []byte

// Topic describes one subject area the interview must cover.
type Topic struct {
	ID                  string   `yaml:"id" json:"id"`
	DisplayName         string   `yaml:"display_name" json:"display_name"`
	Priority            Priority `yaml:"priority" json:"priority"`
	MinimumQualityScore int      `yaml:"minimum_quality_score" json:"minimum_quality_score"`
	MaxQuestions        int      `yaml:"max_questions" json:"max_questions"`
	Description         string   `yaml:"description" json:"description"`
	FocusAreas          []string `yaml:"focus_areas" json:"focus_areas,omitempty"`
	// FallbackQuestions are asked in order when no generated question is available.
	// The first one doubles as the opening question.
	FallbackQuestions []string `yaml:"fallback_questions" json:"fallback_questions"`
}

// Critical reports whether the topic must be covered before the interview may finish early.
func (t Topic) Critical() bool {
	return t.Priority == PriorityCritical
}

// FallbackQuestion returns the pre-written question for the n-th question of the topic (0-based).
// Past the end of the bank the last question is reused.
func (t Topic) FallbackQuestion(n int) string {
	if len(t.FallbackQuestions) == 0 {
		return fmt.Sprintf("Tell me more about %s.", strings.ToLower(t.DisplayName))
	}
	if n < 0 {
		n = 0
	}
	if n >= len(t.FallbackQuestions) {
		n = len(t.FallbackQuestions) - 1
	}
	return t.FallbackQuestions[n]
}

// Catalog is the ordered, read-only list of interview topics.
type Catalog struct {
	topics []Topic
	index  map[string]int
}

type catalogFile struct {
	Topics []Topic `yaml:"topics"`
}

// Default returns the built-in twelve-topic grant catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded topic catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog from a YAML file.
func Load(filename string) (*Catalog, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading topics file %s: %w", filename, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("topics file %s: %w", filename, err)
	}

	return c, nil
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	return New(file.Topics)
}

// New validates the topics, fills defaults and builds a catalog preserving the given order.
func New(topics []Topic) (*Catalog, error) {
	if len(topics) == 0 {
		return nil, errors.New("catalog must contain at least one topic")
	}

	c := &Catalog{
		topics: make([]Topic, 0, len(topics)),
		index:  make(map[string]int, len(topics)),
	}

	for i, t := range topics {
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			return nil, fmt.Errorf("topic %d must have an id", i)
		}
		if _, dup := c.index[t.ID]; dup {
			return nil, fmt.Errorf("duplicate topic id %q", t.ID)
		}
		if t.DisplayName == "" {
			t.DisplayName = t.ID
		}

		switch t.Priority {
		case PriorityCritical, PriorityImportant:
		case "":
			t.Priority = PriorityImportant
		default:
			return nil, fmt.Errorf("topic %q has unknown priority %q", t.ID, t.Priority)
		}

		if t.MinimumQualityScore == 0 {
			t.MinimumQualityScore = ImportantThreshold
			if t.Critical() {
				t.MinimumQualityScore = CriticalThreshold
			}
		}
		if t.MinimumQualityScore < 1 || t.MinimumQualityScore > 10 {
			return nil, fmt.Errorf("topic %q minimum_quality_score must be within 1..10, got %d", t.ID, t.MinimumQualityScore)
		}

		if t.MaxQuestions == 0 {
			t.MaxQuestions = DefaultMaxQuestions
		}
		if t.MaxQuestions < 1 {
			return nil, fmt.Errorf("topic %q max_questions must be positive, got %d", t.ID, t.MaxQuestions)
		}

		c.index[t.ID] = len(c.topics)
		c.topics = append(c.topics, t)
	}

	return c, nil
}

// List returns the topics in interview order.
func (c *Catalog) List() []Topic {
	out := make([]Topic, len(c.topics))
	copy(out, c.topics)
	return out
}

// Get returns the topic with the given id.
func (c *Catalog) Get(id string) (Topic, error) {
	i, ok := c.index[id]
	if !ok {
		return Topic{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.topics[i], nil
}

// At returns the topic at the given position and false when the position is past the end.
func (c *Catalog) At(i int) (Topic, bool) {
	if i < 0 || i >= len(c.topics) {
		return Topic{}, false
	}
	return c.topics[i], true
}

func (c *Catalog) Len() int {
	return len(c.topics)
}

// OnlyOptionalFrom reports whether every topic from position i onward is non-critical.
func (c *Catalog) OnlyOptionalFrom(i int) bool {
	for j := max(i, 0); j < len(c.topics); j++ {
		if c.topics[j].Critical() {
			return false
		}
	}
	return true
}
