package ai

import (
	"context"
	"errors"
)

var (
	// ErrTimeout is returned when the model did not answer within the call deadline.
	ErrTimeout = errors.New("llm call timed out")
	// ErrMalformedResponse is returned when the model output does not match the expected schema.
	ErrMalformedResponse = errors.New("malformed llm response")
	// ErrUnavailable is returned when no model is configured or the provider refused the call.
	ErrUnavailable = errors.New("llm unavailable")
)

type PropertyType string

const (
	TypeString  PropertyType = "string"
	TypeInteger PropertyType = "integer"
	TypeNumber  PropertyType = "number"
	TypeBoolean PropertyType = "boolean"
)

// Property describes one top-level field of a structured response.
type Property struct {
	Type        PropertyType
	Description string
}

// Schema is the flat JSON object shape a caller expects back from the model.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// Completer sends a prompt to a language model and returns the decoded JSON object.
type Completer interface {
	Complete(ctx context.Context, prompt string, schema Schema) (map[string]any, error)
}
