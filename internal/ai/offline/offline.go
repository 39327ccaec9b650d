// Package offline provides a Completer for running interviews without a language model.
// Every call fails with ai.ErrUnavailable, so evaluation fails open and questions come
// from the static fallback bank.
package offline

import (
	"context"
	"fmt"

	"github.com/spigell/grant-interviewer/internal/ai"
)

type Completer struct{}

func New() *Completer {
	return &Completer{}
}

func (c *Completer) Complete(ctx context.Context, _ string, _ ai.Schema) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: offline mode", ai.ErrUnavailable)
}
